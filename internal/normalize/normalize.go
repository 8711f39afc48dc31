// Package normalize implements the Event Normalizer (C1): parsing raw log
// lines (or already-structured records) into the common model.Event schema.
//
// Parsers are tried in a fixed order and the first match wins: firewall
// key=value, SSH auth-failure, web access (combined-log style), structured
// JSON fallback. An unparseable line yields (nil, false) — the caller
// discards it; a parser panic is never allowed to propagate (Normalize
// recovers around each parser call so one malformed line cannot poison the
// ingest pipeline).
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/siemstream/internal/model"
)

// Resolver performs best-effort reverse-DNS lookups. Failures must return
// ("", error) and never panic — the normalizer treats any error as "no
// hostname available" and proceeds.
type Resolver interface {
	ReverseLookup(ip string) (hostname string, err error)
}

// GeoLookup performs best-effort GeoIP lookups.
type GeoLookup interface {
	Lookup(ip string) (country, region, city string, err error)
}

// noopResolver and noopGeo are used when no enrichment backend is
// installed via WithResolver/WithGeoLookup — every lookup is a silent no-op.
type noopResolver struct{}

func (noopResolver) ReverseLookup(string) (string, error) { return "", nil }

type noopGeo struct{}

func (noopGeo) Lookup(string) (string, string, string, error) { return "", "", "", nil }

// Normalizer holds the enrichment backends and logger shared by every
// parser invocation.
type Normalizer struct {
	resolver Resolver
	geo      GeoLookup
	log      *zap.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithResolver installs a reverse-DNS backend. Omit to disable lookups.
func WithResolver(r Resolver) Option { return func(n *Normalizer) { n.resolver = r } }

// WithGeoLookup installs a GeoIP backend. Omit to disable lookups.
func WithGeoLookup(g GeoLookup) Option { return func(n *Normalizer) { n.geo = g } }

// New constructs a Normalizer. Without WithResolver/WithGeoLookup,
// enrichment is a no-op — best-effort, never required.
func New(log *zap.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{resolver: noopResolver{}, geo: noopGeo{}, log: log}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// parser is tried, in order, against a raw line. Returns (event, true) on
// match, (nil, false) to fall through to the next parser.
type parser func(n *Normalizer, line string) (*model.Event, bool)

// parserChain is the fixed order every line is tried against: firewall
// key=value → SSH auth-failure → web access → structured JSON fallback.
var parserChain = []parser{
	(*Normalizer).parseFirewall,
	(*Normalizer).parseSSHAuth,
	(*Normalizer).parseWebAccess,
	(*Normalizer).parseJSON,
}

// Normalize parses a single raw log line into an Event. Returns (nil,
// false) if no parser matched — the caller discards the line. A panic
// inside any parser is recovered and treated as a non-match; the failure
// is logged but never propagates, contained to the single line.
func (n *Normalizer) Normalize(line string) (ev *model.Event, matched bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	for _, p := range parserChain {
		ev, matched = n.tryParser(p, line)
		if matched {
			n.finalize(ev, line)
			return ev, true
		}
	}
	return nil, false
}

func (n *Normalizer) tryParser(p parser, line string) (ev *model.Event, matched bool) {
	defer func() {
		if r := recover(); r != nil {
			if n.log != nil {
				n.log.Warn("normalize: parser panicked, line discarded",
					zap.Any("recover", r), zap.String("line", truncate(line, 200)))
			}
			ev, matched = nil, false
		}
	}()
	return p(n, line)
}

// NormalizeRecord accepts an already-structured record (the push endpoint's
// JSON-object path) and validates/passes it through, bypassing the
// line-oriented parsers entirely.
func (n *Normalizer) NormalizeRecord(raw map[string]any) (*model.Event, error) {
	ev, err := eventFromRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize.NormalizeRecord: %w", err)
	}
	n.finalize(ev, "")
	return ev, nil
}

// finalize applies the enrichment and totality invariants every parser
// shares: UTC "now" stamping for a missing timestamp, trimming, at-least-
// one-category, reverse-DNS/GeoIP best-effort enrichment, and raw-payload
// preservation.
func (n *Normalizer) finalize(ev *model.Event, line string) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	} else {
		ev.Timestamp = ev.Timestamp.UTC()
	}
	ev.SourceIP = model.CanonicalizeSourceIP(strings.TrimSpace(ev.SourceIP))
	if len(ev.Category) == 0 {
		ev.AddCategory("uncategorized")
	}
	if ev.Raw == nil {
		ev.Raw = map[string]any{}
	}
	if line != "" {
		ev.Raw["line"] = line
	}

	n.enrich(ev)
}

// enrich performs best-effort reverse-DNS and GeoIP lookups on source_ip.
// Failures leave the Raw fields absent and never raise.
func (n *Normalizer) enrich(ev *model.Event) {
	if ev.SourceIP == "" {
		return
	}
	if host, err := n.resolver.ReverseLookup(ev.SourceIP); err == nil && host != "" {
		ev.Raw["source_hostname"] = host
	}
	if country, region, city, err := n.geo.Lookup(ev.SourceIP); err == nil {
		if country != "" {
			ev.Raw["geo_country"] = country
		}
		if region != "" {
			ev.Raw["geo_region"] = region
		}
		if city != "" {
			ev.Raw["geo_city"] = city
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ─── SSH auth-failure parser ───────────────────────────────────────────────

// sshAuthFailurePattern mirrors parse_ssh_auth_log's regex exactly:
// "Failed password for <user> from <ip> port <port>".
var sshAuthFailurePattern = regexp.MustCompile(`Failed password for (\w+) from ([\d.]+) port (\d+)`)

func (n *Normalizer) parseSSHAuth(line string) (*model.Event, bool) {
	m := sshAuthFailurePattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	port, _ := strconv.Atoi(m[3])
	ev := &model.Event{
		Username:   m[1],
		SourceIP:   m[2],
		SourcePort: port,
		Outcome:    model.OutcomeFailure,
		Action:     "login",
		Message:    line,
	}
	ev.AddCategory("authentication")
	return ev, true
}

// ─── Web access parser ─────────────────────────────────────────────────────

// webAccessPattern mirrors parse_web_access_log's combined-log regex:
// `ip - - [date] "METHOD path HTTP/x.y" status size "ref" "agent"`.
var webAccessPattern = regexp.MustCompile(
	`([\d.]+) - - \[.*?\] "(GET|POST|PUT|DELETE) (\S+) HTTP/[\d.]+" (\d{3}) (\d+).*"([^"]*)"\s*$`,
)

func (n *Normalizer) parseWebAccess(line string) (*model.Event, bool) {
	m := webAccessPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	status, _ := strconv.Atoi(m[4])
	bodyBytes, _ := strconv.Atoi(m[5])

	ev := &model.Event{
		SourceIP:   m[1],
		HTTPMethod: m[2],
		URLPath:    m[3],
		HTTPStatus: status,
		UserAgent:  m[6],
		Action:     "request",
		Message:    line,
		Raw:        map[string]any{"body_bytes": bodyBytes},
	}
	if status >= 200 && status < 300 {
		ev.Outcome = model.OutcomeSuccess
	} else {
		ev.Outcome = model.OutcomeFailure
	}
	ev.AddCategory("web")
	return ev, true
}

// ─── Firewall key=value parser ─────────────────────────────────────────────

// parseFirewall extracts generic key=value tokens — action, src, dst,
// dport, proto — independent of their order on the line, implemented as
// a tokenizer rather than a fixed-order regex since field order varies,
// matching lines like:
//
//	action=DENY src=10.0.0.5 dst=192.168.1.10 dport=22 proto=tcp
func (n *Normalizer) parseFirewall(line string) (*model.Event, bool) {
	fields := map[string]string{}
	for _, tok := range strings.Fields(line) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" || v == "" {
			continue
		}
		fields[strings.ToLower(k)] = v
	}

	action, hasAction := fields["action"]
	src, hasSrc := fields["src"]
	if !hasAction || !hasSrc {
		return nil, false
	}

	ev := &model.Event{
		SourceIP: src,
		Action:   action,
		Outcome:  model.Outcome(strings.ToLower(action)),
		Protocol: fields["proto"],
		Message:  line,
	}
	if dst, ok := fields["dst"]; ok {
		ev.DestinationIP = dst
	}
	if dportStr, ok := fields["dport"]; ok {
		if dport, err := strconv.Atoi(dportStr); err == nil {
			ev.DestinationPort = dport
		}
	}
	ev.AddCategory("firewall")
	return ev, true
}

// ─── Structured JSON fallback ──────────────────────────────────────────────

func (n *Normalizer) parseJSON(line string) (*model.Event, bool) {
	if !strings.HasPrefix(line, "{") {
		return nil, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, false
	}
	ev, err := eventFromRecord(raw)
	if err != nil {
		if n.log != nil {
			n.log.Debug("normalize: structured JSON failed schema validation", zap.Error(err))
		}
		return nil, false
	}
	return ev, true
}

// eventFromRecord validates a generic record against the Event schema and
// passes it through, preserving the original payload in Raw. Accepts both
// a flat Event-shaped map and a nested ECS-like shape
// ({"event":{...},"source":{...},"user":{...}}).
func eventFromRecord(raw map[string]any) (*model.Event, error) {
	ev := &model.Event{Raw: raw}

	if ts, ok := stringField(raw, "timestamp"); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			ev.Timestamp = t
		}
	}

	if flatHasEventFields(raw) {
		populateFlat(ev, raw)
		return ev, nil
	}
	populateNested(ev, raw)
	return ev, nil
}

func flatHasEventFields(raw map[string]any) bool {
	_, hasCategory := raw["category"]
	_, hasSourceIP := raw["source_ip"]
	return hasCategory || hasSourceIP
}

func populateFlat(ev *model.Event, raw map[string]any) {
	if v, ok := stringField(raw, "source_ip"); ok {
		ev.SourceIP = v
	}
	if v, ok := stringField(raw, "destination_ip"); ok {
		ev.DestinationIP = v
	}
	if v, ok := stringField(raw, "username"); ok {
		ev.Username = v
	}
	if v, ok := stringField(raw, "host"); ok {
		ev.Host = v
	}
	if v, ok := stringField(raw, "outcome"); ok {
		ev.Outcome = model.Outcome(v)
	}
	if v, ok := stringField(raw, "action"); ok {
		ev.Action = v
	}
	if v, ok := stringField(raw, "message"); ok {
		ev.Message = v
	}
	if v, ok := stringField(raw, "protocol"); ok {
		ev.Protocol = v
	}
	if cats, ok := raw["category"].([]any); ok {
		for _, c := range cats {
			if s, ok := c.(string); ok {
				ev.AddCategory(s)
			}
		}
	}
}

func populateNested(ev *model.Event, raw map[string]any) {
	if m, ok := raw["message"].(string); ok {
		ev.Message = m
	}
	if src, ok := raw["source"].(map[string]any); ok {
		if ip, ok := stringField(src, "ip"); ok {
			ev.SourceIP = ip
		}
		if port, ok := src["port"].(float64); ok {
			ev.SourcePort = int(port)
		}
	}
	if user, ok := raw["user"].(map[string]any); ok {
		if name, ok := stringField(user, "name"); ok {
			ev.Username = name
		}
	}
	if host, ok := raw["host"].(map[string]any); ok {
		if hn, ok := stringField(host, "hostname"); ok {
			ev.Host = hn
		}
	}
	if evMap, ok := raw["event"].(map[string]any); ok {
		if o, ok := stringField(evMap, "outcome"); ok {
			ev.Outcome = model.Outcome(o)
		}
		if a, ok := stringField(evMap, "action"); ok {
			ev.Action = a
		}
		if cats, ok := evMap["category"].([]any); ok {
			for _, c := range cats {
				if s, ok := c.(string); ok {
					ev.AddCategory(s)
				}
			}
		}
	}
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok && v != ""
}
