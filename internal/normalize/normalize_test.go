package normalize

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/siemstream/internal/model"
)

func TestNormalize_FirewallLine(t *testing.T) {
	n := New(zap.NewNop())
	ev, ok := n.Normalize("action=DENY src=10.0.0.5 dst=192.168.1.10 dport=22 proto=tcp")
	if !ok {
		t.Fatal("expected the firewall parser to match")
	}
	if ev.SourceIP != "10.0.0.5" || ev.DestinationIP != "192.168.1.10" || ev.DestinationPort != 22 {
		t.Errorf("unexpected fields: %+v", ev)
	}
	if !ev.HasCategory("firewall") {
		t.Errorf("category = %v, want firewall", ev.Category)
	}
	if ev.Outcome != model.Outcome("deny") {
		t.Errorf("outcome = %q, want deny", ev.Outcome)
	}
}

func TestNormalize_SSHAuthFailure(t *testing.T) {
	n := New(zap.NewNop())
	ev, ok := n.Normalize("Failed password for root from 198.51.100.7 port 51234")
	if !ok {
		t.Fatal("expected the SSH auth-failure parser to match")
	}
	if ev.Username != "root" || ev.SourceIP != "198.51.100.7" || ev.SourcePort != 51234 {
		t.Errorf("unexpected fields: %+v", ev)
	}
	if ev.Outcome != model.OutcomeFailure {
		t.Errorf("outcome = %q, want failure", ev.Outcome)
	}
	if !ev.HasCategory("authentication") {
		t.Errorf("category = %v, want authentication", ev.Category)
	}
}

func TestNormalize_WebAccessLine(t *testing.T) {
	n := New(zap.NewNop())
	line := `203.0.113.5 - - [10/Oct/2026:13:55:36 -0700] "GET /index.html HTTP/1.1" 200 1024 "-" "curl/8.0"`
	ev, ok := n.Normalize(line)
	if !ok {
		t.Fatal("expected the web access parser to match")
	}
	if ev.SourceIP != "203.0.113.5" || ev.HTTPMethod != "GET" || ev.URLPath != "/index.html" || ev.HTTPStatus != 200 {
		t.Errorf("unexpected fields: %+v", ev)
	}
	if ev.Outcome != model.OutcomeSuccess {
		t.Errorf("a 200 status must map to outcome success, got %q", ev.Outcome)
	}
	if ev.UserAgent != "curl/8.0" {
		t.Errorf("user_agent = %q, want curl/8.0", ev.UserAgent)
	}
}

func TestNormalize_WebAccessLineFailureStatus(t *testing.T) {
	n := New(zap.NewNop())
	line := `203.0.113.5 - - [10/Oct/2026:13:55:36 -0700] "POST /login HTTP/1.1" 403 512 "-" "Mozilla/5.0"`
	ev, ok := n.Normalize(line)
	if !ok {
		t.Fatal("expected the web access parser to match")
	}
	if ev.Outcome != model.OutcomeFailure {
		t.Errorf("a 403 status must map to outcome failure, got %q", ev.Outcome)
	}
}

func TestNormalize_StructuredJSONFallback(t *testing.T) {
	n := New(zap.NewNop())
	line := `{"source_ip":"1.2.3.4","category":["authentication"],"outcome":"failure","username":"alice"}`
	ev, ok := n.Normalize(line)
	if !ok {
		t.Fatal("expected the JSON fallback parser to match")
	}
	if ev.SourceIP != "1.2.3.4" || ev.Username != "alice" || ev.Outcome != model.OutcomeFailure {
		t.Errorf("unexpected fields: %+v", ev)
	}
	if !ev.HasCategory("authentication") {
		t.Errorf("category = %v, want authentication", ev.Category)
	}
}

func TestNormalize_StructuredJSONNestedECSShape(t *testing.T) {
	n := New(zap.NewNop())
	line := `{"message":"login ok","source":{"ip":"5.6.7.8","port":443},"user":{"name":"carol"},"host":{"hostname":"web-01"},"event":{"outcome":"success","action":"login","category":["authentication"]}}`
	ev, ok := n.Normalize(line)
	if !ok {
		t.Fatal("expected the JSON fallback parser to match a nested record")
	}
	if ev.SourceIP != "5.6.7.8" || ev.SourcePort != 443 || ev.Username != "carol" || ev.Host != "web-01" {
		t.Errorf("unexpected fields: %+v", ev)
	}
	if ev.Outcome != model.OutcomeSuccess || ev.Action != "login" {
		t.Errorf("outcome/action = %q/%q", ev.Outcome, ev.Action)
	}
	if !ev.HasCategory("authentication") {
		t.Errorf("category = %v, want authentication", ev.Category)
	}
}

func TestNormalize_UnparseableLineIsDiscarded(t *testing.T) {
	n := New(zap.NewNop())
	ev, ok := n.Normalize("this line matches none of the known formats")
	if ok || ev != nil {
		t.Errorf("expected no match, got %+v", ev)
	}
}

func TestNormalize_BlankLineIsDiscarded(t *testing.T) {
	n := New(zap.NewNop())
	if _, ok := n.Normalize("   \t  "); ok {
		t.Error("a blank line must never match")
	}
}

func TestNormalize_ParserOrderFirewallWinsOverJSONLookingLine(t *testing.T) {
	// A line that happens to start with key=value tokens is tried against
	// the firewall parser first in the fixed chain; confirm it wins even
	// though it would also be syntactically valid JSON-ish garbage.
	n := New(zap.NewNop())
	ev, ok := n.Normalize("action=ALLOW src=10.1.1.1")
	if !ok {
		t.Fatal("expected the firewall parser to match first")
	}
	if !ev.HasCategory("firewall") {
		t.Errorf("expected the firewall parser's category, got %v", ev.Category)
	}
}

func TestNormalize_MissingTimestampStampedWithUTCNow(t *testing.T) {
	n := New(zap.NewNop())
	before := time.Now().UTC()
	ev, ok := n.Normalize("action=DENY src=10.0.0.5")
	if !ok {
		t.Fatal("expected a match")
	}
	after := time.Now().UTC()
	if ev.Timestamp.Before(before) || ev.Timestamp.After(after) {
		t.Errorf("timestamp %v not stamped within [%v, %v]", ev.Timestamp, before, after)
	}
	if ev.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp must be stamped in UTC, got location %v", ev.Timestamp.Location())
	}
}

func TestNormalize_DefaultCategoryWhenUncategorized(t *testing.T) {
	n := New(zap.NewNop())
	ev, ok := n.Normalize(`{"source_ip":"1.2.3.4"}`)
	if !ok {
		t.Fatal("expected a match")
	}
	if !ev.HasCategory("uncategorized") {
		t.Errorf("expected a default uncategorized category, got %v", ev.Category)
	}
}

func TestNormalize_SourceIPIsCanonicalized(t *testing.T) {
	n := New(zap.NewNop())
	ev, ok := n.Normalize("Failed password for root from 10.0.0.5 port 22")
	if !ok {
		t.Fatal("expected a match")
	}
	if ev.SourceIP != "10.0.0.5" {
		t.Errorf("source_ip = %q, want canonicalized 10.0.0.5", ev.SourceIP)
	}
}

func TestNormalize_PanicInParserIsContained(t *testing.T) {
	// Confirm that a directly panicking parser chain member cannot take
	// down Normalize by invoking tryParser with one: the panic is
	// recovered and reported as a non-match.
	n := New(zap.NewNop())
	panicParser := parser(func(_ *Normalizer, _ string) (*model.Event, bool) {
		panic("boom")
	})
	ev, ok := n.tryParser(panicParser, "irrelevant")
	if ok || ev != nil {
		t.Errorf("a panicking parser must be treated as a non-match, got (%v, %v)", ev, ok)
	}
}

func TestNormalize_RawLinePreserved(t *testing.T) {
	n := New(zap.NewNop())
	line := "action=DENY src=10.0.0.5"
	ev, ok := n.Normalize(line)
	if !ok {
		t.Fatal("expected a match")
	}
	if ev.Raw["line"] != line {
		t.Errorf("raw[line] = %v, want original line preserved", ev.Raw["line"])
	}
}

type stubResolver struct {
	host string
	err  error
}

func (s stubResolver) ReverseLookup(string) (string, error) { return s.host, s.err }

type stubGeo struct {
	country, region, city string
	err                   error
}

func (s stubGeo) Lookup(string) (string, string, string, error) {
	return s.country, s.region, s.city, s.err
}

func TestNormalize_EnrichmentPopulatesRawOnSuccess(t *testing.T) {
	n := New(zap.NewNop(),
		WithResolver(stubResolver{host: "gateway.internal"}),
		WithGeoLookup(stubGeo{country: "US", region: "CA", city: "Mountain View"}))
	ev, ok := n.Normalize("action=DENY src=10.0.0.5")
	if !ok {
		t.Fatal("expected a match")
	}
	if ev.Raw["source_hostname"] != "gateway.internal" {
		t.Errorf("source_hostname = %v", ev.Raw["source_hostname"])
	}
	if ev.Raw["geo_country"] != "US" || ev.Raw["geo_city"] != "Mountain View" {
		t.Errorf("geo fields not populated: %+v", ev.Raw)
	}
}

func TestNormalize_EnrichmentFailureIsSilent(t *testing.T) {
	n := New(zap.NewNop(),
		WithResolver(stubResolver{err: errors.New("lookup failed")}),
		WithGeoLookup(stubGeo{err: errors.New("lookup failed")}))
	ev, ok := n.Normalize("action=DENY src=10.0.0.5")
	if !ok {
		t.Fatal("expected a match")
	}
	if _, present := ev.Raw["source_hostname"]; present {
		t.Error("a failed reverse-DNS lookup must not populate source_hostname")
	}
	if _, present := ev.Raw["geo_country"]; present {
		t.Error("a failed GeoIP lookup must not populate geo_country")
	}
}

func TestNormalizeRecord_StructuredPushPayload(t *testing.T) {
	n := New(zap.NewNop())
	raw := map[string]any{
		"source_ip": "9.9.9.9",
		"category":  []any{"web"},
		"outcome":   "failure",
	}
	ev, err := n.NormalizeRecord(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.SourceIP != "9.9.9.9" || !ev.HasCategory("web") {
		t.Errorf("unexpected event: %+v", ev)
	}
}
