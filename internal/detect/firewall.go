// Firewall Denied, Allowed-then-Blocked, and Firewall Flood: three
// independently-scheduled detectors over the same firewall event
// category, each with its own window and threshold.

package detect

import (
	"fmt"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

func isDeniedOutcome(o model.Outcome) bool {
	return o == model.OutcomeDenied || o == model.OutcomeBlocked
}

// ─── D2: Firewall Denied ──────────────────────────────────────────────────

const (
	firewallDeniedWindow    = 5 * time.Minute
	firewallDeniedThreshold = 5
	firewallDeniedDedupe    = 300 * time.Second
	firewallDeniedK         = 5.0
)

// FirewallDenied implements D2.
type FirewallDenied struct {
	whitelist *whitelist.Set
	bySrc     map[string]*Deque[struct{}]
	dedupe    *dedupeMap
}

func NewFirewallDenied(deps Deps) *FirewallDenied {
	deps = defaultDeps(deps)
	return &FirewallDenied{whitelist: deps.Whitelist, bySrc: make(map[string]*Deque[struct{}]), dedupe: newDedupeMap()}
}

func (d *FirewallDenied) Name() string                  { return "firewall-denied" }
func (d *FirewallDenied) LongestWindow() time.Duration  { return firewallDeniedWindow }
func (d *FirewallDenied) Reset()                        { d.bySrc = make(map[string]*Deque[struct{}]) }

func (d *FirewallDenied) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for _, ev := range events {
		if !ev.HasCategory("firewall") || !isDeniedOutcome(ev.Outcome) {
			continue
		}
		if d.whitelist.Contains(ev.SourceIP) {
			continue
		}
		ts := ev.Timestamp
		dq, ok := d.bySrc[ev.SourceIP]
		if !ok {
			dq = &Deque[struct{}]{}
			d.bySrc[ev.SourceIP] = dq
		}
		dq.EvictOlderThan(ts, firewallDeniedWindow)
		dq.Push(ts, struct{}{})
		n := dq.CountWithin(ts, firewallDeniedWindow)
		if n < firewallDeniedThreshold {
			continue
		}
		id := "Firewall Denied Access|" + ev.SourceIP
		if d.dedupe.ShouldSuppress(id, ts, firewallDeniedDedupe) {
			continue
		}
		score := model.NormalizeScore(float64(n), firewallDeniedThreshold, firewallDeniedK)
		sev := model.SeverityMedium
		if score >= 5 {
			sev = model.SeverityHigh
		}
		alerts = append(alerts, model.Alert{
			Timestamp:    ts,
			SourceIP:     ev.SourceIP,
			Rule:         "Firewall Denied Access",
			AttemptCount: n,
			Severity:     sev,
			Technique:    model.TechniqueNetworkDenial,
			Score:        score,
			Evidence:     fmt.Sprintf("%d denied/blocked firewall events from %s in %s", n, ev.SourceIP, firewallDeniedWindow),
		})
		d.dedupe.Mark(id, ts)
	}
	return alerts
}

// ─── D3: Allowed-then-Blocked ─────────────────────────────────────────────

const (
	allowedThenBlockedWindow    = 5 * time.Minute
	allowedThenBlockedThreshold = 3
	allowedThenBlockedDedupe    = 300 * time.Second
	allowedThenBlockedK         = 5.0
)

// AllowedThenBlocked flags a source that was previously allowed through
// the firewall and is now being denied or blocked repeatedly. A prior
// "allowed" marker is indefinite and is never reset by a later "allowed"
// event; only the sliding window over denied/blocked events governs
// re-firing.
type AllowedThenBlocked struct {
	whitelist   *whitelist.Set
	lastAllowed map[string]time.Time
	denied      map[string]*Deque[struct{}]
	dedupe      *dedupeMap
}

func NewAllowedThenBlocked(deps Deps) *AllowedThenBlocked {
	deps = defaultDeps(deps)
	return &AllowedThenBlocked{
		whitelist:   deps.Whitelist,
		lastAllowed: make(map[string]time.Time),
		denied:      make(map[string]*Deque[struct{}]),
		dedupe:      newDedupeMap(),
	}
}

func (d *AllowedThenBlocked) Name() string                 { return "firewall-allowed-then-blocked" }
func (d *AllowedThenBlocked) LongestWindow() time.Duration { return allowedThenBlockedWindow }

func (d *AllowedThenBlocked) Reset() {
	d.lastAllowed = make(map[string]time.Time)
	d.denied = make(map[string]*Deque[struct{}])
}

func (d *AllowedThenBlocked) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for _, ev := range events {
		if !ev.HasCategory("firewall") {
			continue
		}
		if d.whitelist.Contains(ev.SourceIP) {
			continue
		}
		ts := ev.Timestamp

		if ev.Outcome == model.OutcomeAllowed {
			d.lastAllowed[ev.SourceIP] = ts
			continue
		}
		if !isDeniedOutcome(ev.Outcome) {
			continue
		}

		dq, ok := d.denied[ev.SourceIP]
		if !ok {
			dq = &Deque[struct{}]{}
			d.denied[ev.SourceIP] = dq
		}
		dq.EvictOlderThan(ts, allowedThenBlockedWindow)
		dq.Push(ts, struct{}{})
		n := dq.CountWithin(ts, allowedThenBlockedWindow)

		if _, hadAllowed := d.lastAllowed[ev.SourceIP]; !hadAllowed {
			continue
		}
		if n < allowedThenBlockedThreshold {
			continue
		}
		id := "Firewall Allowed Then Blocked|" + ev.SourceIP
		if d.dedupe.ShouldSuppress(id, ts, allowedThenBlockedDedupe) {
			continue
		}
		alerts = append(alerts, model.Alert{
			Timestamp:    ts,
			SourceIP:     ev.SourceIP,
			Rule:         "Firewall Allowed Then Blocked",
			AttemptCount: n,
			Severity:     model.SeverityHigh,
			Technique:    model.TechniqueSuspiciousBehavior,
			Score:        model.NormalizeScore(float64(n), allowedThenBlockedThreshold, allowedThenBlockedK),
			Evidence:     fmt.Sprintf("%s was previously allowed, then denied/blocked %d times in %s", ev.SourceIP, n, allowedThenBlockedWindow),
		})
		d.dedupe.Mark(id, ts)
	}
	return alerts
}

// ─── D4: Firewall Flood (Possible DoS/DDoS) ───────────────────────────────

const (
	firewallFloodWindow    = 60 * time.Second
	firewallFloodThreshold = 1000
	firewallFloodDedupe    = 300 * time.Second
	firewallFloodK         = 5.0
)

// FirewallFlood implements D4.
type FirewallFlood struct {
	whitelist *whitelist.Set
	bySrc     map[string]*Deque[struct{}]
	dedupe    *dedupeMap
}

func NewFirewallFlood(deps Deps) *FirewallFlood {
	deps = defaultDeps(deps)
	return &FirewallFlood{whitelist: deps.Whitelist, bySrc: make(map[string]*Deque[struct{}]), dedupe: newDedupeMap()}
}

func (d *FirewallFlood) Name() string                 { return "firewall-flood" }
func (d *FirewallFlood) LongestWindow() time.Duration { return firewallFloodWindow }
func (d *FirewallFlood) Reset()                       { d.bySrc = make(map[string]*Deque[struct{}]) }

func (d *FirewallFlood) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for _, ev := range events {
		if !ev.HasCategory("firewall") || !isDeniedOutcome(ev.Outcome) {
			continue
		}
		if d.whitelist.Contains(ev.SourceIP) {
			continue
		}
		ts := ev.Timestamp
		dq, ok := d.bySrc[ev.SourceIP]
		if !ok {
			dq = &Deque[struct{}]{}
			d.bySrc[ev.SourceIP] = dq
		}
		dq.EvictOlderThan(ts, firewallFloodWindow)
		dq.Push(ts, struct{}{})
		n := dq.CountWithin(ts, firewallFloodWindow)
		if n < firewallFloodThreshold {
			continue
		}
		id := "Firewall Flood Detection (Possible DoS/DDoS)|" + ev.SourceIP
		if d.dedupe.ShouldSuppress(id, ts, firewallFloodDedupe) {
			continue
		}
		alerts = append(alerts, model.Alert{
			Timestamp:    ts,
			SourceIP:     ev.SourceIP,
			Rule:         "Firewall Flood Detection (Possible DoS/DDoS)",
			AttemptCount: n,
			Severity:     model.SeverityCritical,
			Technique:    model.TechniqueDenialOfService,
			Score:        model.NormalizeScore(float64(n), firewallFloodThreshold, firewallFloodK),
			Evidence:     fmt.Sprintf("%d denied/blocked firewall events from %s in %s", n, ev.SourceIP, firewallFloodWindow),
		})
		d.dedupe.Mark(id, ts)
	}
	return alerts
}
