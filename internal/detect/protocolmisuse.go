// ProtocolMisuse flags firewall events using unusual protocols, keyed on
// (src_ip, protocol) rather than src_ip alone so each protocol
// accumulates its own count.

package detect

import (
	"fmt"
	"strings"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

var unusualProtocols = map[string]struct{}{"icmp": {}, "udp": {}, "ftp": {}, "telnet": {}}

const (
	protocolMisuseWindow    = 5 * time.Minute
	protocolMisuseThreshold = 3
	protocolMisuseDedupe    = 300 * time.Second
	protocolMisuseK         = 5.0
)

// ProtocolMisuse implements D11.
type ProtocolMisuse struct {
	whitelist *whitelist.Set
	byKey     map[string]*Deque[struct{}]
	dedupe    *dedupeMap
}

func NewProtocolMisuse(deps Deps) *ProtocolMisuse {
	deps = defaultDeps(deps)
	return &ProtocolMisuse{whitelist: deps.Whitelist, byKey: make(map[string]*Deque[struct{}]), dedupe: newDedupeMap()}
}

func (d *ProtocolMisuse) Name() string                 { return "protocol-misuse" }
func (d *ProtocolMisuse) LongestWindow() time.Duration { return protocolMisuseWindow }
func (d *ProtocolMisuse) Reset()                        { d.byKey = make(map[string]*Deque[struct{}]) }

func (d *ProtocolMisuse) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for _, ev := range events {
		if !ev.HasCategory("firewall") {
			continue
		}
		protocol := strings.ToLower(ev.Protocol)
		if _, ok := unusualProtocols[protocol]; !ok {
			continue
		}
		if d.whitelist.Contains(ev.SourceIP) {
			continue
		}
		key := ev.SourceIP + "|" + protocol
		ts := ev.Timestamp
		dq, ok := d.byKey[key]
		if !ok {
			dq = &Deque[struct{}]{}
			d.byKey[key] = dq
		}
		dq.EvictOlderThan(ts, protocolMisuseWindow)
		dq.Push(ts, struct{}{})
		n := dq.CountWithin(ts, protocolMisuseWindow)
		if n < protocolMisuseThreshold {
			continue
		}
		id := "Suspicious Protocol Misuse|" + key
		if d.dedupe.ShouldSuppress(id, ts, protocolMisuseDedupe) {
			continue
		}
		score := model.NormalizeScore(float64(n), protocolMisuseThreshold, protocolMisuseK)
		sev := model.SeverityMedium
		if score >= 5 {
			sev = model.SeverityHigh
		}
		alerts = append(alerts, model.Alert{
			Timestamp:     ts,
			SourceIP:      ev.SourceIP,
			DestinationIP: ev.DestinationIP,
			Rule:          "Suspicious Protocol Misuse",
			AttemptCount:  n,
			Severity:      sev,
			Technique:     model.TechniqueProtocolMisuse,
			Score:         score,
			Evidence:      fmt.Sprintf("%d attempts using unusual protocol %q from %s in %s", n, protocol, ev.SourceIP, protocolMisuseWindow),
		})
		d.dedupe.Mark(id, ts)
	}
	return alerts
}
