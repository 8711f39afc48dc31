// PrivilegeEscalation matches a keyword list against successful auth
// events, keyed on the acting user, with severity driven by admin
// membership rather than a raw count.

package detect

import (
	"fmt"
	"strings"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
)

const (
	privescWindow    = 5 * time.Minute
	privescMaxNormal = 1
	privescDedupe    = 3600 * time.Second
)

var privescKeywords = []string{"new admin", "added to admin group", "grant admin", "privilege escalation", "sudo useradd"}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// PrivilegeEscalation implements D9. Unlike the other detectors it is not
// gated on the source-IP whitelist — an internal admin-creation event is
// exactly the kind of "trusted network" activity this rule exists to catch.
type PrivilegeEscalation struct {
	knownAdmins map[string]struct{}
	byCreator   map[string]*Deque[struct{}]
	dedupe      *dedupeMap
}

func NewPrivilegeEscalation(deps Deps) *PrivilegeEscalation {
	deps = defaultDeps(deps)
	known := make(map[string]struct{}, len(deps.KnownAdmins))
	for _, a := range deps.KnownAdmins {
		known[strings.ToLower(a)] = struct{}{}
	}
	return &PrivilegeEscalation{
		knownAdmins: known,
		byCreator:   make(map[string]*Deque[struct{}]),
		dedupe:      newDedupeMap(),
	}
}

func (d *PrivilegeEscalation) Name() string                 { return "privilege-escalation" }
func (d *PrivilegeEscalation) LongestWindow() time.Duration { return privescWindow }
func (d *PrivilegeEscalation) Reset()                        { d.byCreator = make(map[string]*Deque[struct{}]) }

func (d *PrivilegeEscalation) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for _, ev := range events {
		if !ev.HasCategory("authentication") || ev.Outcome != model.OutcomeSuccess {
			continue
		}
		msg := strings.ToLower(ev.Message)
		if !containsAny(msg, privescKeywords) {
			continue
		}
		creator := ev.Username
		ts := ev.Timestamp

		dq, ok := d.byCreator[creator]
		if !ok {
			dq = &Deque[struct{}]{}
			d.byCreator[creator] = dq
		}
		dq.EvictOlderThan(ts, privescWindow)
		dq.Push(ts, struct{}{})
		n := dq.CountWithin(ts, privescWindow)

		id := "Suspicious Admin Account Creation|" + creator
		if d.dedupe.ShouldSuppress(id, ts, privescDedupe) {
			continue
		}

		_, known := d.knownAdmins[strings.ToLower(creator)]
		sev := model.SeverityHigh
		if !known || n > privescMaxNormal {
			sev = model.SeverityCritical
		}

		alerts = append(alerts, model.Alert{
			Timestamp:    ts,
			SourceIP:     ev.SourceIP,
			UserName:     creator,
			Rule:         "Suspicious Admin Account Creation",
			AttemptCount: n,
			Severity:     sev,
			Technique:    model.TechniquePrivilegeEscalation,
			Evidence:     fmt.Sprintf("%s: %s", creator, ev.Message),
		})
		d.dedupe.Mark(id, ts)
	}
	return alerts
}
