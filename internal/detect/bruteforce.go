// Three sub-rules sharing one pass over the authentication-failure event
// stream, keyed respectively on (user, ip), ip, and user.

package detect

import (
	"fmt"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

const (
	bruteForceWindow    = 5 * time.Minute
	bruteForceThreshold = 5
	bruteForceDedupe    = 300 * time.Second
	bruteForceK         = 5.0
)

// BruteForceFamily implements the failed-login family: Brute Force
// (user+IP), Credential Stuffing, and Account Targeted, all fed by the
// same category=authentication, outcome=failure event stream.
type BruteForceFamily struct {
	whitelist *whitelist.Set

	userIPWindows map[string]*Deque[struct{}]
	ipWindows     map[string]*Deque[string]
	userWindows   map[string]*Deque[string]

	dedupe *dedupeMap
}

// NewBruteForceFamily constructs the failed-login family with its default
// thresholds and windows.
func NewBruteForceFamily(deps Deps) *BruteForceFamily {
	deps = defaultDeps(deps)
	return &BruteForceFamily{
		whitelist:     deps.Whitelist,
		userIPWindows: make(map[string]*Deque[struct{}]),
		ipWindows:     make(map[string]*Deque[string]),
		userWindows:   make(map[string]*Deque[string]),
		dedupe:        newDedupeMap(),
	}
}

func (d *BruteForceFamily) Name() string              { return "failed-login-family" }
func (d *BruteForceFamily) LongestWindow() time.Duration { return bruteForceWindow }

func (d *BruteForceFamily) Reset() {
	d.userIPWindows = make(map[string]*Deque[struct{}])
	d.ipWindows = make(map[string]*Deque[string])
	d.userWindows = make(map[string]*Deque[string])
}

func (d *BruteForceFamily) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert

	for _, ev := range events {
		if !ev.HasCategory("authentication") || ev.Outcome != model.OutcomeFailure {
			continue
		}
		if d.whitelist.Contains(ev.SourceIP) {
			continue
		}
		user := ev.Username
		ip := ev.SourceIP
		ts := ev.Timestamp

		// Rule 1: Brute Force (user+IP).
		uiKey := user + "|" + ip
		uiDeque, ok := d.userIPWindows[uiKey]
		if !ok {
			uiDeque = &Deque[struct{}]{}
			d.userIPWindows[uiKey] = uiDeque
		}
		uiDeque.EvictOlderThan(ts, bruteForceWindow)
		uiDeque.Push(ts, struct{}{})
		if n := uiDeque.CountWithin(ts, bruteForceWindow); n >= bruteForceThreshold {
			id := "Brute Force (user+IP)|" + uiKey
			if !d.dedupe.ShouldSuppress(id, ts, bruteForceDedupe) {
				alerts = append(alerts, model.Alert{
					Timestamp:    ts,
					Rule:         "Brute Force (user+IP)",
					UserName:     user,
					SourceIP:     ip,
					AttemptCount: n,
					Severity:     model.SeverityHigh,
					Technique:    model.TechniqueBruteForce,
					Score:        model.NormalizeScore(float64(n), bruteForceThreshold, bruteForceK),
					Evidence:     fmt.Sprintf("%d failed logins for %s from %s in %s", n, user, ip, bruteForceWindow),
				})
				d.dedupe.Mark(id, ts)
			}
		}

		// Rule 2: Credential Stuffing — one IP, many accounts.
		ipDeque, ok := d.ipWindows[ip]
		if !ok {
			ipDeque = &Deque[string]{}
			d.ipWindows[ip] = ipDeque
		}
		ipDeque.EvictOlderThan(ts, bruteForceWindow)
		ipDeque.Push(ts, user)
		recentUsers := ipDeque.Within(ts, bruteForceWindow)
		if n := len(recentUsers); n >= bruteForceThreshold {
			if distinct := len(uniqueStrings(recentUsers)); distinct >= 3 {
				id := "Credential Stuffing|" + ip
				if !d.dedupe.ShouldSuppress(id, ts, bruteForceDedupe) {
					alerts = append(alerts, model.Alert{
						Timestamp:    ts,
						Rule:         "Credential Stuffing",
						UserName:     "Multiple",
						SourceIP:     ip,
						AttemptCount: n,
						Severity:     model.SeverityCritical,
						Technique:    model.TechniqueCredentialStuffing,
						Score:        model.NormalizeScore(float64(n), bruteForceThreshold, bruteForceK),
						Evidence:     fmt.Sprintf("%d failed logins against %d distinct users from %s in %s", n, distinct, ip, bruteForceWindow),
					})
					d.dedupe.Mark(id, ts)
				}
			}
		}

		// Rule 3: Account Targeted — one account, many IPs.
		userDeque, ok := d.userWindows[user]
		if !ok {
			userDeque = &Deque[string]{}
			d.userWindows[user] = userDeque
		}
		userDeque.EvictOlderThan(ts, bruteForceWindow)
		userDeque.Push(ts, ip)
		recentIPs := userDeque.Within(ts, bruteForceWindow)
		if n := len(recentIPs); n >= bruteForceThreshold {
			if distinct := len(uniqueStrings(recentIPs)); distinct >= 3 {
				id := "Account Targeted Brute Force|" + user
				if !d.dedupe.ShouldSuppress(id, ts, bruteForceDedupe) {
					alerts = append(alerts, model.Alert{
						Timestamp:    ts,
						Rule:         "Account Targeted Brute Force",
						UserName:     user,
						SourceIP:     "Multiple",
						AttemptCount: n,
						Severity:     model.SeverityHigh,
						Technique:    model.TechniqueDistributedBruteforce,
						Score:        model.NormalizeScore(float64(n), bruteForceThreshold, bruteForceK),
						Evidence:     fmt.Sprintf("%d failed logins against %s from %d distinct IPs in %s", n, user, distinct, bruteForceWindow),
					})
					d.dedupe.Mark(id, ts)
				}
			}
		}
	}

	return alerts
}
