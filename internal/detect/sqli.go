// SQLInjection matches requests against a fixed SQL-injection pattern set
// and rate-limits alerts per source.

package detect

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

var sqliPattern = regexp.MustCompile(`(?i)('\s*or\s*'1'\s*=\s*'1|or\s+1\s*=\s*1|union\s+select|--|;\s*drop\b|/\*|\*/|\bselect\b.*\bfrom\b|\bexec\b|\bbenchmark\b|\bwaitfor\b|%27|%22|%3d|%2d%2d|%3b|%2f%2a|%2a)`)

const (
	sqliWindow    = 5 * time.Minute
	sqliThreshold = 1
	sqliDedupe    = 300 * time.Second
	sqliK         = 5.0
)

func decodedWebInput(ev *model.Event) string {
	combined := ev.URLFull
	if combined == "" {
		combined = ev.URLPath
	}
	if raw, ok := ev.Raw["body"].(string); ok {
		combined += " " + raw
	}
	lower := strings.ToLower(combined)
	if decoded, err := url.QueryUnescape(lower); err == nil {
		return decoded
	}
	return lower
}

// SQLInjection implements D7.
type SQLInjection struct {
	whitelist *whitelist.Set
	bySrc     map[string]*Deque[struct{}]
	dedupe    *dedupeMap
}

func NewSQLInjection(deps Deps) *SQLInjection {
	deps = defaultDeps(deps)
	return &SQLInjection{whitelist: deps.Whitelist, bySrc: make(map[string]*Deque[struct{}]), dedupe: newDedupeMap()}
}

func (d *SQLInjection) Name() string                 { return "sql-injection" }
func (d *SQLInjection) LongestWindow() time.Duration { return sqliWindow }
func (d *SQLInjection) Reset()                        { d.bySrc = make(map[string]*Deque[struct{}]) }

func (d *SQLInjection) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for i := range events {
		ev := &events[i]
		if !ev.HasCategory("web") {
			continue
		}
		if !sqliPattern.MatchString(decodedWebInput(ev)) {
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
		dq.EvictOlderThan(ts, sqliWindow)
		dq.Push(ts, struct{}{})
		n := dq.CountWithin(ts, sqliWindow)
		if n < sqliThreshold {
			continue
		}
		id := "Suspicious Web Activity - SQLi|" + ev.SourceIP
		if d.dedupe.ShouldSuppress(id, ts, sqliDedupe) {
			continue
		}
		sev := model.SeverityHigh
		if n >= sqliThreshold {
			sev = model.SeverityCritical
		}
		alerts = append(alerts, model.Alert{
			Timestamp:    ts,
			SourceIP:     ev.SourceIP,
			UserName:     ev.Username,
			Rule:         "Suspicious Web Activity - SQLi",
			AttemptCount: n,
			Severity:     sev,
			Technique:    model.TechniqueSQLInjection,
			Score:        model.NormalizeScore(float64(n), sqliThreshold, sqliK),
			Evidence:     fmt.Sprintf("SQL injection pattern matched in request from %s (%d in %s)", ev.SourceIP, n, sqliWindow),
		})
		d.dedupe.Mark(id, ts)
	}
	return alerts
}
