// XSS matches requests against a fixed cross-site-scripting pattern set
// and rate-limits alerts per source.

package detect

import (
	"fmt"
	"strings"
	"time"

	"regexp"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

var xssPattern = regexp.MustCompile(`(?i)(<script.*?>.*?</script>|javascript:|on\w+\s*=|<iframe.*?>|<img.*?on\w+\s*=.*?>|alert\s*\(.*?\)|document\.cookie)`)

const (
	xssWindow    = 5 * time.Minute
	xssThreshold = 3
	xssDedupe    = 300 * time.Second
	xssK         = 5.0
)

// XSS implements D8.
type XSS struct {
	whitelist *whitelist.Set
	bySrc     map[string]*Deque[struct{}]
	dedupe    *dedupeMap
}

func NewXSS(deps Deps) *XSS {
	deps = defaultDeps(deps)
	return &XSS{whitelist: deps.Whitelist, bySrc: make(map[string]*Deque[struct{}]), dedupe: newDedupeMap()}
}

func (d *XSS) Name() string                 { return "xss" }
func (d *XSS) LongestWindow() time.Duration { return xssWindow }
func (d *XSS) Reset()                        { d.bySrc = make(map[string]*Deque[struct{}]) }

func (d *XSS) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for i := range events {
		ev := &events[i]
		if !ev.HasCategory("web") {
			continue
		}
		combined := ev.URLFull
		if combined == "" {
			combined = ev.URLPath
		}
		if raw, ok := ev.Raw["body"].(string); ok {
			combined += " " + raw
		}
		if !xssPattern.MatchString(strings.ToLower(combined)) {
			continue
		}
		if ev.SourceIP == "" || d.whitelist.Contains(ev.SourceIP) {
			continue
		}
		ts := ev.Timestamp
		dq, ok := d.bySrc[ev.SourceIP]
		if !ok {
			dq = &Deque[struct{}]{}
			d.bySrc[ev.SourceIP] = dq
		}
		dq.EvictOlderThan(ts, xssWindow)
		dq.Push(ts, struct{}{})
		n := dq.CountWithin(ts, xssWindow)
		if n < xssThreshold {
			continue
		}
		id := "Advanced XSS Detected|" + ev.SourceIP
		if d.dedupe.ShouldSuppress(id, ts, xssDedupe) {
			continue
		}
		sev := model.SeverityHigh
		if n >= xssThreshold {
			sev = model.SeverityCritical
		}
		alerts = append(alerts, model.Alert{
			Timestamp:    ts,
			SourceIP:     ev.SourceIP,
			UserName:     ev.Username,
			Rule:         "Advanced XSS Detected",
			AttemptCount: n,
			Severity:     sev,
			Technique:    model.TechniqueXSS,
			Score:        model.NormalizeScore(float64(n), xssThreshold, xssK),
			Evidence:     fmt.Sprintf("XSS pattern matched in request from %s (%d in %s)", ev.SourceIP, n, xssWindow),
		})
		d.dedupe.Mark(id, ts)
	}
	return alerts
}
