// EndpointScan is a src_ip keyed scan for requests against a fixed set of
// sensitive endpoint substrings.

package detect

import (
	"fmt"
	"strings"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

const (
	endpointScanWindow    = 5 * time.Minute
	endpointScanThreshold = 5
	endpointScanDedupe    = 300 * time.Second
	endpointScanK         = 5.0
)

var sensitivePaths = []string{"/admin", "/login", "/config", "/backup", "/setup", "/db", "/phpmyadmin"}

func isSensitivePath(path string) bool {
	lower := strings.ToLower(path)
	for _, p := range sensitivePaths {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// EndpointScan implements D6.
type EndpointScan struct {
	whitelist *whitelist.Set
	paths     map[string]*Deque[string]
	dedupe    *dedupeMap
}

func NewEndpointScan(deps Deps) *EndpointScan {
	deps = defaultDeps(deps)
	return &EndpointScan{whitelist: deps.Whitelist, paths: make(map[string]*Deque[string]), dedupe: newDedupeMap()}
}

func (d *EndpointScan) Name() string                 { return "endpoint-scan" }
func (d *EndpointScan) LongestWindow() time.Duration { return endpointScanWindow }
func (d *EndpointScan) Reset()                        { d.paths = make(map[string]*Deque[string]) }

func (d *EndpointScan) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for _, ev := range events {
		if !ev.HasCategory("web") {
			continue
		}
		path := ev.URLPath
		if path == "" || !isSensitivePath(path) {
			continue
		}
		if d.whitelist.Contains(ev.SourceIP) {
			continue
		}
		ts := ev.Timestamp
		dq, ok := d.paths[ev.SourceIP]
		if !ok {
			dq = &Deque[string]{}
			d.paths[ev.SourceIP] = dq
		}
		dq.EvictOlderThan(ts, endpointScanWindow)
		dq.Push(ts, strings.ToLower(path))
		distinct := len(uniqueStrings(dq.Within(ts, endpointScanWindow)))
		if distinct < endpointScanThreshold {
			continue
		}
		id := "Endpoint Scanning|" + ev.SourceIP
		if d.dedupe.ShouldSuppress(id, ts, endpointScanDedupe) {
			continue
		}
		alerts = append(alerts, model.Alert{
			Timestamp:    ts,
			SourceIP:     ev.SourceIP,
			Rule:         "Endpoint Scanning",
			AttemptCount: distinct,
			Severity:     model.SeverityHigh,
			Technique:    model.TechniqueEndpointScanning,
			Score:        model.NormalizeScore(float64(distinct), endpointScanThreshold, endpointScanK),
			Evidence:     fmt.Sprintf("%d distinct sensitive endpoints probed from %s in %s", distinct, ev.SourceIP, endpointScanWindow),
		})
		d.dedupe.Mark(id, ts)
	}
	return alerts
}
