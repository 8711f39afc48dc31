// Port scanning: four sub-rules sharing three deques per source IP
// (per-destination ports, destinations, and all-destination ports) plus a
// persistence-score heuristic for slow scans.

package detect

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

const (
	portScanPerDstWindow         = 60 * time.Second
	portScanPerDstThreshold      = 20
	portScanDistributedWindow    = 300 * time.Second
	portScanDistributedThreshold = 50
	portScanCrossDstWindow       = 600 * time.Second
	portScanCrossDstThreshold    = 100
	portScanSlowWindow           = 3600 * time.Second
	portScanSlowMinUniquePorts   = 10
	portScanDedupe               = 300 * time.Second
	portScanK                    = 5.0
)

var portScanLongestWindow = portScanSlowWindow

// PortScan implements D5.
type PortScan struct {
	whitelist *whitelist.Set

	perSrcDst map[string]map[string]*Deque[int] // src -> dst -> ports
	srcDsts   map[string]*Deque[string]          // src -> dsts
	srcPorts  map[string]*Deque[int]             // src -> all ports across dsts

	dedupe *dedupeMap
}

func NewPortScan(deps Deps) *PortScan {
	deps = defaultDeps(deps)
	return &PortScan{
		whitelist: deps.Whitelist,
		perSrcDst: make(map[string]map[string]*Deque[int]),
		srcDsts:   make(map[string]*Deque[string]),
		srcPorts:  make(map[string]*Deque[int]),
		dedupe:    newDedupeMap(),
	}
}

func (d *PortScan) Name() string                 { return "port-scan" }
func (d *PortScan) LongestWindow() time.Duration { return portScanLongestWindow }

func (d *PortScan) Reset() {
	d.perSrcDst = make(map[string]map[string]*Deque[int])
	d.srcDsts = make(map[string]*Deque[string])
	d.srcPorts = make(map[string]*Deque[int])
}

func uniqueSortedInts(vs []int) []int {
	u := uniqueInts(vs)
	sort.Ints(u)
	return u
}

func (d *PortScan) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for _, ev := range events {
		if !ev.HasCategory("firewall") && !ev.HasCategory("network") {
			continue
		}
		if ev.SourceIP == "" || ev.DestinationIP == "" || ev.DestinationPort == 0 {
			continue
		}
		if d.whitelist.Contains(ev.SourceIP) {
			continue
		}
		src, dst, port, ts := ev.SourceIP, ev.DestinationIP, ev.DestinationPort, ev.Timestamp

		perDst, ok := d.perSrcDst[src]
		if !ok {
			perDst = make(map[string]*Deque[int])
			d.perSrcDst[src] = perDst
		}
		dstDeque, ok := perDst[dst]
		if !ok {
			dstDeque = &Deque[int]{}
			perDst[dst] = dstDeque
		}
		dstDeque.EvictOlderThan(ts, portScanLongestWindow)
		dstDeque.Push(ts, port)

		dstsDeque, ok := d.srcDsts[src]
		if !ok {
			dstsDeque = &Deque[string]{}
			d.srcDsts[src] = dstsDeque
		}
		dstsDeque.EvictOlderThan(ts, portScanLongestWindow)
		dstsDeque.Push(ts, dst)

		portsDeque, ok := d.srcPorts[src]
		if !ok {
			portsDeque = &Deque[int]{}
			d.srcPorts[src] = portsDeque
		}
		portsDeque.EvictOlderThan(ts, portScanLongestWindow)
		portsDeque.Push(ts, port)

		// Rule 1: Per-Destination.
		recentPorts := uniqueSortedInts(dstDeque.Within(ts, portScanPerDstWindow))
		if n := len(recentPorts); n >= portScanPerDstThreshold {
			id := fmt.Sprintf("Per-Destination Port Scan|%s|%s", src, dst)
			if !d.dedupe.ShouldSuppress(id, ts, portScanDedupe) {
				alerts = append(alerts, model.Alert{
					Timestamp:     ts,
					SourceIP:      src,
					DestinationIP: dst,
					Rule:          "Per-Destination Port Scan",
					AttemptCount:  n,
					Severity:      model.SeverityFromScore(model.NormalizeScore(float64(n), portScanPerDstThreshold, portScanK)),
					Technique:     model.TechniquePortScanning,
					Score:         model.NormalizeScore(float64(n), portScanPerDstThreshold, portScanK),
					Evidence:      fmt.Sprintf("%d unique ports to %s from %s in %s", n, dst, src, portScanPerDstWindow),
				})
				d.dedupe.Mark(id, ts)
			}
		}

		// Rule 2: Distributed (many destinations).
		uniqueDsts := uniqueStrings(dstsDeque.Within(ts, portScanDistributedWindow))
		if n := len(uniqueDsts); n >= portScanDistributedThreshold {
			id := fmt.Sprintf("Distributed Scan (many destinations)|%s|any", src)
			if !d.dedupe.ShouldSuppress(id, ts, portScanDedupe) {
				alerts = append(alerts, model.Alert{
					Timestamp:    ts,
					SourceIP:     src,
					Rule:         "Distributed Scan (many destinations)",
					AttemptCount: n,
					Severity:     model.SeverityFromScore(model.NormalizeScore(float64(n), portScanDistributedThreshold, portScanK)),
					Technique:    model.TechniquePortScanning,
					Score:        model.NormalizeScore(float64(n), portScanDistributedThreshold, portScanK),
					Evidence:     fmt.Sprintf("%d distinct destinations from %s in %s", n, src, portScanDistributedWindow),
				})
				d.dedupe.Mark(id, ts)
			}
		}

		// Rule 3: Cross-Destination Port Diversity.
		crossPorts := uniqueSortedInts(portsDeque.Within(ts, portScanCrossDstWindow))
		if n := len(crossPorts); n >= portScanCrossDstThreshold {
			id := fmt.Sprintf("Cross-Destination High Port Diversity|%s|any", src)
			if !d.dedupe.ShouldSuppress(id, ts, portScanDedupe) {
				alerts = append(alerts, model.Alert{
					Timestamp:    ts,
					SourceIP:     src,
					Rule:         "Cross-Destination High Port Diversity",
					AttemptCount: n,
					Severity:     model.SeverityFromScore(model.NormalizeScore(float64(n), portScanCrossDstThreshold, portScanK)),
					Technique:    model.TechniquePortScanning,
					Score:        model.NormalizeScore(float64(n), portScanCrossDstThreshold, portScanK),
					Evidence:     fmt.Sprintf("%d unique ports across destinations from %s in %s", n, src, portScanCrossDstWindow),
				})
				d.dedupe.Mark(id, ts)
			}
		}

		// Rule 4: Stealthy Slow Scan.
		slowPorts := uniqueSortedInts(dstDeque.Within(ts, portScanSlowWindow))
		if n := len(slowPorts); n >= portScanSlowMinUniquePorts {
			attempts := dstDeque.CountWithin(ts, portScanSlowWindow)
			persistence := math.Sqrt(float64(n)) * math.Log1p(float64(attempts))
			if persistence > float64(portScanSlowMinUniquePorts)/2 {
				id := fmt.Sprintf("Stealthy Slow Scan|%s|%s", src, dst)
				if !d.dedupe.ShouldSuppress(id, ts, portScanDedupe) {
					alerts = append(alerts, model.Alert{
						Timestamp:     ts,
						SourceIP:      src,
						DestinationIP: dst,
						Rule:          "Stealthy Slow Scan",
						AttemptCount:  attempts,
						Severity:      model.SeverityFromScore(persistence),
						Technique:     model.TechniquePortScanning,
						Score:         math.Min(10, persistence),
						Evidence:      fmt.Sprintf("%d unique ports over %s (attempts=%d, persistence=%.2f)", n, portScanSlowWindow, attempts, persistence),
					})
					d.dedupe.Mark(id, ts)
				}
			}
		}
	}
	return alerts
}
