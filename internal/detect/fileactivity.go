// Two independent sub-rules over the file/network categories, sharing
// only the dedupe convention: Mass File Encryption and Sensitive File
// Upload (exfiltration).

package detect

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

var ransomwareExtensions = []string{".locked", ".encrypted", ".crypt"}
var sensitiveExtensions = []string{".db", ".csv", ".bak", ".sql"}

const (
	massEncryptionWindow    = 5 * time.Minute
	massEncryptionThreshold = 20
	massEncryptionDedupe    = 3600 * time.Second
	ransomwareEntropyLimit  = 4.0

	exfilDedupe = 300 * time.Second
)

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func eventFileName(ev *model.Event) string {
	if ev.FileName != "" {
		return strings.ToLower(strings.TrimSpace(ev.FileName))
	}
	if ev.FilePath != "" {
		return strings.ToLower(strings.TrimSpace(path.Base(ev.FilePath)))
	}
	return ""
}

// FileActivity implements D10.
type FileActivity struct {
	whitelist *whitelist.Set
	byKey     map[string]*Deque[struct{}]
	dedupe    *dedupeMap
}

func NewFileActivity(deps Deps) *FileActivity {
	deps = defaultDeps(deps)
	return &FileActivity{whitelist: deps.Whitelist, byKey: make(map[string]*Deque[struct{}]), dedupe: newDedupeMap()}
}

func (d *FileActivity) Name() string                 { return "file-activity" }
func (d *FileActivity) LongestWindow() time.Duration { return massEncryptionWindow }
func (d *FileActivity) Reset()                        { d.byKey = make(map[string]*Deque[struct{}]) }

func (d *FileActivity) Scan(events []model.Event) []model.Alert {
	var alerts []model.Alert
	for i := range events {
		ev := &events[i]
		name := eventFileName(ev)

		// Rule 1: Mass File Encryption.
		if ev.HasCategory("file") && name != "" {
			if hasAnySuffix(name, ransomwareExtensions) || FilenameEntropy(name) > ransomwareEntropyLimit {
				key := ev.Username + "|" + ev.SourceIP
				ts := ev.Timestamp
				dq, ok := d.byKey[key]
				if !ok {
					dq = &Deque[struct{}]{}
					d.byKey[key] = dq
				}
				dq.EvictOlderThan(ts, massEncryptionWindow)
				dq.Push(ts, struct{}{})
				n := dq.CountWithin(ts, massEncryptionWindow)
				if n >= massEncryptionThreshold {
					id := "Mass File Encryption Detected|" + key
					if !d.dedupe.ShouldSuppress(id, ts, massEncryptionDedupe) {
						alerts = append(alerts, model.Alert{
							Timestamp:    ts,
							SourceIP:     ev.SourceIP,
							UserName:     ev.Username,
							Rule:         "Mass File Encryption Detected",
							AttemptCount: n,
							Severity:     model.SeverityCritical,
							Technique:    model.TechniqueRansomware,
							Evidence:     fmt.Sprintf("%d file changes for %s@%s in %s, e.g. %q", n, ev.Username, ev.SourceIP, massEncryptionWindow, name),
						})
						d.dedupe.Mark(id, ts)
					}
				}
			}
		}

		// Rule 2: Sensitive File Upload (Exfiltration).
		if ev.HasCategory("network") && name != "" && ev.DestinationIP != "" {
			if hasAnySuffix(name, sensitiveExtensions) && !whitelist.PrivateNetworks.Contains(ev.DestinationIP) {
				ts := ev.Timestamp
				id := fmt.Sprintf("Sensitive File Upload (Exfiltration)|%s|%s|%s", ev.Username, ev.SourceIP, ev.DestinationIP)
				if d.dedupe.ShouldSuppress(id, ts, exfilDedupe) {
					continue
				}
				alerts = append(alerts, model.Alert{
					Timestamp:     ts,
					SourceIP:      ev.SourceIP,
					DestinationIP: ev.DestinationIP,
					UserName:      ev.Username,
					Rule:          "Sensitive File Upload (Exfiltration)",
					AttemptCount:  1,
					Severity:      model.SeverityHigh,
					Technique:     model.TechniqueDataExfiltration,
					Evidence:      fmt.Sprintf("%s uploaded %q from %s to external host %s", ev.Username, name, ev.SourceIP, ev.DestinationIP),
				})
				d.dedupe.Mark(id, ts)
			}
		}
	}
	return alerts
}
