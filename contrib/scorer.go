// Package contrib — scorer.go
//
// Plugin interface for custom severity scorers.
//
// siemstream's detectors (C5) are fixed Go code — there is no rule DSL to
// extend. This package defines a score-to-severity banding interface and a
// registry of named implementations, with the default four-band mapping
// (model.SeverityFromScore) registered as "default".
//
// Plugin registration:
//   Plugins register themselves in an init() function using RegisterScorer()
//   and are looked up by name with GetScorer(). The detectors do not consult
//   this registry: they call model.SeverityFromScore directly and no config
//   key selects a scorer, so a registered scorer does not change the
//   severity of any alert the agent writes.
//
//   Built-in scorers: "default" (the four-band model.SeverityFromScore).
//   Community scorers: registered via contrib.RegisterScorer().
//
// Plugin contract:
//   - Severity() must be goroutine-safe (detectors may run concurrently).
//   - Severity() must return in well under a detector scan tick.
//   - Severity() must not call any blocking I/O (no disk, no network).
//   - Severity() must not panic.
//   - Name() must return a stable, unique string (used as registry key).
//
// Example plugin (contrib/scorers/fivebad/fivebad.go):
//
//   package fivebad
//
//   import (
//     "github.com/octoreflex/siemstream/contrib"
//     "github.com/octoreflex/siemstream/internal/model"
//   )
//
//   func init() {
//     contrib.RegisterScorer(&FiveBandScorer{})
//   }
//
//   type FiveBandScorer struct{}
//
//   func (f *FiveBandScorer) Name() string { return "fivebad" }
//
//   func (f *FiveBandScorer) Severity(score float64) model.Severity {
//     switch {
//     case score >= 9:
//       return model.SeverityCritical
//     case score >= 6:
//       return model.SeverityHigh
//     case score >= 3:
//       return model.SeverityMedium
//     default:
//       return model.SeverityLow
//     }
//   }

package contrib

import (
	"fmt"
	"sync"

	"github.com/octoreflex/siemstream/internal/model"
)

// Scorer is the interface custom severity scorers must implement.
//
// Contract:
//   - Severity() must be goroutine-safe.
//   - Severity() must not call blocking I/O.
//   - Severity() must not panic.
//   - Name() must return a stable, unique string.
type Scorer interface {
	// Name returns the unique identifier for this scorer.
	// Used as the registry key for GetScorer.
	Name() string

	// Severity maps a 0..10 detector score onto a Severity band.
	Severity(score float64) model.Severity
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Scorer)
)

// RegisterScorer registers a custom severity scorer.
// Panics if a scorer with the same name is already registered.
// Call from init() functions in plugin packages.
func RegisterScorer(s Scorer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("contrib: scorer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// GetScorer returns the registered scorer with the given name.
// Returns an error if no scorer with that name is registered.
func GetScorer(name string) (Scorer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: scorer %q not registered (available: %v)", name, listNames())
	}
	return s, nil
}

// ListScorers returns the names of all registered scorers.
func ListScorers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// ─── Built-in scorer: default ────────────────────────────────────────────

// DefaultScorer wraps model.SeverityFromScore's four-band mapping
// (CRITICAL >= 8, HIGH >= 5, MEDIUM >= 2.5, else LOW). Registered as
// "default".
type DefaultScorer struct{}

func init() {
	RegisterScorer(&DefaultScorer{})
}

func (d *DefaultScorer) Name() string { return "default" }

func (d *DefaultScorer) Severity(score float64) model.Severity {
	return model.SeverityFromScore(score)
}
