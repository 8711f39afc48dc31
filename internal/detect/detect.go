// Package detect implements the detector families: independent stateful
// rules over Events, each emitting deduplicated, scored Alerts. Every
// detector shares the same skeleton — filter, key, window, trigger,
// dedupe, whitelist — via the Deque and dedupeMap helpers in this
// package, and follows the "struct owns its state, runtime holds the
// instance for the process lifetime" pattern used throughout this
// codebase rather than module-level mutable state.
package detect

import (
	"time"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

// Detector is the common interface the runtime (C4) schedules.
type Detector interface {
	// Name identifies the detector for scheduling, cursor storage, and
	// metrics labels.
	Name() string

	// LongestWindow is the widest sliding window this detector maintains.
	// The runtime uses it to decide how far back an incremental scan must
	// read — deliberately wider than "since last scan" so sliding-window
	// state rebuilds correctly from the store on every tick.
	LongestWindow() time.Duration

	// Reset clears transient sliding-window state ahead of an incremental
	// tick. The cross-tick dedupe map is NOT cleared.
	Reset()

	// Scan processes events in ascending timestamp order and returns any
	// alerts triggered. Scan is not safe for concurrent use by multiple
	// goroutines — each Detector instance belongs to exactly one
	// scheduler.
	Scan(events []model.Event) []model.Alert
}

// Deps bundles the dependencies every detector constructor takes: the
// shared whitelist and the set of accounts D9 treats as legitimate admins.
// Constructors copy what they need and ignore the rest.
type Deps struct {
	Whitelist   *whitelist.Set
	KnownAdmins []string
}

// defaultKnownAdmins is the built-in set of accounts treated as legitimate
// admins; config.Config overrides this at startup.
var defaultKnownAdmins = []string{"bob", "superuser"}

func defaultDeps(d Deps) Deps {
	if d.Whitelist == nil {
		d.Whitelist = whitelist.Default()
	}
	if d.KnownAdmins == nil {
		d.KnownAdmins = defaultKnownAdmins
	}
	return d
}

// All constructs one instance of every detector family with default
// constants, for registration with the runtime at startup.
func All(deps Deps) []Detector {
	deps = defaultDeps(deps)
	return []Detector{
		NewBruteForceFamily(deps),
		NewFirewallDenied(deps),
		NewAllowedThenBlocked(deps),
		NewFirewallFlood(deps),
		NewPortScan(deps),
		NewEndpointScan(deps),
		NewSQLInjection(deps),
		NewXSS(deps),
		NewPrivilegeEscalation(deps),
		NewFileActivity(deps),
		NewProtocolMisuse(deps),
	}
}
