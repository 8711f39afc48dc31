// Package config provides configuration loading and validation for
// siemstream.
//
// Configuration file: /etc/siemstream/config.yaml (default)
// Schema version: 1
//
// Validation (Validate):
//   - schema_version must be "1"; node_id and storage.db_path must be set.
//   - storage.retention_days >= 1; detect.scan_interval >= 1s;
//     detect.slow_scan_interval >= detect.scan_interval.
//   - detect.known_admins must not be empty; reporter.socket_path must be
//     set when the reporter is enabled; reporter.recent_limit >= 1.
//   - observability.log_format must be json or console.
//   - No other field is range-checked, and file paths may be relative.
//   - Invalid config on startup: the agent refuses to start (fatal error).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for siemstream.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this siemstream instance in logs and metrics.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	// Storage configures the BoltDB event/alert store.
	Storage StorageConfig `yaml:"storage"`

	// Ingest configures the file tailer and push endpoint.
	Ingest IngestConfig `yaml:"ingest"`

	// Detect configures detector windows, thresholds, and the whitelist.
	Detect DetectConfig `yaml:"detect"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`

	// Reporter configures the read-only recent-alerts socket.
	Reporter ReporterConfig `yaml:"reporter"`
}

// StorageConfig holds BoltDB parameters.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	// Default: /var/lib/siemstream/siemstream.db.
	DBPath string `yaml:"db_path"`

	// RetentionDays is how long Events are kept before compaction.
	// Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// IngestConfig holds C3 ingest adapter parameters.
type IngestConfig struct {
	// LogFiles is the set of paths the tailer watches.
	LogFiles []string `yaml:"log_files"`

	// PushAddr is the push-endpoint HTTP bind address.
	// Default: 127.0.0.1:9100.
	PushAddr string `yaml:"push_addr"`

	// GeoIPDBPath is accepted in the config file but not read by any
	// component: the agent builds its normalizer without a GeoIP backend,
	// so GeoIP lookups are no-ops whatever this is set to.
	GeoIPDBPath string `yaml:"geoip_db_path"`
}

// DetectConfig holds C4/C5 scheduling and detector tuning parameters.
type DetectConfig struct {
	// ScanInterval is the default detector scan cadence. Default: 40s.
	ScanInterval time.Duration `yaml:"scan_interval"`

	// SlowScanInterval is the cadence for detectors whose longest window is
	// wider than SlowScanInterval itself (with the defaults, port scanning,
	// whose Stealthy Slow Scan window is one hour). Default: 400s.
	SlowScanInterval time.Duration `yaml:"slow_scan_interval"`

	// CursorDir is accepted in the config file but not read: detector
	// last-scan-time cursors are kept in the event store's cursors bucket,
	// not in files under this directory.
	// Default: /var/lib/siemstream/cursors.
	CursorDir string `yaml:"cursor_dir"`

	// WhitelistCIDRs are source networks every detector exempts.
	// Default: 10.0.0.0/8, 192.168.0.0/16.
	WhitelistCIDRs []string `yaml:"whitelist_cidrs"`

	// KnownAdmins is the set of usernames D9 treats as legitimate admin
	// creators. Default: bob, superuser.
	KnownAdmins []string `yaml:"known_admins"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// ReporterConfig holds C7 parameters.
type ReporterConfig struct {
	// Enabled controls whether the reporter socket is active. Default: true.
	Enabled bool `yaml:"enabled"`

	// SocketPath is the Unix domain socket the reporter listens on.
	// Default: /run/siemstream/reporter.sock.
	SocketPath string `yaml:"socket_path"`

	// RecentLimit is the default N for the "recent alerts" query.
	// Default: 50.
	RecentLimit int `yaml:"recent_limit"`
}

// DefaultDBPath mirrors the storage package constant for use in config
// defaults and documentation.
const DefaultDBPath = "/var/lib/siemstream/siemstream.db"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Storage: StorageConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 30,
		},
		Ingest: IngestConfig{
			PushAddr: "127.0.0.1:9100",
		},
		Detect: DetectConfig{
			ScanInterval:     40 * time.Second,
			SlowScanInterval: 400 * time.Second,
			CursorDir:        "/var/lib/siemstream/cursors",
			WhitelistCIDRs:   []string{"10.0.0.0/8", "192.168.0.0/16"},
			KnownAdmins:      []string{"bob", "superuser"},
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Reporter: ReporterConfig{
			Enabled:     true,
			SocketPath:  "/run/siemstream/reporter.sock",
			RecentLimit: 50,
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.Detect.ScanInterval < time.Second {
		errs = append(errs, fmt.Sprintf("detect.scan_interval must be >= 1s, got %s", cfg.Detect.ScanInterval))
	}
	if cfg.Detect.SlowScanInterval < cfg.Detect.ScanInterval {
		errs = append(errs, "detect.slow_scan_interval must be >= detect.scan_interval")
	}
	if len(cfg.Detect.KnownAdmins) == 0 {
		errs = append(errs, "detect.known_admins must not be empty")
	}
	if cfg.Reporter.Enabled && cfg.Reporter.SocketPath == "" {
		errs = append(errs, "reporter.socket_path must not be empty when reporter.enabled is true")
	}
	if cfg.Reporter.RecentLimit < 1 {
		errs = append(errs, fmt.Sprintf("reporter.recent_limit must be >= 1, got %d", cfg.Reporter.RecentLimit))
	}
	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format must be json or console, got %q", cfg.Observability.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
