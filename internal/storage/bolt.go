// Package storage — bolt.go
//
// BoltDB-backed persistent storage for siemstream.
//
// Schema (BoltDB bucket layout):
//
//	/events
//	    key:   zero-padded RFC3339Nano timestamp + "_" + monotonic row counter
//	    value: JSON-encoded model.Event
//
//	/alerts
//	    key:   Alert.IdentityKey() — (timestamp, rule, source_ip)
//	    value: JSON-encoded model.Alert
//
//	/cursors
//	    key:   detector or tailer name
//	    value: ISO8601 timestamp string (last successful scan start / byte offset)
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Event rows older than RetentionDays are pruned once at agent
//     startup; there is no periodic pruning while the agent runs.
//   - Alerts are never automatically pruned (operator action required).
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The agent logs a fatal event and refuses to start.
//     Recovery: restore from backup.
//   - Disk full: bbolt.Update() returns an error. The caller logs it and
//     the event/alert in question is dropped; the pipeline keeps running.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/octoreflex/siemstream/internal/model"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/siemstream/siemstream.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default event retention period.
	DefaultRetentionDays = 30

	// DefaultReadLimit is the read() filter's default row cap.
	DefaultReadLimit = 5000

	// DefaultAlertBatchSize is upsertAlert's default batching group size.
	DefaultAlertBatchSize = 20

	bucketEvents  = "events"
	bucketAlerts  = "alerts"
	bucketCursors = "cursors"
	bucketMeta    = "meta"
)

// Order selects ascending (detector consumption) or descending (reporter)
// iteration of the events bucket.
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// Filter parameterizes Read. A zero-value Since means no lower bound; a
// zero-value Limit is replaced by DefaultReadLimit.
type Filter struct {
	Since    time.Time
	Category string
	Limit    int
	Order    Order
}

// DB wraps a BoltDB instance with typed accessors for siemstream data.
type DB struct {
	db            *bolt.DB
	retentionDays int
	rowSeq        uint64
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketEvents, bucketAlerts, bucketCursors, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, agent requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Event operations (C2 append/read) ────────────────────────────────────

// eventKey constructs a sortable BoltDB key: RFC3339Nano timestamp plus a
// zero-padded monotonic counter, so duplicate timestamps never collide and
// lexicographic order matches chronological order.
func eventKey(t time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format(time.RFC3339Nano), seq))
}

// Append writes a new Event. Auto-assigns a row id; duplicate timestamps
// are allowed, events are never deduplicated.
func (d *DB) Append(ev model.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("storage.Append marshal: %w", err)
	}

	d.rowSeq++
	key := eventKey(ev.Timestamp, d.rowSeq)

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("storage.Append bolt.Put: %w", err)
		}
		return nil
	})
}

// Read returns Events matching filter. Readers never observe a partial
// Event (bbolt's View transaction is a consistent snapshot). A zero-value
// filter.Limit defaults to DefaultReadLimit.
func (d *DB) Read(filter Filter) ([]model.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	var sinceKey []byte
	if !filter.Since.IsZero() {
		sinceKey = eventKey(filter.Since, ^uint64(0))
	}

	var out []model.Event
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		c := b.Cursor()

		step := func(k, v []byte) ([]byte, []byte) {
			if filter.Order == OrderDesc {
				return c.Prev()
			}
			return c.Next()
		}

		var k, v []byte
		if filter.Order == OrderDesc {
			k, v = c.Last()
		} else if sinceKey != nil {
			k, v = c.Seek(sinceKey)
		} else {
			k, v = c.First()
		}

		for ; k != nil && len(out) < limit; k, v = step(k, v) {
			if filter.Order == OrderAsc && sinceKey != nil && string(k) <= string(sinceKey) {
				continue
			}
			var ev model.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("storage.Read unmarshal %q: %w", k, err)
			}
			if filter.Category != "" && !ev.HasCategory(filter.Category) {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

// Count returns the number of Events currently persisted.
func (d *DB) Count() (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketEvents)).Stats().KeyN
		return nil
	})
	return n, err
}

// PruneOldEvents deletes events older than retentionDays. The agent calls
// it once at startup.
func (d *DB) PruneOldEvents() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := eventKey(cutoff, 0)

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldEvents delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ─── Alert operations (C2 upsertAlert) ────────────────────────────────────

// UpsertAlert inserts an Alert if its identity tuple (timestamp, rule,
// source_ip) is absent; silently no-ops on conflict. bbolt has no native
// ON CONFLICT DO NOTHING, so this does a Get-before-Put inside the same
// write transaction.
func (d *DB) UpsertAlert(a model.Alert) (inserted bool, err error) {
	key := []byte(a.IdentityKey())
	data, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("storage.UpsertAlert marshal: %w", err)
	}

	err = d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAlerts))
		if b.Get(key) != nil {
			return nil // already present, no-op
		}
		inserted = true
		return b.Put(key, data)
	})
	return inserted, err
}

// UpsertAlertBatch upserts alerts in groups of DefaultAlertBatchSize,
// isolating a failure in one batch from the rest.
// Returns the number of alerts actually inserted and the first error
// encountered, if any.
func (d *DB) UpsertAlertBatch(alerts []model.Alert, batchSize int) (inserted int, err error) {
	if batchSize <= 0 {
		batchSize = DefaultAlertBatchSize
	}
	var firstErr error
	for start := 0; start < len(alerts); start += batchSize {
		end := start + batchSize
		if end > len(alerts) {
			end = len(alerts)
		}
		for _, a := range alerts[start:end] {
			ok, e := d.UpsertAlert(a)
			if e != nil && firstErr == nil {
				firstErr = e
				continue
			}
			if ok {
				inserted++
			}
		}
	}
	return inserted, firstErr
}

// RecentAlerts returns the N most recent alerts, descending by timestamp
// (the ordering the reporter, C7, always uses).
func (d *DB) RecentAlerts(n int) ([]model.Alert, error) {
	if n <= 0 {
		n = 50
	}

	var all []model.Alert
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAlerts))
		return b.ForEach(func(_, v []byte) error {
			var a model.Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			all = append(all, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// ─── Cursor operations (C4 scheduling, C3 tailer offsets) ─────────────────

// PutCursor records the last-scan-start timestamp (or tailer byte offset,
// formatted as a decimal string) for the given name.
func (d *DB) PutCursor(name string, value string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketCursors)).Put([]byte(name), []byte(value))
	})
}

// GetCursor returns the stored cursor value for name, or "" if absent.
func (d *DB) GetCursor(name string) (string, error) {
	var v string
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketCursors)).Get([]byte(name))
		if raw != nil {
			v = string(raw)
		}
		return nil
	})
	return v, err
}

// PutCursorTime is a typed convenience wrapper around PutCursor for
// timestamp cursors (detector last-scan-start).
func (d *DB) PutCursorTime(name string, t time.Time) error {
	return d.PutCursor(name, t.UTC().Format(time.RFC3339Nano))
}

// GetCursorTime parses a timestamp cursor written by PutCursorTime.
// Returns the zero time if absent or unparseable.
func (d *DB) GetCursorTime(name string) (time.Time, error) {
	v, err := d.GetCursor(name)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// PutCursorOffset is a typed convenience wrapper around PutCursor for file
// tailer byte offsets.
func (d *DB) PutCursorOffset(name string, offset int64) error {
	return d.PutCursor(name, strconv.FormatInt(offset, 10))
}

// GetCursorOffset parses a byte-offset cursor written by PutCursorOffset.
// Returns 0 if absent or unparseable (the tailer then rereads from start).
func (d *DB) GetCursorOffset(name string) (int64, error) {
	v, err := d.GetCursor(name)
	if err != nil || v == "" {
		return 0, err
	}
	v = strings.TrimSpace(v)
	off, convErr := strconv.ParseInt(v, 10, 64)
	if convErr != nil {
		return 0, nil
	}
	return off, nil
}
