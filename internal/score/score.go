// Package score persists the per-run build counter.
//
// Each run owns one record file under the application root named after the
// run's start time, e.g. benchmark-2024-01-02_09-00-00.log. The file holds
// only the ASCII decimal value of the counter. Records from older releases,
// named benchmark-DD-MM-YYYY_HH:MM.log, are still read.
package score

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	recordPrefix = "benchmark-"
	recordSuffix = ".log"

	// RunIDLayout is the time layout embedded in new record names. It sorts
	// chronologically as a string and avoids characters Windows rejects.
	RunIDLayout = "2006-01-02_15-04-05"
)

// legacyLayouts are accepted when reading existing records.
var legacyLayouts = []string{
	"02-01-2006_15:04",
	"02-01-2006_15:04:05",
}

// ErrCorruptRecord is returned when a record file does not hold a non-negative integer.
var ErrCorruptRecord = errors.New("corrupt score record")

// RunID identifies one benchmark run: the record file name without its extension.
type RunID string

// NewRunID returns the run identifier for a run started at t.
func NewRunID(t time.Time) RunID {
	return RunID(recordPrefix + t.Format(RunIDLayout))
}

// FileName is the record file name for the run.
func (id RunID) FileName() string {
	return string(id) + recordSuffix
}

// StartedAt parses the timestamp embedded in the identifier.
func (id RunID) StartedAt() (time.Time, error) {
	stamp, ok := strings.CutPrefix(string(id), recordPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("run id %q: missing %q prefix", id, recordPrefix)
	}
	stamp = strings.TrimSuffix(stamp, recordSuffix)
	layouts := append([]string{RunIDLayout}, legacyLayouts...)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, stamp, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("run id %q: unrecognised timestamp %q", id, stamp)
}

// Record is one persisted run counter.
type Record struct {
	ID        RunID
	Path      string
	StartedAt time.Time
	Score     int
}

// Ledger reads and writes score records under a root directory.
type Ledger struct {
	root string
}

// NewLedger returns a ledger over root.
func NewLedger(root string) *Ledger {
	return &Ledger{root: root}
}

// Root returns the directory the ledger scans.
func (l *Ledger) Root() string {
	return l.root
}

// Path returns the record file path for id.
func (l *Ledger) Path(id RunID) string {
	return filepath.Join(l.root, id.FileName())
}

// Reset removes any record for id so the run starts from zero.
func (l *Ledger) Reset(id RunID) error {
	if err := os.Remove(l.Path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset score record: %w", err)
	}
	return nil
}

// Read returns the counter for id, creating the record at 0 when absent.
func (l *Ledger) Read(id RunID) (int, error) {
	path := l.Path(id)
	n, err := readRecord(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeDurable(path, 0); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, err
}

// Increment adds one to the counter for id and returns the new value. The new
// value is on stable storage before Increment returns.
func (l *Ledger) Increment(id RunID) (int, error) {
	n, err := l.Read(id)
	if err != nil {
		return 0, err
	}
	n++
	if err := writeDurable(l.Path(id), n); err != nil {
		return 0, err
	}
	return n, nil
}

// Records scans the root and returns every well-formed record, oldest first.
// Files whose names carry no parseable timestamp are ignored; a record whose
// content is not a counter is an error.
func (l *Ledger) Records() ([]Record, error) {
	entries, err := os.ReadDir(l.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read score directory: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), recordPrefix) {
			continue
		}
		id := RunID(strings.TrimSuffix(entry.Name(), recordSuffix))
		started, err := id.StartedAt()
		if err != nil {
			continue
		}
		path := filepath.Join(l.root, entry.Name())
		n, err := readRecord(path)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{ID: id, Path: path, StartedAt: started, Score: n})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

// Highest returns the largest counter across all runs, or 0 when there are none.
func (l *Ledger) Highest() (int, error) {
	records, err := l.Records()
	if err != nil {
		return 0, err
	}
	best := 0
	for _, r := range records {
		best = max(best, r.Score)
	}
	return best, nil
}

// Latest returns the record with the latest start time. The date is compared
// first and the time of day only breaks ties between equal dates. ok is false
// when no records exist.
func (l *Ledger) Latest() (rec Record, ok bool, err error) {
	records, err := l.Records()
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range records {
		if !ok || later(r.StartedAt, rec.StartedAt) {
			rec, ok = r, true
		}
	}
	return rec, ok, nil
}

// LatestScore returns the latest run's counter, or 0 when there are no runs.
func (l *Ledger) LatestScore() (int, error) {
	rec, _, err := l.Latest()
	return rec.Score, err
}

func later(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if da, db := ay*10000+int(am)*100+ad, by*10000+int(bm)*100+bd; da != db {
		return da > db
	}
	return a.After(b)
}

func readRecord(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, fmt.Errorf("read score record: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s holds %q", ErrCorruptRecord, path, strings.TrimSpace(string(data)))
	}
	return n, nil
}

// writeDurable replaces path with the decimal text of n via a synced temp
// file and rename, then syncs the directory entry.
func writeDurable(path string, n int) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write score record: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.WriteString(strconv.Itoa(n)); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write score record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync score record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close score record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replace score record: %w", err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes a directory entry. Not every platform supports it, so
// failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
