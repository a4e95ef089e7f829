package score

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecord(t *testing.T, dir, name string, value string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value), 0o644))
}

func TestNewRunID(t *testing.T) {
	ts := time.Date(2024, time.January, 2, 9, 5, 7, 0, time.Local)
	id := NewRunID(ts)

	assert.Equal(t, RunID("benchmark-2024-01-02_09-05-07"), id)
	assert.Equal(t, "benchmark-2024-01-02_09-05-07.log", id.FileName())

	started, err := id.StartedAt()
	require.NoError(t, err)
	assert.True(t, ts.Equal(started))
}

func TestRunID_StartedAtLegacy(t *testing.T) {
	started, err := RunID("benchmark-02-01-2024_09:00").StartedAt()
	require.NoError(t, err)
	assert.Equal(t, 2024, started.Year())
	assert.Equal(t, time.January, started.Month())
	assert.Equal(t, 2, started.Day())
	assert.Equal(t, 9, started.Hour())

	_, err = RunID("benchmark-garbage").StartedAt()
	assert.Error(t, err)
	_, err = RunID("other-2024-01-02_09-05-07").StartedAt()
	assert.Error(t, err)
}

func TestIncrement_Sequential(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)
	id := NewRunID(time.Now())

	const n = 25
	for i := 1; i <= n; i++ {
		got, err := l.Increment(id)
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}

	data, err := os.ReadFile(l.Path(id))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(n), string(data), "record holds only the decimal counter")
}

func TestIncrement_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)
	id := NewRunID(time.Now())

	_, err := l.Increment(id)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id.FileName(), entries[0].Name())
}

func TestRead_CreatesAtZero(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)
	id := NewRunID(time.Now())

	n, err := l.Read(id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	data, err := os.ReadFile(l.Path(id))
	require.NoError(t, err)
	assert.Equal(t, "0", string(data))
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)
	id := NewRunID(time.Now())

	_, err := l.Increment(id)
	require.NoError(t, err)
	require.NoError(t, l.Reset(id))

	n, err := l.Read(id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, l.Reset(RunID("benchmark-2000-01-01_00-00-00")), "missing record is not an error")
}

func TestIncrement_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)
	id := NewRunID(time.Now())
	writeRecord(t, dir, id.FileName(), "twelve")

	_, err := l.Increment(id)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestLatest_LaterDateWins(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "benchmark-01-01-2024_10:00", "3")
	writeRecord(t, dir, "benchmark-02-01-2024_09:00", "5")

	n, err := NewLedger(dir).LatestScore()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestLatest_SameDateLaterTimeWins(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "benchmark-01-01-2024_09:00", "2")
	writeRecord(t, dir, "benchmark-01-01-2024_10:00", "7")

	n, err := NewLedger(dir).LatestScore()
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestLatest_AcrossMonthsAndYears(t *testing.T) {
	dir := t.TempDir()
	// A plain string compare of DD-MM-YYYY would pick the first one.
	writeRecord(t, dir, "benchmark-31-12-2023_23:00.log", "9")
	writeRecord(t, dir, "benchmark-2024-01-01_08-00-00.log", "4")

	rec, ok, err := NewLedger(dir).Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, rec.Score)
	assert.Equal(t, RunID("benchmark-2024-01-01_08-00-00"), rec.ID)
}

func TestLatest_Empty(t *testing.T) {
	_, ok, err := NewLedger(t.TempDir()).Latest()
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := NewLedger(filepath.Join(t.TempDir(), "missing")).LatestScore()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHighest(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "benchmark-01-01-2024_10:00", "3")
	writeRecord(t, dir, "benchmark-02-01-2024_09:00.log", "11")
	writeRecord(t, dir, "benchmark-2024-03-01_12-00-00.log", "8")

	n, err := NewLedger(dir).Highest()
	require.NoError(t, err)
	assert.Equal(t, 11, n)
}

func TestHighest_Empty(t *testing.T) {
	n, err := NewLedger(t.TempDir()).Highest()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecords_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "benchmark-2024-03-01_12-00-00.log", "8")
	writeRecord(t, dir, "runs.db", "SQLite format 3")
	writeRecord(t, dir, "buildbench.pid", "1234\n")
	writeRecord(t, dir, "benchmark-notes.txt", "hello")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "repo-dir"), 0o755))

	records, err := NewLedger(dir).Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 8, records[0].Score)
}

func TestRecords_OldestFirst(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "benchmark-2024-03-01_12-00-00.log", "1")
	writeRecord(t, dir, "benchmark-2024-01-01_12-00-00.log", "2")
	writeRecord(t, dir, "benchmark-2024-02-01_12-00-00.log", "3")

	records, err := NewLedger(dir).Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int{2, 3, 1}, []int{records[0].Score, records[1].Score, records[2].Score})
}

func TestRecords_TrailingNewlineAccepted(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "benchmark-2024-03-01_12-00-00.log", "42\n")

	n, err := NewLedger(dir).Highest()
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
