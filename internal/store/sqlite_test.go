package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/buildbench/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRun(scoreFile string, startedAt time.Time) *models.Run {
	return &models.Run{
		ScoreFile:  scoreFile,
		RepoURL:    "https://github.com/rust-lang/rustlings",
		BuildCmd:   "cargo build --release",
		GatePolicy: "once",
		StartedAt:  startedAt,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Run lifecycle ---

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Create
	r := newTestRun("benchmark-2026-10-18_09-30-00.log", time.Now().UTC())
	r.SourceCommit = "abc1234"
	require.NoError(t, s.CreateRun(ctx, r))
	assert.NotEmpty(t, r.ID, "should assign a ULID")
	assert.Equal(t, models.RunStatusRunning, r.Status)

	// Read
	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ScoreFile, got.ScoreFile)
	assert.Equal(t, "abc1234", got.SourceCommit)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Equal(t, 0, got.Score)
	assert.Nil(t, got.EndedAt)

	// Score updates
	require.NoError(t, s.UpdateRunScore(ctx, r.ID, 3))
	got, err = s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Score)

	// Finish
	require.NoError(t, s.FinishRun(ctx, r.ID, models.RunStatusFailed, "build failed"))
	got, err = s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "build failed", got.Error)
	require.NotNil(t, got.EndedAt)
}

func TestGetRun_Lookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRun("benchmark-2026-10-18_09-30-00.log", time.Now().UTC())
	require.NoError(t, s.CreateRun(ctx, r))

	t.Run("prefix", func(t *testing.T) {
		got, err := s.GetRun(ctx, r.ID[:12])
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
	})

	t.Run("score file", func(t *testing.T) {
		got, err := s.GetRun(ctx, "benchmark-2026-10-18_09-30-00.log")
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
	})

	t.Run("score file without extension", func(t *testing.T) {
		got, err := s.GetRun(ctx, "benchmark-2026-10-18_09-30-00")
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetRun(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := s.GetRun(ctx, "  ")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateRun_UniqueScoreFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, newTestRun("benchmark-2026-10-18_09-30-00.log", time.Now().UTC())))
	err := s.CreateRun(ctx, newTestRun("benchmark-2026-10-18_09-30-00.log", time.Now().UTC()))
	assert.Error(t, err, "duplicate score file should fail")
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{
		"benchmark-2026-10-18_09-00-00.log",
		"benchmark-2026-10-18_10-00-00.log",
		"benchmark-2026-10-18_11-00-00.log",
	} {
		require.NoError(t, s.CreateRun(ctx, newTestRun(name, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "benchmark-2026-10-18_11-00-00.log", runs[0].ScoreFile, "newest first")
	assert.Equal(t, "benchmark-2026-10-18_09-00-00.log", runs[2].ScoreFile)

	limited, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestUpdateRunScore_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateRunScore(context.Background(), "01MISSING", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseStaleRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := newTestRun("benchmark-2026-10-17_09-00-00.log", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, s.CreateRun(ctx, stale))

	done := newTestRun("benchmark-2026-10-16_09-00-00.log", time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, s.CreateRun(ctx, done))
	require.NoError(t, s.FinishRun(ctx, done.ID, models.RunStatusInterrupted, ""))

	n, err := s.CloseStaleRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusEnded, got.Status)

	got, err = s.GetRun(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusInterrupted, got.Status)
}
