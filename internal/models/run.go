package models

import "time"

// RunStatus represents the state of a benchmark run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusInterrupted RunStatus = "interrupted"
	// RunStatusEnded marks runs whose process went away without reporting,
	// which is how a run normally finishes: the battery dies.
	RunStatusEnded RunStatus = "ended"
)

// Run is the history entry for one benchmark run. The score file named by
// ScoreFile stays the source of truth for the counter; Score mirrors it.
type Run struct {
	ID           string
	ScoreFile    string
	RepoURL      string
	BuildCmd     string
	SourceCommit string
	GatePolicy   string
	Status       RunStatus
	Score        int
	Error        string
	StartedAt    time.Time
	EndedAt      *time.Time
}
