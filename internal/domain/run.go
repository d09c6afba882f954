package domain

import "time"

// RunState is the lifecycle state of a single invocation
type RunState string

const (
	RunIdle         RunState = "idle"
	RunLockAcquired RunState = "lock_acquired"
	RunScanning     RunState = "scanning"
	RunCommitting   RunState = "committing"
	RunDone         RunState = "done"
	RunSkipped      RunState = "skipped"
	RunFailed       RunState = "failed"
)

// Terminal reports whether no further transition is possible
func (s RunState) Terminal() bool {
	return s == RunDone || s == RunSkipped || s == RunFailed
}

// FileResult is the outcome of scanning one file
type FileResult struct {
	Path        string
	Identity    FileIdentity
	StartOffset int64
	EndOffset   int64
	Reset       ResetReason
	LinesRead   int
	Matched     int
	Inserted    int
	Skipped     bool
	SkipReason  string
	Duration    time.Duration
}

// RunSummary is reported at the end of every invocation
type RunSummary struct {
	RunID         string
	Parser        string
	State         RunState
	DryRun        bool
	FilesResolved int
	FilesScanned  int
	FilesSkipped  int
	LinesRead     int
	EventsMatched int
	EventsNew     int
	Files         []FileResult
	StartTime     time.Time
	EndTime       time.Time
	Err           error
}

// Add folds a per-file result into the totals
func (s *RunSummary) Add(r FileResult) {
	s.Files = append(s.Files, r)
	if r.Skipped {
		s.FilesSkipped++
		return
	}
	s.FilesScanned++
	s.LinesRead += r.LinesRead
	s.EventsMatched += r.Matched
	s.EventsNew += r.Inserted
}
