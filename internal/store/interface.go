package store

import (
	"context"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/runlock"
)

// Store persists read positions and deduplicated update events.
// Implementations: BoltStore (local file, default), PostgresStore (shared with the dashboard)
type Store interface {
	// GetFileRecord returns the record for the identity, or nil if the file was never seen
	GetFileRecord(ctx context.Context, parser string, id domain.FileIdentity) (*domain.LogFileRecord, error)

	// CommitFile atomically inserts the events whose (item_id, event_ts) key
	// is not yet present and upserts the batch's file record.
	// Either both effects are committed or neither is. Returns the events actually inserted.
	CommitFile(ctx context.Context, batch *domain.FileBatch) ([]domain.ItemUpdateEvent, error)

	// ListFileRecords returns all records of a parser namespace
	ListFileRecords(ctx context.Context, parser string) ([]domain.LogFileRecord, error)

	// CountEvents counts recorded events matching the query
	CountEvents(ctx context.Context, q EventQuery) (int64, error)

	// CountByEditor groups matching events by editor, largest first
	CountByEditor(ctx context.Context, q EventQuery) ([]GroupCount, error)

	// CountByMonth groups matching events by "YYYY-MM" of their event time, oldest first
	CountByMonth(ctx context.Context, q EventQuery) ([]GroupCount, error)

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error

	// Close releases the store
	Close() error
}

// EventQuery selects events by event time; zero bounds are open.
// From is inclusive, To is exclusive.
type EventQuery struct {
	From   time.Time
	To     time.Time
	Editor string
}

// GroupCount is one row of an aggregated count
type GroupCount struct {
	Key   string
	Count int64
}

// Backend bundles how to lock and open one kind of store
type Backend interface {
	// Name is "bolt" or "postgres"
	Name() string

	// Locker returns the run lock that guards this backend's state
	Locker() runlock.Locker

	// Open opens the store; called only while the run lock is held
	Open(ctx context.Context) (Store, error)

	// Close releases resources shared by the lock and the store
	Close() error
}

func (q EventQuery) contains(ts time.Time, editor string) bool {
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !ts.Before(q.To) {
		return false
	}
	if q.Editor != "" && q.Editor != editor {
		return false
	}
	return true
}
