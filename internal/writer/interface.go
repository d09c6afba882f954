package writer

import (
	"context"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
)

// Committer is the part of store.Store the recorder needs
type Committer interface {
	// CommitFile atomically stores new events and the file record,
	// returning the events that were not already present
	CommitFile(ctx context.Context, batch *domain.FileBatch) ([]domain.ItemUpdateEvent, error)
}

// EventMirror receives events after they are committed.
// Mirroring is best effort and must tolerate replays.
type EventMirror interface {
	MirrorEvents(ctx context.Context, events []domain.ItemUpdateEvent) error
	Close() error
}
