package offset

import (
	"context"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
)

// RecordReader looks up persisted read positions
// Implemented by every store backend
type RecordReader interface {
	// GetFileRecord returns the record for the identity, or nil if the file was never seen
	GetFileRecord(ctx context.Context, parser string, id domain.FileIdentity) (*domain.LogFileRecord, error)
}

// Position is where the next read of a file starts and why
type Position struct {
	Path           string
	Identity       domain.FileIdentity
	Size           int64
	StartOffset    int64
	Reset          domain.ResetReason
	Previous       *domain.LogFileRecord
	Fingerprint    string // Head fingerprint of the file as it is now
	FingerprintLen int
}
