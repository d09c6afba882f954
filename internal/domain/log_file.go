package domain

import (
	"fmt"
	"time"
)

// FileIdentity identifies the underlying file independent of its path
type FileIdentity struct {
	Device uint64
	Inode  uint64
}

func (id FileIdentity) String() string {
	return fmt.Sprintf("%d:%d", id.Device, id.Inode)
}

// LogFileRecord is the persisted read position of one log file
type LogFileRecord struct {
	Parser         string       // State namespace, e.g. "dspace_item_edits"
	Identity       FileIdentity
	Path           string       // Last known path, unstable across rotation
	Offset         int64        // Bytes consumed up to the end of the last complete line
	SizeSeen       int64        // File size observed by the run that wrote the record
	Fingerprint    string       // Hex SHA-256 of the first FingerprintLen bytes
	FingerprintLen int
	UpdatedAt      time.Time
}

// ResetReason explains why a file is read from byte 0
type ResetReason string

const (
	ResetNone      ResetReason = ""
	ResetNew       ResetReason = "new"
	ResetTruncated ResetReason = "truncated"
	ResetReplaced  ResetReason = "replaced"
)
