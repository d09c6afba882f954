package domain

import "time"

// ActionUpdateItem is the only operation recorded by the parser
const ActionUpdateItem = "update_item"

// ItemUpdateEvent represents one confirmed "item updated" log line
// (ItemID, EventTime) is unique across the lifetime of the store
type ItemUpdateEvent struct {
	ItemID       string
	EventTime    time.Time // Second resolution, UTC
	Editor       string    // "@ user" field of the log line, may be empty
	Action       string
	SourcePath   string
	SourceOffset int64  // Byte offset of the line start
	LineHash     string // Secondary key: hex SHA-256 of device:inode:offset:line
	RunID        string
	RecordedAt   time.Time
}

// EventKey is the deduplication key of an ItemUpdateEvent
type EventKey struct {
	ItemID    string
	EventTime time.Time
}

// Key returns the deduplication key of the event
func (e *ItemUpdateEvent) Key() EventKey {
	return EventKey{ItemID: e.ItemID, EventTime: e.EventTime.UTC().Truncate(time.Second)}
}

// FileBatch is the unit of work committed atomically for one file:
// the events matched in the scanned byte range and the new read position
type FileBatch struct {
	Record LogFileRecord
	Events []ItemUpdateEvent
}
