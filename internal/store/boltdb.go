package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/runlock"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

var (
	filesBucket       = []byte("files")
	eventsBucket      = []byte("events")
	eventsByTimeIndex = []byte("events_by_time")
)

// BoltStore implements Store using BoltDB.
// Each CommitFile is a single bbolt read-write transaction.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the state database at dbPath
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	// Short timeout: bbolt holds its own flock on the file
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{filesBucket, eventsBucket, eventsByTimeIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	log.Debug().
		Str("db_path", dbPath).
		Msg("BoltDB state store opened")

	return &BoltStore{db: db}, nil
}

// fileRecordValue is the JSON layout of a files bucket value
type fileRecordValue struct {
	Path           string    `json:"path"`
	Offset         int64     `json:"offset"`
	SizeSeen       int64     `json:"size_seen"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	FingerprintLen int       `json:"fingerprint_len,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// eventValue is the JSON layout of an events bucket value
type eventValue struct {
	Editor       string    `json:"editor,omitempty"`
	Action       string    `json:"action"`
	SourcePath   string    `json:"source_path"`
	SourceOffset int64     `json:"source_offset"`
	LineHash     string    `json:"line_hash"`
	RunID        string    `json:"run_id,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// GetFileRecord retrieves the record for a file identity
func (s *BoltStore) GetFileRecord(ctx context.Context, parser string, id domain.FileIdentity) (*domain.LogFileRecord, error) {
	var rec *domain.LogFileRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(filesBucket).Get(fileKey(parser, id))
		if val == nil {
			return nil
		}

		var v fileRecordValue
		if err := json.Unmarshal(val, &v); err != nil {
			return fmt.Errorf("invalid file record: %w", err)
		}
		rec = v.toRecord(parser, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}

	return rec, nil
}

// CommitFile inserts new events and the file record in one transaction
func (s *BoltStore) CommitFile(ctx context.Context, batch *domain.FileBatch) ([]domain.ItemUpdateEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var inserted []domain.ItemUpdateEvent

	err := s.db.Update(func(tx *bbolt.Tx) error {
		inserted = inserted[:0]
		events := tx.Bucket(eventsBucket)
		byTime := tx.Bucket(eventsByTimeIndex)

		for _, ev := range batch.Events {
			key := eventKey(ev.Key())
			if events.Get(key) != nil {
				continue
			}

			val, err := json.Marshal(eventValue{
				Editor:       ev.Editor,
				Action:       ev.Action,
				SourcePath:   ev.SourcePath,
				SourceOffset: ev.SourceOffset,
				LineHash:     ev.LineHash,
				RunID:        ev.RunID,
				RecordedAt:   ev.RecordedAt,
			})
			if err != nil {
				return err
			}
			if err := events.Put(key, val); err != nil {
				return err
			}
			if err := byTime.Put(timeIndexKey(ev.Key()), []byte(ev.Editor)); err != nil {
				return err
			}
			inserted = append(inserted, ev)
		}

		rec := batch.Record
		val, err := json.Marshal(fileRecordValue{
			Path:           rec.Path,
			Offset:         rec.Offset,
			SizeSeen:       rec.SizeSeen,
			Fingerprint:    rec.Fingerprint,
			FingerprintLen: rec.FingerprintLen,
			UpdatedAt:      rec.UpdatedAt,
		})
		if err != nil {
			return err
		}
		return tx.Bucket(filesBucket).Put(fileKey(rec.Parser, rec.Identity), val)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit file batch: %w", err)
	}

	log.Debug().
		Str("file", batch.Record.Path).
		Int64("offset", batch.Record.Offset).
		Int("inserted", len(inserted)).
		Msg("File batch committed")

	return inserted, nil
}

// ListFileRecords returns all stored records of a parser namespace
func (s *BoltStore) ListFileRecords(ctx context.Context, parser string) ([]domain.LogFileRecord, error) {
	var result []domain.LogFileRecord
	prefix := append([]byte(parser), 0)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(filesBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			id, ok := parseFileKey(k[len(prefix):])
			if !ok {
				continue
			}
			var fv fileRecordValue
			if err := json.Unmarshal(v, &fv); err != nil {
				return fmt.Errorf("invalid file record: %w", err)
			}
			result = append(result, *fv.toRecord(parser, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}

	return result, nil
}

// CountEvents counts events in the time index
func (s *BoltStore) CountEvents(ctx context.Context, q EventQuery) (int64, error) {
	var n int64
	err := s.scanByTime(q, func(_ time.Time, _ string) {
		n++
	})
	return n, err
}

// CountByEditor groups events by editor
func (s *BoltStore) CountByEditor(ctx context.Context, q EventQuery) ([]GroupCount, error) {
	counts := make(map[string]int64)
	if err := s.scanByTime(q, func(_ time.Time, editor string) {
		counts[editor]++
	}); err != nil {
		return nil, err
	}

	result := toGroups(counts)
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Key < result[j].Key
	})
	return result, nil
}

// CountByMonth groups events by calendar month of the event time
func (s *BoltStore) CountByMonth(ctx context.Context, q EventQuery) ([]GroupCount, error) {
	counts := make(map[string]int64)
	if err := s.scanByTime(q, func(ts time.Time, _ string) {
		counts[ts.Format("2006-01")]++
	}); err != nil {
		return nil, err
	}

	result := toGroups(counts)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

// Ping checks the database is open
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(filesBucket) == nil {
			return errors.New("files bucket not found")
		}
		return nil
	})
}

// Close closes the BoltDB database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) scanByTime(q EventQuery, fn func(ts time.Time, editor string)) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(eventsByTimeIndex).Cursor()

		var k, v []byte
		if q.From.IsZero() {
			k, v = c.First()
		} else {
			k, v = c.Seek(timePrefix(q.From))
		}

		for ; k != nil; k, v = c.Next() {
			if len(k) < 8 {
				continue
			}
			ts := time.Unix(int64(binary.BigEndian.Uint64(k[:8])), 0).UTC()
			if !q.To.IsZero() && !ts.Before(q.To) {
				break
			}
			if q.contains(ts, string(v)) {
				fn(ts, string(v))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan events: %w", err)
	}
	return nil
}

func toGroups(counts map[string]int64) []GroupCount {
	result := make([]GroupCount, 0, len(counts))
	for k, n := range counts {
		result = append(result, GroupCount{Key: k, Count: n})
	}
	return result
}

func (v fileRecordValue) toRecord(parser string, id domain.FileIdentity) *domain.LogFileRecord {
	return &domain.LogFileRecord{
		Parser:         parser,
		Identity:       id,
		Path:           v.Path,
		Offset:         v.Offset,
		SizeSeen:       v.SizeSeen,
		Fingerprint:    v.Fingerprint,
		FingerprintLen: v.FingerprintLen,
		UpdatedAt:      v.UpdatedAt,
	}
}

// fileKey is parser NUL device(8) inode(8)
func fileKey(parser string, id domain.FileIdentity) []byte {
	key := make([]byte, 0, len(parser)+17)
	key = append(key, parser...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint64(key, id.Device)
	key = binary.BigEndian.AppendUint64(key, id.Inode)
	return key
}

func parseFileKey(b []byte) (domain.FileIdentity, bool) {
	if len(b) != 16 {
		return domain.FileIdentity{}, false
	}
	return domain.FileIdentity{
		Device: binary.BigEndian.Uint64(b[:8]),
		Inode:  binary.BigEndian.Uint64(b[8:]),
	}, true
}

// eventKey is item_id NUL unix-seconds(8)
func eventKey(k domain.EventKey) []byte {
	key := make([]byte, 0, len(k.ItemID)+9)
	key = append(key, k.ItemID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, uint64(k.EventTime.Unix()))
}

// timeIndexKey is unix-seconds(8) item_id, ordered by event time
func timeIndexKey(k domain.EventKey) []byte {
	return append(timePrefix(k.EventTime), k.ItemID...)
}

func timePrefix(t time.Time) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(t.Unix()))
}

// BoltBackend guards a BoltStore with an flock on a sibling lock file
type BoltBackend struct {
	path string
	lock *runlock.FileLock
}

// NewBoltBackend creates a backend for the state database at path
func NewBoltBackend(path string) *BoltBackend {
	return &BoltBackend{
		path: path,
		lock: runlock.NewFileLock(path + ".lock"),
	}
}

func (b *BoltBackend) Name() string { return "bolt" }

func (b *BoltBackend) Locker() runlock.Locker { return b.lock }

func (b *BoltBackend) Open(ctx context.Context) (Store, error) {
	return NewBoltStore(b.path)
}

func (b *BoltBackend) Close() error { return nil }
