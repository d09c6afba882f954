package offset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/rs/zerolog/log"
)

// FingerprintSize is how many leading bytes identify file content
const FingerprintSize = 256

// Tracker decides where reading of a log file resumes
type Tracker struct {
	parser  string
	records RecordReader
}

// NewTracker creates a tracker over the records of one parser namespace
func NewTracker(parser string, records RecordReader) *Tracker {
	return &Tracker{
		parser:  parser,
		records: records,
	}
}

// Open opens path and resolves its read position.
// Identity and size are taken from the open handle so they describe the bytes
// that will actually be read, even if the path is rotated right after.
// The caller owns the returned file.
func (t *Tracker) Open(ctx context.Context, path string) (*os.File, *Position, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", domain.ErrFileAccess, path, err)
	}

	pos, err := t.position(ctx, file, path)
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	if _, err := file.Seek(pos.StartOffset, io.SeekStart); err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("%w: seek %s to %d: %v", domain.ErrFileAccess, path, pos.StartOffset, err)
	}

	return file, pos, nil
}

func (t *Tracker) position(ctx context.Context, file *os.File, path string) (*Position, error) {
	id, size, err := statIdentity(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFileAccess, err)
	}

	fp, fpLen, err := fingerprint(file, min(size, FingerprintSize))
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint %s: %v", domain.ErrFileAccess, path, err)
	}

	pos := &Position{
		Path:           path,
		Identity:       id,
		Size:           size,
		Fingerprint:    fp,
		FingerprintLen: fpLen,
	}

	prev, err := t.records.GetFileRecord(ctx, t.parser, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load record for %s: %v", domain.ErrStorage, path, err)
	}
	pos.Previous = prev

	switch {
	case prev == nil:
		pos.Reset = domain.ResetNew

	case size < prev.Offset || size < int64(prev.FingerprintLen):
		pos.Reset = domain.ResetTruncated
		log.Info().
			Str("file", path).
			Str("identity", id.String()).
			Int64("saved_offset", prev.Offset).
			Int64("file_size", size).
			Msg("File truncated, starting from beginning")

	case !samePrefix(file, prev, fp, fpLen):
		pos.Reset = domain.ResetReplaced
		log.Info().
			Str("file", path).
			Str("identity", id.String()).
			Int64("saved_offset", prev.Offset).
			Msg("File content replaced in place, starting from beginning")

	default:
		pos.StartOffset = prev.Offset
		if prev.Path != path {
			log.Debug().
				Str("old_path", prev.Path).
				Str("new_path", path).
				Msg("Tracked file was renamed")
		}
	}

	return pos, nil
}

// samePrefix reports whether the head of the file still matches the stored fingerprint
func samePrefix(file *os.File, prev *domain.LogFileRecord, current string, currentLen int) bool {
	if prev.Fingerprint == "" || prev.FingerprintLen == 0 {
		return true
	}
	if prev.FingerprintLen == currentLen {
		return prev.Fingerprint == current
	}

	fp, _, err := fingerprint(file, int64(prev.FingerprintLen))
	if err != nil {
		return false
	}
	return fp == prev.Fingerprint
}

// fingerprint hashes the first n bytes of the file without moving its offset
func fingerprint(file *os.File, n int64) (string, int, error) {
	if n <= 0 {
		return "", 0, nil
	}

	buf := make([]byte, n)
	read, err := file.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return "", 0, err
	}

	sum := sha256.Sum256(buf[:read])
	return hex.EncodeToString(sum[:]), read, nil
}
