package logreader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// LineScanner yields complete lines from a reader positioned at a known offset.
// A trailing chunk without a newline is never yielded and never counted as
// consumed, so the next run re-reads it once the writer has finished the line.
type LineScanner struct {
	r        *bufio.Reader
	pos      int64 // Absolute offset of the next byte to read
	consumed int64 // Absolute offset just past the last complete line
	maxLine  int
	line     Line
	err      error
	done     bool
}

// NewLineScanner creates a scanner over r; start is the absolute offset r is positioned at
func NewLineScanner(r io.Reader, start int64) *LineScanner {
	return &LineScanner{
		r:        bufio.NewReaderSize(r, 64*1024),
		pos:      start,
		consumed: start,
		maxLine:  MaxLineBytes,
	}
}

// Scan advances to the next complete line
func (s *LineScanner) Scan() bool {
	if s.done {
		return false
	}

	start := s.pos
	var buf []byte
	truncated := false

	for {
		chunk, err := s.r.ReadSlice('\n')
		s.pos += int64(len(chunk))

		if room := s.maxLine - len(buf); room > 0 {
			take := min(len(chunk), room)
			buf = append(buf, chunk[:take]...)
			if take < len(chunk) {
				truncated = true
			}
		} else if len(chunk) > 0 {
			truncated = true
		}

		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		// EOF in the middle of a line: leave it for the next run
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("read at offset %d: %w", start, err)
		}
		return false
	}

	s.consumed = s.pos
	buf = bytes.TrimSuffix(buf, []byte("\n"))
	buf = bytes.TrimSuffix(buf, []byte("\r"))

	s.line = Line{
		Offset:    start,
		Text:      string(buf),
		Truncated: truncated,
	}
	return true
}

// Line returns the line produced by the last successful Scan
func (s *LineScanner) Line() Line {
	return s.line
}

// Consumed returns the absolute offset just past the last complete line.
// This is the offset to persist for the next run.
func (s *LineScanner) Consumed() int64 {
	return s.consumed
}

// Err returns the first non-EOF read error
func (s *LineScanner) Err() error {
	return s.err
}
