package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/editlog"
	"github.com/SteelMorgan/dspace-editlog/internal/logreader"
	"github.com/SteelMorgan/dspace-editlog/internal/retry"
	"github.com/rs/zerolog/log"
)

// Recorder turns matched lines into events and commits them one file at a time
type Recorder struct {
	store    Committer
	mirror   EventMirror
	retryCfg retry.Config
	runID    string
	dryRun   bool
	now      func() time.Time
}

// Option configures a Recorder
type Option func(*Recorder)

// WithMirror sends inserted events to m after each commit
func WithMirror(m EventMirror) Option {
	return func(r *Recorder) { r.mirror = m }
}

// WithRetry sets the retry policy for commits
func WithRetry(cfg retry.Config) Option {
	return func(r *Recorder) { r.retryCfg = cfg }
}

// WithDryRun disables all writes
func WithDryRun(dryRun bool) Option {
	return func(r *Recorder) { r.dryRun = dryRun }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder stamping events with runID
func NewRecorder(store Committer, runID string, opts ...Option) *Recorder {
	r := &Recorder{
		store:    store,
		retryCfg: retry.DefaultConfig(),
		runID:    runID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewEvent builds the event for a matched line of the file at path
func (r *Recorder) NewEvent(path string, id domain.FileIdentity, line logreader.Line, m editlog.Match) domain.ItemUpdateEvent {
	return domain.ItemUpdateEvent{
		ItemID:       m.ItemID,
		EventTime:    m.EventTime.UTC().Truncate(time.Second),
		Editor:       m.Editor,
		Action:       domain.ActionUpdateItem,
		SourcePath:   path,
		SourceOffset: line.Offset,
		LineHash:     calculateLineHash(id, line.Offset, line.Text),
		RunID:        r.runID,
	}
}

// Record commits the batch as one unit and returns the events that were new.
// In dry-run mode nothing is written and the batch's distinct events are returned.
func (r *Recorder) Record(ctx context.Context, batch *domain.FileBatch) ([]domain.ItemUpdateEvent, error) {
	if err := r.prepare(batch); err != nil {
		return nil, err
	}

	if r.dryRun {
		events := distinctEvents(batch.Events)
		log.Info().
			Str("file", batch.Record.Path).
			Int64("offset", batch.Record.Offset).
			Int("events", len(events)).
			Msg("Dry run: skipping commit")
		return events, nil
	}

	inserted, err := retry.DoWithResult(ctx, r.retryCfg, func() ([]domain.ItemUpdateEvent, error) {
		return r.store.CommitFile(ctx, batch)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	if r.mirror != nil && len(inserted) > 0 {
		if err := r.mirror.MirrorEvents(ctx, inserted); err != nil {
			log.Warn().
				Err(err).
				Str("file", batch.Record.Path).
				Int("events", len(inserted)).
				Msg("Failed to mirror events, state store is unaffected")
		}
	}

	return inserted, nil
}

// prepare validates the batch and fills the fields owned by the recorder
func (r *Recorder) prepare(batch *domain.FileBatch) error {
	if batch == nil {
		return fmt.Errorf("%w: nil batch", domain.ErrStorage)
	}

	rec := &batch.Record
	if rec.Parser == "" {
		return fmt.Errorf("%w: batch for %s has no parser name", domain.ErrStorage, rec.Path)
	}
	if rec.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d for %s", domain.ErrStorage, rec.Offset, rec.Path)
	}

	// The file may have grown while it was read
	if rec.SizeSeen < rec.Offset {
		rec.SizeSeen = rec.Offset
	}

	now := r.now().UTC()
	rec.UpdatedAt = now

	for i := range batch.Events {
		ev := &batch.Events[i]
		if ev.ItemID == "" {
			return fmt.Errorf("%w: event at offset %d has no item id", domain.ErrStorage, ev.SourceOffset)
		}
		if ev.Action == "" {
			ev.Action = domain.ActionUpdateItem
		}
		if ev.RunID == "" {
			ev.RunID = r.runID
		}
		ev.RecordedAt = now
	}

	return nil
}

func distinctEvents(events []domain.ItemUpdateEvent) []domain.ItemUpdateEvent {
	seen := make(map[domain.EventKey]struct{}, len(events))
	result := make([]domain.ItemUpdateEvent, 0, len(events))
	for _, ev := range events {
		key := ev.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, ev)
	}
	return result
}
