package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/editlog"
	"github.com/SteelMorgan/dspace-editlog/internal/logfiles"
	"github.com/SteelMorgan/dspace-editlog/internal/logreader"
	"github.com/SteelMorgan/dspace-editlog/internal/observability"
	"github.com/SteelMorgan/dspace-editlog/internal/offset"
	"github.com/SteelMorgan/dspace-editlog/internal/retry"
	"github.com/SteelMorgan/dspace-editlog/internal/store"
	"github.com/SteelMorgan/dspace-editlog/internal/writer"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// How often the scan loop checks for cancellation
const cancelCheckLines = 4096

// Records touched this recently are checked for unread bytes when their file disappears
const rotationWarnWindow = 24 * time.Hour

// Options configures one run
type Options struct {
	LogGlob        string
	ParserName     string
	DryRun         bool
	Location       *time.Location // Zone of log timestamps
	Retry          retry.Config
	PushgatewayURL string
}

// RunCoordinator drives one invocation: lock, resolve, scan each file, commit, report
type RunCoordinator struct {
	backend store.Backend
	opts    Options
	matcher *editlog.Matcher
	mirror  writer.EventMirror
	now     func() time.Time
}

// CoordinatorOption customizes a RunCoordinator
type CoordinatorOption func(*RunCoordinator)

// WithMirror mirrors newly recorded events
func WithMirror(m writer.EventMirror) CoordinatorOption {
	return func(c *RunCoordinator) { c.mirror = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *RunCoordinator) { c.now = now }
}

// NewRunCoordinator creates a coordinator over backend
func NewRunCoordinator(backend store.Backend, opts Options, options ...CoordinatorOption) *RunCoordinator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	c := &RunCoordinator{
		backend: backend,
		opts:    opts,
		matcher: editlog.NewMatcher(editlog.WithLocation(opts.Location)),
		now:     time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Run executes one invocation. It never returns nil; the summary's State is
// always terminal and Err is set when State is RunFailed.
func (c *RunCoordinator) Run(ctx context.Context) *domain.RunSummary {
	summary := &domain.RunSummary{
		RunID:     uuid.NewString(),
		Parser:    c.opts.ParserName,
		State:     domain.RunIdle,
		DryRun:    c.opts.DryRun,
		StartTime: c.now(),
	}

	ctx, span := observability.StartSpan(ctx, "editlog.run",
		attribute.String("run.id", summary.RunID),
		attribute.String("parser.name", summary.Parser),
		attribute.String("store.backend", c.backend.Name()),
		attribute.Bool("dry_run", summary.DryRun),
	)

	c.execute(ctx, summary)

	summary.EndTime = c.now()
	span.SetAttributes(
		attribute.String("run.state", string(summary.State)),
		attribute.Int("files.scanned", summary.FilesScanned),
		attribute.Int("files.skipped", summary.FilesSkipped),
		attribute.Int("events.new", summary.EventsNew),
	)
	observability.EndSpan(span, summary.Err, string(summary.State))

	c.report(ctx, summary)
	return summary
}

func (c *RunCoordinator) execute(ctx context.Context, summary *domain.RunSummary) {
	fail := func(err error) {
		summary.State = domain.RunFailed
		summary.Err = err
	}

	acquired, err := c.backend.Locker().TryAcquire(ctx)
	if err != nil {
		fail(fmt.Errorf("%w: acquire run lock: %v", domain.ErrStorage, err))
		return
	}
	if !acquired {
		summary.State = domain.RunSkipped
		log.Info().
			Str("parser", c.opts.ParserName).
			Str("store", c.backend.Name()).
			Msg("Another invocation holds the run lock, skipping")
		return
	}
	summary.State = domain.RunLockAcquired

	defer func() {
		// Release even when ctx is already cancelled
		if err := c.backend.Locker().Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	st, err := c.backend.Open(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrConfiguration) {
			err = fmt.Errorf("%w: open %s store: %v", domain.ErrStorage, c.backend.Name(), err)
		}
		fail(err)
		return
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close state store")
		}
	}()

	if err := st.Ping(ctx); err != nil {
		fail(fmt.Errorf("%w: ping %s store: %v", domain.ErrStorage, c.backend.Name(), err))
		return
	}

	paths, err := logfiles.Resolve(c.opts.LogGlob)
	if err != nil {
		fail(err)
		return
	}
	summary.FilesResolved = len(paths)
	summary.State = domain.RunScanning

	log.Info().
		Str("run_id", summary.RunID).
		Str("glob", c.opts.LogGlob).
		Int("files", len(paths)).
		Bool("dry_run", c.opts.DryRun).
		Msg("Run started")

	tracker := offset.NewTracker(c.opts.ParserName, st)
	recOpts := []writer.Option{
		writer.WithRetry(c.opts.Retry),
		writer.WithDryRun(c.opts.DryRun),
		writer.WithClock(c.now),
	}
	if c.mirror != nil {
		recOpts = append(recOpts, writer.WithMirror(c.mirror))
	}
	rec := writer.NewRecorder(st, summary.RunID, recOpts...)

	seen := make(map[domain.FileIdentity]struct{}, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}

		result, err := c.processFile(ctx, tracker, rec, path, summary)
		if err != nil {
			fail(err)
			return
		}

		summary.Add(result)
		if !result.Skipped {
			seen[result.Identity] = struct{}{}
		}
		logFileResult(result)
	}

	c.warnLostRotations(ctx, st, seen)
	summary.State = domain.RunDone
}

// processFile scans one file and commits its batch.
// Per-file failures are returned inside the result; only cancellation is returned as an error.
func (c *RunCoordinator) processFile(ctx context.Context, tracker *offset.Tracker, rec *writer.Recorder, path string, summary *domain.RunSummary) (result domain.FileResult, err error) {
	start := c.now()
	result.Path = path

	ctx, span := observability.StartSpan(ctx, "editlog.file", attribute.String("file.path", path))
	defer func() {
		result.Duration = c.now().Sub(start)
		span.SetAttributes(
			attribute.Int64("file.start_offset", result.StartOffset),
			attribute.Int64("file.end_offset", result.EndOffset),
			attribute.Int("file.lines", result.LinesRead),
			attribute.Int("file.matched", result.Matched),
			attribute.Int("file.inserted", result.Inserted),
			attribute.Bool("file.skipped", result.Skipped),
		)
		var spanErr error
		if result.Skipped {
			spanErr = errors.New(result.SkipReason)
		}
		if err != nil {
			spanErr = err
		}
		observability.EndSpan(span, spanErr, "file processed")
	}()

	skip := func(cause error) (domain.FileResult, error) {
		if isCancellation(ctx, cause) {
			return result, cause
		}
		result.Skipped = true
		result.SkipReason = cause.Error()
		log.Warn().
			Err(cause).
			Str("file", path).
			Msg("Skipping file")
		return result, nil
	}

	file, pos, err := tracker.Open(ctx, path)
	if err != nil {
		return skip(err)
	}
	defer file.Close()

	result.Identity = pos.Identity
	result.StartOffset = pos.StartOffset
	result.EndOffset = pos.StartOffset
	result.Reset = pos.Reset

	var events []domain.ItemUpdateEvent
	scanner := logreader.NewLineScanner(file, pos.StartOffset)
	for scanner.Scan() {
		result.LinesRead++
		if result.LinesRead%cancelCheckLines == 0 {
			if err := ctx.Err(); err != nil {
				return result, err
			}
		}

		line := scanner.Line()
		m, ok := c.matcher.Match(line.Text)
		if !ok {
			continue
		}
		if line.Truncated {
			log.Debug().
				Str("file", path).
				Int64("offset", line.Offset).
				Msg("Matched line exceeded the line limit and was truncated")
		}
		events = append(events, rec.NewEvent(path, pos.Identity, line, m))
	}
	if err := scanner.Err(); err != nil {
		return skip(fmt.Errorf("%w: %s: %v", domain.ErrFileAccess, path, err))
	}
	result.Matched = len(events)

	summary.State = domain.RunCommitting
	defer func() { summary.State = domain.RunScanning }()

	batch := &domain.FileBatch{
		Record: domain.LogFileRecord{
			Parser:         c.opts.ParserName,
			Identity:       pos.Identity,
			Path:           path,
			Offset:         scanner.Consumed(),
			SizeSeen:       pos.Size,
			Fingerprint:    pos.Fingerprint,
			FingerprintLen: pos.FingerprintLen,
		},
		Events: events,
	}

	inserted, err := rec.Record(ctx, batch)
	if err != nil {
		return skip(err)
	}

	result.EndOffset = batch.Record.Offset
	result.Inserted = len(inserted)
	return result, nil
}

// warnLostRotations reports files that left the resolved set with bytes this
// parser never read. Those bytes are not counted.
func (c *RunCoordinator) warnLostRotations(ctx context.Context, st store.Store, seen map[domain.FileIdentity]struct{}) {
	records, err := st.ListFileRecords(ctx, c.opts.ParserName)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to list file records for rotation check")
		return
	}

	cutoff := c.now().Add(-rotationWarnWindow)
	for _, r := range records {
		if _, ok := seen[r.Identity]; ok {
			continue
		}
		if r.UpdatedAt.Before(cutoff) || r.SizeSeen <= r.Offset {
			continue
		}

		_, statErr := os.Stat(r.Path)
		log.Warn().
			Str("file", r.Path).
			Str("identity", r.Identity.String()).
			Int64("offset", r.Offset).
			Int64("size_seen", r.SizeSeen).
			Int64("unread_bytes", r.SizeSeen-r.Offset).
			Bool("path_exists", statErr == nil).
			Msg("Rotated file left the log set with unread bytes, events in them are not counted")
	}
}

func (c *RunCoordinator) report(ctx context.Context, s *domain.RunSummary) {
	ev := log.Info()
	if s.State == domain.RunFailed {
		ev = log.Error().Err(s.Err)
	}
	ev.Str("run_id", s.RunID).
		Str("parser", s.Parser).
		Str("state", string(s.State)).
		Bool("dry_run", s.DryRun).
		Int("files_resolved", s.FilesResolved).
		Int("files_scanned", s.FilesScanned).
		Int("files_skipped", s.FilesSkipped).
		Int("lines_read", s.LinesRead).
		Int("events_matched", s.EventsMatched).
		Int("events_new", s.EventsNew).
		Dur("duration", s.EndTime.Sub(s.StartTime)).
		Msg("Run finished")

	if c.opts.PushgatewayURL == "" || s.DryRun {
		return
	}

	m := observability.NewRunMetrics()
	m.Observe(s)
	if err := m.Push(context.WithoutCancel(ctx), c.opts.PushgatewayURL, s.Parser); err != nil {
		log.Warn().Err(err).Msg("Failed to push run metrics")
	}
}

func logFileResult(r domain.FileResult) {
	if r.Skipped {
		return
	}
	ev := log.Info()
	if r.LinesRead == 0 && r.Reset == domain.ResetNone {
		ev = log.Debug()
	}
	ev.Str("file", r.Path).
		Str("identity", r.Identity.String()).
		Str("offset", fmt.Sprintf("%d->%d", r.StartOffset, r.EndOffset)).
		Str("reset", string(r.Reset)).
		Int("lines", r.LinesRead).
		Int("matched", r.Matched).
		Int("inserted", r.Inserted).
		Dur("duration", r.Duration).
		Msg("File processed")
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
