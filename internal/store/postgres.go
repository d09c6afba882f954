package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/runlock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresConfig describes the dashboard database connection
type PostgresConfig struct {
	URL             string // postgres:// URL or key=value DSN
	Username        string // Overrides the URL user when set
	Password        string // Overrides the URL password when set
	MaxConns        int32
	ApplicationName string
}

// NewPostgresPool parses cfg and dials the database
func NewPostgresPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := parsePoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to initialize pool: %w", err)
	}

	log.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Uint16("port", poolConfig.ConnConfig.Port).
		Str("database", poolConfig.ConnConfig.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Connected to PostgreSQL")

	return pool, nil
}

func parsePoolConfig(cfg PostgresConfig) (*pgxpool.Config, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: postgres connection URL is empty", domain.ErrConfiguration)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse postgres connection string: %v", domain.ErrConfiguration, err)
	}

	if cfg.Username != "" {
		poolConfig.ConnConfig.User = cfg.Username
	}
	if cfg.Password != "" {
		poolConfig.ConnConfig.Password = cfg.Password
	}

	// One connection holds the advisory lock, one runs the transactions
	poolConfig.MaxConns = 4
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	if cfg.ApplicationName != "" {
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	return poolConfig, nil
}

// PostgresStore implements Store on the dashboard database.
// The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore applies pending migrations and returns the store
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := RunMigrations(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

const (
	selectFileRecordSQL = `
SELECT file_path, file_offset, size_seen, fingerprint, fingerprint_len, updated_at
FROM dashboard_log_parser_state
WHERE parser_name = $1 AND device_id = $2 AND inode = $3`

	listFileRecordsSQL = `
SELECT device_id, inode, file_path, file_offset, size_seen, fingerprint, fingerprint_len, updated_at
FROM dashboard_log_parser_state
WHERE parser_name = $1
ORDER BY updated_at DESC`

	insertEventSQL = `
INSERT INTO dashboard_item_edit_events
    (item_id, event_ts, user_email, action, source_file, source_offset, line_hash, run_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (item_id, event_ts) DO NOTHING`

	upsertFileRecordSQL = `
INSERT INTO dashboard_log_parser_state
    (parser_name, device_id, inode, file_path, file_offset, size_seen, fingerprint, fingerprint_len, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (parser_name, device_id, inode) DO UPDATE SET
    file_path       = EXCLUDED.file_path,
    file_offset     = EXCLUDED.file_offset,
    size_seen       = EXCLUDED.size_seen,
    fingerprint     = EXCLUDED.fingerprint,
    fingerprint_len = EXCLUDED.fingerprint_len,
    updated_at      = EXCLUDED.updated_at`
)

// GetFileRecord retrieves the record for a file identity
func (s *PostgresStore) GetFileRecord(ctx context.Context, parser string, id domain.FileIdentity) (*domain.LogFileRecord, error) {
	rec := &domain.LogFileRecord{Parser: parser, Identity: id}

	err := s.pool.QueryRow(ctx, selectFileRecordSQL, parser, int64(id.Device), int64(id.Inode)).Scan(
		&rec.Path, &rec.Offset, &rec.SizeSeen, &rec.Fingerprint, &rec.FingerprintLen, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}

	return rec, nil
}

// CommitFile inserts new events and upserts the file record in one transaction
func (s *PostgresStore) CommitFile(ctx context.Context, batch *domain.FileBatch) ([]domain.ItemUpdateEvent, error) {
	var inserted []domain.ItemUpdateEvent

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		inserted = inserted[:0]

		if len(batch.Events) > 0 {
			b := &pgx.Batch{}
			for i := range batch.Events {
				ev := &batch.Events[i]
				key := ev.Key()
				b.Queue(insertEventSQL,
					key.ItemID,
					key.EventTime,
					ev.Editor,
					ev.Action,
					textParam(ev.SourcePath),
					ev.SourceOffset,
					ev.LineHash,
					runIDParam(ev.RunID),
				)
			}

			br := tx.SendBatch(ctx, b)
			for i := range batch.Events {
				tag, err := br.Exec()
				if err != nil {
					_ = br.Close()
					return fmt.Errorf("insert event item_id=%s: %w", batch.Events[i].ItemID, err)
				}
				if tag.RowsAffected() == 1 {
					inserted = append(inserted, batch.Events[i])
				}
			}
			if err := br.Close(); err != nil {
				return err
			}
		}

		rec := batch.Record
		_, err := tx.Exec(ctx, upsertFileRecordSQL,
			rec.Parser,
			int64(rec.Identity.Device),
			int64(rec.Identity.Inode),
			textParam(rec.Path),
			rec.Offset,
			rec.SizeSeen,
			rec.Fingerprint,
			rec.FingerprintLen,
			rec.UpdatedAt,
		)
		return err
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

// ListFileRecords returns all stored records of a parser namespace, most recent first
func (s *PostgresStore) ListFileRecords(ctx context.Context, parser string) ([]domain.LogFileRecord, error) {
	rows, err := s.pool.Query(ctx, listFileRecordsSQL, parser)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer rows.Close()

	var result []domain.LogFileRecord
	for rows.Next() {
		var (
			rec        = domain.LogFileRecord{Parser: parser}
			dev, inode int64
		)
		if err := rows.Scan(&dev, &inode, &rec.Path, &rec.Offset, &rec.SizeSeen,
			&rec.Fingerprint, &rec.FingerprintLen, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		rec.Identity = domain.FileIdentity{Device: uint64(dev), Inode: uint64(inode)}
		result = append(result, rec)
	}

	return result, rows.Err()
}

// CountEvents counts recorded events matching the query
func (s *PostgresStore) CountEvents(ctx context.Context, q EventQuery) (int64, error) {
	where, args := q.sqlFilter()

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM dashboard_item_edit_events`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// CountByEditor groups matching events by editor, largest first
func (s *PostgresStore) CountByEditor(ctx context.Context, q EventQuery) ([]GroupCount, error) {
	where, args := q.sqlFilter()
	return s.groupCounts(ctx, `
SELECT user_email, count(*) AS n FROM dashboard_item_edit_events`+where+`
GROUP BY user_email
ORDER BY n DESC, user_email`, args)
}

// CountByMonth groups matching events by calendar month, oldest first
func (s *PostgresStore) CountByMonth(ctx context.Context, q EventQuery) ([]GroupCount, error) {
	where, args := q.sqlFilter()
	return s.groupCounts(ctx, `
SELECT to_char(date_trunc('month', event_ts), 'YYYY-MM') AS month, count(*) FROM dashboard_item_edit_events`+where+`
GROUP BY month
ORDER BY month`, args)
}

func (s *PostgresStore) groupCounts(ctx context.Context, query string, args []any) ([]GroupCount, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group events: %w", err)
	}
	defer rows.Close()

	var result []GroupCount
	for rows.Next() {
		var g GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller
func (s *PostgresStore) Close() error {
	return nil
}

// sqlFilter renders the query as a WHERE clause with positional arguments
func (q EventQuery) sqlFilter() (string, []any) {
	var (
		conds []string
		args  []any
	)

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !q.From.IsZero() {
		add("event_ts >= $%d", q.From.UTC())
	}
	if !q.To.IsZero() {
		add("event_ts < $%d", q.To.UTC())
	}
	if q.Editor != "" {
		add("user_email = $%d", q.Editor)
	}

	if len(conds) == 0 {
		return "", nil
	}

	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// textParam makes a file name storable in a text column
func textParam(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

// runIDParam maps an empty or malformed run id to NULL
func runIDParam(runID string) any {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil
	}
	return id
}

// PostgresBackend shares one pool between the advisory run lock and the store
type PostgresBackend struct {
	cfg    PostgresConfig
	parser string

	mu   sync.Mutex
	pool *pgxpool.Pool
	lock *AdvisoryLock
}

// NewPostgresBackend creates a backend; the pool is dialed on first use
func NewPostgresBackend(cfg PostgresConfig, parser string) *PostgresBackend {
	b := &PostgresBackend{cfg: cfg, parser: parser}
	b.lock = &AdvisoryLock{key: advisoryKey(parser), pool: b.getPool}
	return b
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Locker() runlock.Locker { return b.lock }

func (b *PostgresBackend) Open(ctx context.Context) (Store, error) {
	pool, err := b.getPool(ctx)
	if err != nil {
		return nil, err
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return NewPostgresStore(migrateCtx, pool)
}

func (b *PostgresBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return nil
}

func (b *PostgresBackend) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pool != nil {
		return b.pool, nil
	}

	pool, err := NewPostgresPool(ctx, b.cfg)
	if err != nil {
		return nil, err
	}
	b.pool = pool
	return pool, nil
}
