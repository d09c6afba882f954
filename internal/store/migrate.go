package store

import (
	"context"
	"embed"
	"fmt"
	"hash/fnv"
	"io/fs"
	"sort"
	"strings"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const migrationsTable = "editlog_schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// expectedColumns lists the columns the store reads and writes, per table
var expectedColumns = map[string][]string{
	"dashboard_item_edit_events": {
		"item_id", "event_ts", "user_email", "action",
		"source_file", "source_offset", "line_hash", "run_id",
	},
	"dashboard_log_parser_state": {
		"parser_name", "device_id", "inode", "file_path", "file_offset",
		"size_seen", "fingerprint", "fingerprint_len", "updated_at",
	},
}

// RunMigrations applies embedded *.up.sql files that have not been applied yet
// and checks the resulting layout. Concurrent callers are serialized by a
// transaction-level advisory lock.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey()); err != nil {
			return fmt.Errorf("migrations: take schema lock: %w", err)
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			version     TEXT PRIMARY KEY,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, migrationsTable)); err != nil {
			return fmt.Errorf("migrations: create tracking table: %w", err)
		}

		applied, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}

		filenames, err := migrationFiles()
		if err != nil {
			return err
		}

		for _, name := range filenames {
			version := extractVersion(name)
			if _, ok := applied[version]; ok {
				continue
			}

			log.Info().Str("migration", name).Msg("Applying migration")

			content, err := migrationsFS.ReadFile("migrations/" + name)
			if err != nil {
				return fmt.Errorf("migrations: read %s: %w", name, err)
			}

			for idx, stmt := range splitSQLStatements(string(content)) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("migrations: statement %d in %s failed: %w", idx+1, name, err)
				}
			}

			if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (version) VALUES ($1)`, migrationsTable), version); err != nil {
				return fmt.Errorf("migrations: record %s: %w", name, err)
			}
		}

		return verifySchema(ctx, tx)
	})
}

func appliedVersions(ctx context.Context, tx pgx.Tx) (map[string]struct{}, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT version FROM %s`, migrationsTable))
	if err != nil {
		return nil, fmt.Errorf("migrations: list applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("migrations: scan applied version: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("migrations: iterate applied versions: %w", err)
	}
	return applied, nil
}

// verifySchema fails when a table the store uses lacks one of its columns
func verifySchema(ctx context.Context, tx pgx.Tx) error {
	tables := make([]string, 0, len(expectedColumns))
	for table := range expectedColumns {
		tables = append(tables, table)
	}

	rows, err := tx.Query(ctx, `
SELECT table_name::text, column_name::text
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name::text = ANY($1)`, tables)
	if err != nil {
		return fmt.Errorf("migrations: read schema: %w", err)
	}
	defer rows.Close()

	present := make(map[string]map[string]struct{})
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return fmt.Errorf("migrations: scan schema: %w", err)
		}
		if present[table] == nil {
			present[table] = make(map[string]struct{})
		}
		present[table][column] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrations: iterate schema: %w", err)
	}

	if missing := missingColumns(expectedColumns, present); len(missing) > 0 {
		return fmt.Errorf("%w: schema is missing columns: %s", domain.ErrStorage, strings.Join(missing, ", "))
	}
	return nil
}

// missingColumns returns sorted "table.column" names absent from present
func missingColumns(expected map[string][]string, present map[string]map[string]struct{}) []string {
	var missing []string
	for table, columns := range expected {
		for _, column := range columns {
			if _, ok := present[table][column]; !ok {
				missing = append(missing, table+"."+column)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

// schemaLockKey is disjoint from the per-parser run lock keys
func schemaLockKey() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("editlog-schema"))
	return int64(h.Sum64())
}

func migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: read embedded migrations: %w", err)
	}

	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		filenames = append(filenames, entry.Name())
	}

	sort.Strings(filenames)
	return filenames, nil
}

// extractVersion turns "0001_edit_events.up.sql" into "0001_edit_events"
func extractVersion(name string) string {
	return strings.TrimSuffix(name, ".up.sql")
}

// splitSQLStatements splits a migration on ';' at line ends, dropping comment-only
// chunks. Dollar-quoted bodies ($$ ... $$) are kept whole.
func splitSQLStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
		inDollar   bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		current.Reset()
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inDollar && (strings.HasPrefix(trimmed, "--") || trimmed == "") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.Count(line, "$$")%2 == 1 {
			inDollar = !inDollar
		}

		if !inDollar && strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}
