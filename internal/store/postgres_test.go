package store

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryKey(t *testing.T) {
	assert.Equal(t, advisoryKey("dspace_item_edits"), advisoryKey("dspace_item_edits"))
	assert.NotEqual(t, advisoryKey("dspace_item_edits"), advisoryKey("other"))
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- header comment
CREATE TABLE a (
    id INT
);

-- between
CREATE INDEX a_idx
    ON a (id);
`
	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "ON a (id);")
}

func TestSplitSQLStatements_DollarQuotedBody(t *testing.T) {
	content := `-- upgrade
DO $$
BEGIN
    -- inside the body
    ALTER TABLE a ADD COLUMN b INT;

    UPDATE a SET b = 1;
END
$$;
CREATE INDEX a_b ON a (b);
`
	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "DO $$"))
	assert.True(t, strings.HasSuffix(stmts[0], "$$;"))
	assert.Contains(t, stmts[0], "UPDATE a SET b = 1;")
	assert.Equal(t, "CREATE INDEX a_b ON a (b);", stmts[1])
}

func TestMigrationFiles(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.Equal(t, []string{
		"0001_edit_events.up.sql",
		"0002_parser_state.up.sql",
		"0003_upgrade_legacy_tables.up.sql",
	}, files)

	assert.Equal(t, "0001_edit_events.up.sql", files[0])
	assert.Equal(t, "0001_edit_events", extractVersion(files[0]))
	for _, f := range files {
		content, err := migrationsFS.ReadFile("migrations/" + f)
		require.NoError(t, err)
		assert.NotEmpty(t, splitSQLStatements(string(content)), f)
	}
}

func TestEventQuery_SQLFilter(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		query     EventQuery
		wantWhere string
		wantArgs  int
	}{
		{"empty", EventQuery{}, "", 0},
		{"from only", EventQuery{From: from}, " WHERE event_ts >= $1", 1},
		{"editor only", EventQuery{Editor: "a@x.org"}, " WHERE user_email = $1", 1},
		{"all", EventQuery{From: from, To: to, Editor: "a@x.org"},
			" WHERE event_ts >= $1 AND event_ts < $2 AND user_email = $3", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := tt.query.sqlFilter()
			assert.Equal(t, tt.wantWhere, where)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestParsePoolConfig(t *testing.T) {
	cfg, err := parsePoolConfig(PostgresConfig{
		URL:             "postgres://dspace@db.example.org:5433/dspace?sslmode=disable",
		Password:        "secret",
		ApplicationName: "editlog-parser",
	})
	require.NoError(t, err)
	assert.Equal(t, "db.example.org", cfg.ConnConfig.Host)
	assert.Equal(t, uint16(5433), cfg.ConnConfig.Port)
	assert.Equal(t, "dspace", cfg.ConnConfig.Database)
	assert.Equal(t, "dspace", cfg.ConnConfig.User)
	assert.Equal(t, "secret", cfg.ConnConfig.Password)
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, "editlog-parser", cfg.ConnConfig.RuntimeParams["application_name"])

	_, err = parsePoolConfig(PostgresConfig{})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestRunIDParam(t *testing.T) {
	assert.Nil(t, runIDParam(""))
	assert.Nil(t, runIDParam("not-a-uuid"))

	id := uuid.New()
	assert.Equal(t, id, runIDParam(id.String()))
}

func readMigration(t *testing.T, name string) string {
	t.Helper()
	content, err := migrationsFS.ReadFile("migrations/" + name)
	require.NoError(t, err)
	return string(content)
}

func columnSet(columns ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return set
}

func TestMigrations_FreshLayoutHasExpectedColumns(t *testing.T) {
	fresh := readMigration(t, "0001_edit_events.up.sql") + readMigration(t, "0002_parser_state.up.sql")
	for table, columns := range expectedColumns {
		for _, c := range columns {
			assert.Regexp(t, `(?m)^\s+`+c+`\s`, fresh, "%s.%s", table, c)
		}
	}
}

func TestMigrations_LegacyLayoutIsUpgraded(t *testing.T) {
	// Layout left behind by the earlier line_hash/file_path parser
	legacy := map[string]map[string]struct{}{
		"dashboard_item_edit_events": columnSet("id", "event_ts", "user_email", "item_uuid",
			"action", "source_file", "source_offset", "line_hash", "created_at"),
		"dashboard_log_parser_state": columnSet("parser_name", "file_path", "inode",
			"file_offset", "updated_at"),
	}

	missing := missingColumns(expectedColumns, legacy)
	assert.Equal(t, []string{
		"dashboard_item_edit_events.item_id",
		"dashboard_item_edit_events.run_id",
		"dashboard_log_parser_state.device_id",
		"dashboard_log_parser_state.fingerprint",
		"dashboard_log_parser_state.fingerprint_len",
		"dashboard_log_parser_state.size_seen",
	}, missing)

	upgrade := readMigration(t, "0003_upgrade_legacy_tables.up.sql")
	stmts := splitSQLStatements(upgrade)
	require.Len(t, stmts, 1)

	// Events are altered in place
	added := regexp.MustCompile(`ADD COLUMN (?:IF NOT EXISTS )?(\w+)`).FindAllStringSubmatch(stmts[0], -1)
	for _, m := range added {
		legacy["dashboard_item_edit_events"][m[1]] = struct{}{}
	}
	assert.Contains(t, stmts[0], "DROP CONSTRAINT IF EXISTS dashboard_item_edit_events_line_hash_key")
	assert.Contains(t, stmts[0], "UNIQUE (item_id, event_ts)")

	// State is set aside and recreated
	assert.Contains(t, stmts[0], "RENAME TO dashboard_log_parser_state_legacy")
	create := stmts[0][strings.Index(stmts[0], "CREATE TABLE dashboard_log_parser_state ("):]
	legacy["dashboard_log_parser_state"] = map[string]struct{}{}
	for _, c := range expectedColumns["dashboard_log_parser_state"] {
		if regexp.MustCompile(`(?m)^\s+` + c + `\s`).MatchString(create) {
			legacy["dashboard_log_parser_state"][c] = struct{}{}
		}
	}

	assert.Empty(t, missingColumns(expectedColumns, legacy))
}

func TestMissingColumns(t *testing.T) {
	expected := map[string][]string{"t": {"a", "b"}, "u": {"c"}}

	assert.Empty(t, missingColumns(expected, map[string]map[string]struct{}{
		"t": columnSet("a", "b", "extra"),
		"u": columnSet("c"),
	}))
	assert.Equal(t, []string{"t.b", "u.c"}, missingColumns(expected, map[string]map[string]struct{}{
		"t": columnSet("a"),
	}))
}

func TestSchemaLockKey(t *testing.T) {
	assert.Equal(t, schemaLockKey(), schemaLockKey())
	assert.NotEqual(t, schemaLockKey(), advisoryKey("dspace_item_edits"))
}

func TestTextParam(t *testing.T) {
	assert.Equal(t, "/var/log/dspace.log", textParam("/var/log/dspace.log"))
	assert.Equal(t, "/var/log/d\uFFFDspace.log", textParam("/var/log/d\xffspace\x00.log"))
}
