package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/SteelMorgan/dspace-editlog/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = "2024-03-01 10:00:00,532 INFO  7b1e6d2c 10.0.0.5 org.dspace.content.ItemServiceImpl @ a@example.org::update_item:item_id=1\n" +
	"2024-03-01 10:00:00,900 INFO  7b1e6d2c 10.0.0.5 org.dspace.content.ItemServiceImpl @ a@example.org::update_item:item_id=1\n" +
	"2024-04-02 08:15:00,001 INFO  7b1e6d2c 10.0.0.5 org.dspace.content.ItemServiceImpl @ b@example.org::update_item:item_id=2\n"

func execute(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), exitCode(err)
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	logDir := filepath.Join(dir, "log")
	require.NoError(t, os.MkdirAll(logDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "dspace.log"), []byte(sampleLog), 0640))

	t.Setenv("EDITLOG_CONFIG", "")
	t.Setenv("EDITLOG_STORE", "bolt")
	t.Setenv("EDITLOG_STATE_PATH", filepath.Join(dir, "state", "editlog.db"))
	t.Setenv("DSPACE_EDIT_LOG_GLOB", filepath.Join(logDir, "*.log"))
	t.Setenv("EDITLOG_TIMEZONE", "UTC")
	t.Setenv("PUSHGATEWAY_URL", "")
	t.Setenv("TRACING_ENABLED", "false")
	t.Setenv("CLICKHOUSE_MIRROR", "false")
	return dir
}

func TestVersion(t *testing.T) {
	out, code := execute(t, "version")
	assert.Equal(t, service.ExitOK, code)
	assert.Contains(t, out, "editlog-parser "+version)
}

func TestRunThenReport(t *testing.T) {
	setupEnv(t)

	_, code := execute(t)
	require.Equal(t, service.ExitOK, code)

	_, code = execute(t, "run")
	require.Equal(t, service.ExitOK, code)

	out, code := execute(t, "report", "--by-editor", "--monthly")
	require.Equal(t, service.ExitOK, code)
	assert.Regexp(t, `Total updates:\s+2`, out)
	assert.Regexp(t, `a@example.org\s+1`, out)
	assert.Regexp(t, `2024-04\s+1`, out)

	out, code = execute(t, "report", "--from", "2024-04-01", "--to", "2024-04-30")
	require.Equal(t, service.ExitOK, code)
	assert.Regexp(t, `Total updates:\s+1`, out)

	out, code = execute(t, "state")
	require.Equal(t, service.ExitOK, code)
	assert.Contains(t, out, "dspace.log")
}

func TestRun_DryRunFlag(t *testing.T) {
	setupEnv(t)

	_, code := execute(t, "run", "--dry-run")
	require.Equal(t, service.ExitOK, code)

	out, code := execute(t, "report")
	require.Equal(t, service.ExitOK, code)
	assert.Regexp(t, `Total updates:\s+0`, out)
}

func TestConfigErrorExitCode(t *testing.T) {
	setupEnv(t)
	t.Setenv("EDITLOG_STORE", "sqlite")

	_, code := execute(t, "run")
	assert.Equal(t, service.ExitConfigError, code)
}

func TestEmptyGlobFlagIsConfigError(t *testing.T) {
	setupEnv(t)

	_, code := execute(t, "run", "--log-glob", " ")
	assert.Equal(t, service.ExitConfigError, code)
}

func TestReport_BadDate(t *testing.T) {
	setupEnv(t)

	_, code := execute(t, "report", "--from", "01.03.2024")
	assert.Equal(t, service.ExitConfigError, code)
}
