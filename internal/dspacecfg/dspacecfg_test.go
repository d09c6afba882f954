package dspacecfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCfg = "\xef\xbb\xbf# DSpace local configuration\n" +
	"dspace.dir = /dspace\n" +
	"! legacy comment\n" +
	"db.url = jdbc:postgresql://db.example.org:5433/dspace\n" +
	"db.username = \"dspace\"\n" +
	"db.password='s3cr=t'\n" +
	"no separator line\n" +
	"empty.value =\n"

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleCfg))
	require.NoError(t, err)

	assert.Equal(t, "/dspace", cfg["dspace.dir"])
	assert.Equal(t, "dspace", cfg["db.username"])
	assert.Equal(t, "s3cr=t", cfg["db.password"])
	assert.Equal(t, "fallback", cfg.Get("empty.value", "fallback"))
	assert.NotContains(t, cfg, "no separator line")
	assert.Len(t, cfg, 5)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "local.cfg"))
	require.NoError(t, err)
	assert.Empty(t, cfg)
}

func TestLoad_Database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.cfg")
	require.NoError(t, os.WriteFile(path, []byte(sampleCfg), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	db, ok := cfg.Database()
	require.True(t, ok)
	assert.Equal(t, "postgres://db.example.org:5433/dspace", db.URL)
	assert.Equal(t, "dspace", db.Username)
	assert.Equal(t, "s3cr=t", db.Password)
}

func TestPostgresURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"jdbc:postgresql://localhost:5432/dspace", "postgres://localhost:5432/dspace", true},
		{"jdbc:postgresql://dbhost/dspace", "postgres://dbhost:5432/dspace", true},
		{"postgres://u:p@h:6000/db?sslmode=require", "postgres://u:p@h:6000/db?sslmode=require", true},
		{"jdbc:oracle:thin:@host:1521:xe", "", false},
		{"jdbc:postgresql://localhost:5432/", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := PostgresURL(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("PostgresURL(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
