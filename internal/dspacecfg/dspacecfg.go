// Package dspacecfg reads the few settings the parser borrows from DSpace's local.cfg.
package dspacecfg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// DefaultPath is where DSpace installs its local configuration
const DefaultPath = "/dspace/config/local.cfg"

// Config is the flat key/value content of local.cfg
type Config map[string]string

// Load reads path. A missing file yields an empty Config.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads key = value lines; '#' and '!' start comments,
// matching single or double quotes around a value are removed.
func Parse(r io.Reader) (Config, error) {
	cfg := make(Config)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if first {
			line = bytes.TrimPrefix(line, []byte("\xef\xbb\xbf"))
			first = false
		}

		text := strings.TrimSpace(string(line))
		if text == "" || text[0] == '#' || text[0] == '!' {
			continue
		}

		key, value, ok := strings.Cut(text, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		cfg[key] = unquote(strings.TrimSpace(value))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dspace config: %w", err)
	}
	return cfg, nil
}

// Get returns the value of key, or def when it is missing or empty
func (c Config) Get(key, def string) string {
	if v := c[key]; v != "" {
		return v
	}
	return def
}

// Database holds the connection settings DSpace itself uses
type Database struct {
	URL      string // postgres:// URL
	Username string
	Password string
}

// Database extracts db.url, db.username and db.password.
// ok is false when db.url is missing or not a PostgreSQL URL.
func (c Config) Database() (Database, bool) {
	u, ok := PostgresURL(c.Get("db.url", ""))
	if !ok {
		return Database{}, false
	}
	return Database{
		URL:      u,
		Username: c.Get("db.username", ""),
		Password: c.Get("db.password", ""),
	}, true
}

// PostgresURL converts a JDBC URL such as
// jdbc:postgresql://localhost:5432/dspace into a URL pgx accepts
func PostgresURL(raw string) (string, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "jdbc:")
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", false
	}

	dbname := strings.TrimPrefix(u.Path, "/")
	if dbname == "" {
		return "", false
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}

	out := url.URL{
		Scheme:   "postgres",
		User:     u.User,
		Host:     host + ":" + port,
		Path:     "/" + dbname,
		RawQuery: u.RawQuery,
	}
	return out.String(), true
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
