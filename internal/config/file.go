package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/dspacecfg"
	"github.com/SteelMorgan/dspace-editlog/internal/store"
	"gopkg.in/yaml.v3"
)

// loadFile overlays the YAML file at path; unknown keys are rejected
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// PostgresConfig returns the database connection for the postgres store.
// Without an explicit URL, DSpace's own db.url, db.username and db.password are used.
func (c *Config) PostgresConfig() (store.PostgresConfig, error) {
	pg := store.PostgresConfig{
		URL:             c.DatabaseURL,
		Username:        c.DatabaseUser,
		Password:        c.DatabasePassword,
		ApplicationName: "dspace-editlog",
	}
	if pg.URL != "" {
		return pg, nil
	}

	local, err := dspacecfg.Load(c.DSpaceConfigPath)
	if err != nil {
		return pg, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	db, ok := local.Database()
	if !ok {
		return pg, fmt.Errorf("%w: EDITLOG_DATABASE_URL is empty and db.url is missing or invalid in %s",
			domain.ErrConfiguration, c.DSpaceConfigPath)
	}

	pg.URL = db.URL
	if pg.Username == "" {
		pg.Username = db.Username
	}
	if pg.Password == "" {
		pg.Password = db.Password
	}
	return pg, nil
}
