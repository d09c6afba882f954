package logfiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/rs/zerolog/log"
)

// Rotated archives are never read; only plain-text logs carry new lines
var compressedSuffixes = []string{".gz", ".zip", ".bz2", ".xz"}

// Resolve expands a glob pattern into the sorted, deduplicated list of
// regular files that exist right now.
// An empty match is not an error. A malformed pattern is a configuration error.
func Resolve(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: log glob pattern is empty", domain.ErrConfiguration)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid log glob %q: %v", domain.ErrConfiguration, pattern, err)
	}

	if len(matches) == 0 {
		warnUnreadableRoot(pattern)
		return nil, nil
	}

	seen := make(map[string]struct{}, len(matches))
	files := make([]string, 0, len(matches))

	for _, match := range matches {
		path := filepath.Clean(match)
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		if isCompressed(path) {
			log.Debug().Str("file", path).Msg("Skipping compressed log file")
			continue
		}

		// Stat follows symlinks; a link to a regular file is accepted
		info, err := os.Stat(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to stat matched path, skipping")
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, path)
	}

	sort.Strings(files)
	return files, nil
}

func isCompressed(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range compressedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// warnUnreadableRoot logs a warning when the non-wildcard directory prefix of
// the pattern cannot be listed, since filepath.Glob hides I/O errors.
func warnUnreadableRoot(pattern string) {
	root := staticPrefix(pattern)
	if root == "" {
		return
	}

	if _, err := os.ReadDir(root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("dir", root).Str("pattern", pattern).Msg("Log directory does not exist")
			return
		}
		log.Warn().Err(err).Str("dir", root).Str("pattern", pattern).Msg("Log directory is not readable, skipping")
	}
}

// staticPrefix returns the longest leading directory of pattern that contains no glob metacharacters
func staticPrefix(pattern string) string {
	dir := filepath.Dir(pattern)
	for dir != "." && dir != string(filepath.Separator) && hasMeta(dir) {
		dir = filepath.Dir(dir)
	}
	return dir
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, `*?[\`)
}
