package service

import (
	"errors"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitConfigError = 2
)

// ExitCode maps a finished run to the process exit code
func ExitCode(s *domain.RunSummary) int {
	switch {
	case s == nil:
		return ExitFailed
	case s.State == domain.RunDone, s.State == domain.RunSkipped:
		return ExitOK
	case errors.Is(s.Err, domain.ErrConfiguration):
		return ExitConfigError
	default:
		return ExitFailed
	}
}
