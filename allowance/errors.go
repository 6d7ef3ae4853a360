/*
errors.go - Allowance error types

USAGE:
  Per-user problems that only mean "nothing to pay" (not due, rate limited,
  missing settings, family misconfiguration) are reported as skips, not as
  errors. The errors below are for invalid input and for storage conflicts.

    if errors.Is(err, allowance.ErrConcurrentModification) {
        // another run paid this user first; nothing was written
    }
*/
package allowance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teich/bank4/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConcurrentModification is returned when a run-state save finds a
	// different version than the one read in the same unit of work.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidSetting is returned when a setting breaks the category rules.
	ErrInvalidSetting = errors.New("invalid allowance setting")

	// ErrMissingSettings is returned when a category has no setting.
	ErrMissingSettings = errors.New("allowance settings incomplete")

	// ErrRepositoryRequired is returned by an engine built without storage.
	ErrRepositoryRequired = errors.New("allowance engine requires a repository")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// SettingError names the rule a setting broke.
type SettingError struct {
	Category ledger.Category
	Field    string
	Message  string
}

func (e *SettingError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("invalid allowance setting: %s %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s allowance setting: %s %s", e.Category, e.Field, e.Message)
}

func (e *SettingError) Unwrap() error { return ErrInvalidSetting }

type MissingSettingsError struct {
	Categories []ledger.Category
}

func (e *MissingSettingsError) Error() string {
	names := make([]string, len(e.Categories))
	for i, c := range e.Categories {
		names[i] = string(c)
	}
	return fmt.Sprintf("missing allowance settings: %s", strings.Join(names, ", "))
}

func (e *MissingSettingsError) Unwrap() error { return ErrMissingSettings }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSetting) || ledger.IsClientError(err)
}
