/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them with %w) so callers can
  branch with errors.Is / errors.As without knowing which layer failed.

ERROR CATEGORIES:
  1. Validation errors    - caller supplied something unusable (no writes happened)
  2. Configuration errors - required settings missing, fatal for calculations
  3. Not found errors     - referenced donor/declaration/batch/donation missing
  4. Field warnings       - integrity warnings reported per field, NOT errors

PROPAGATION:
  Nothing here is retried. Storage failures are wrapped with context and
  returned after the surrounding unit of work has rolled back.

SEE ALSO:
  - store.go: rollback + post-commit semantics
  - giftaid/validate.go: produces FieldWarnings
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a required identifier or field is missing
	// or malformed. Returned before the first write of an operation.
	ErrValidation = errors.New("validation failed")

	// ErrConfiguration is returned when a required setting is missing or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrBatchSubmitted is returned when a batch was already sent to the tax authority.
	ErrBatchSubmitted = errors.New("batch already submitted")

	// ErrEmptyBatch is returned when a batch would end up with no donations.
	// The batch is rolled back and never persisted.
	ErrEmptyBatch = errors.New("no valid donations to add to batch")

	// ErrInvalidWindow is returned when a window ends before it starts.
	ErrInvalidWindow = errors.New("invalid window: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConfigurationError names the missing or invalid setting.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string // "donor", "declaration", "donation", "batch"
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound is shorthand used by the stores.
func NewNotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// FieldWarning is a non-fatal integrity warning attached to one input field.
// The UI layer decides whether to reject the save.
type FieldWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrEmptyBatch)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfiguration returns true if the error requires an administrator to fix settings.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
