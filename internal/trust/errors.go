package trust

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConflict reports an optimistic-concurrency collision. The ledger retries it.
var ErrConflict = errors.New("concurrent modification")

// #region validation
// ValidationError reports a malformed identifier or a missing required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Required returns a ValidationError when value is blank.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "required"}
	}
	return nil
}

// #endregion validation

// #region not-found
// NotFoundError reports a referenced record that does not exist.
type NotFoundError struct {
	Kind string // "user" | "chore"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// #endregion not-found

// #region persistence
// PersistenceError reports that the store could not durably commit.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: commit failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// #endregion persistence

// #region partial-failure
// StepFailure names one failed step of a multi-step orchestration.
type StepFailure struct {
	Step   string `json:"step"`
	UserID string `json:"userId"`
	Err    error  `json:"-"`
}

// PartialFailureError reports an orchestration where some steps committed
// and others did not. Committed steps are not rolled back.
type PartialFailureError struct {
	Op        string
	Succeeded []string
	Failed    []StepFailure
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s(%s): %v", f.Step, f.UserID, f.Err))
	}
	return fmt.Sprintf("%s partially failed: %d succeeded, %d failed [%s]",
		e.Op, len(e.Succeeded), len(e.Failed), strings.Join(parts, "; "))
}

// Unwrap exposes the underlying step errors to errors.Is / errors.As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// #endregion partial-failure
