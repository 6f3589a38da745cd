/*
errors.go - Centralized error types for the certification engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP statuses; the engine never panics
  and never signals failure through booleans.

ERROR CATEGORIES:
  1. Validation errors - Bad session input, caught before any side effect
  2. Token errors      - Insufficient balance, lost CAS races
  3. Document errors   - Verifier said failed/error (or timed out)
  4. Persistence errors - A batch write failed mid-commit

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, engine.ErrInsufficientTokens) { ... }

    var overdraw *engine.OverdrawError
    if errors.As(err, &overdraw) { ... }

SEE ALSO:
  - committer.go: The failure/rollback semantics using these errors
  - tokens.go: CAS conflicts and balance checks
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the base of every pre-commit input rejection.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientTokens is returned when a debit exceeds the balance.
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrDocumentVerification is returned when a supporting document did
	// not come back "passed" from the verification collaborator.
	ErrDocumentVerification = errors.New("document verification failed")

	// ErrPersistence is returned when writing a batch mid-commit fails.
	ErrPersistence = errors.New("persistence failed")

	// ErrOverdraw is returned when a weight deduction exceeds what is
	// available on an apiary contribution or batch.
	ErrOverdraw = errors.New("deduction exceeds available weight")

	// ErrAuth is returned when the acting user has no usable credential
	// or an incomplete profile.
	ErrAuth = errors.New("missing or expired credential")

	// ErrConcurrentModification is returned when optimistic locking
	// detects a conflict. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrBatchCompleted is returned when certifying against a batch whose
	// remaining weight already reached zero. Completed is terminal.
	ErrBatchCompleted = errors.New("batch already completed")

	ErrBatchNotFound  = errors.New("batch not found")
	ErrApiaryNotFound = errors.New("apiary not found")
	ErrRecordNotFound = errors.New("certification record not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected session input.
type ValidationError struct {
	Code    string // e.g. "empty_selection", "over_allocation", "missing_certification_type"
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientTokensError details a balance shortage.
type InsufficientTokensError struct {
	Balance   int64
	Requested int64
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: balance %d, requested %d", e.Balance, e.Requested)
}
func (e *InsufficientTokensError) Unwrap() error { return ErrInsufficientTokens }

// OverdrawError details a weight deduction that exceeds availability.
type OverdrawError struct {
	ApiaryID  ApiaryID
	BatchID   BatchID
	Available Weight
	Requested Weight
}

func (e *OverdrawError) Error() string {
	return fmt.Sprintf("overdraw on apiary %s: available %s, requested %s",
		e.ApiaryID, e.Available, e.Requested)
}
func (e *OverdrawError) Unwrap() error { return ErrOverdraw }

// DocumentVerificationError details a verifier rejection.
// Status is the verifier's literal answer: "failed", "error" or "missing".
type DocumentVerificationError struct {
	Report string // "lab_report" or "production_report"
	Status string
	Err    error // underlying cause, if any
}

func (e *DocumentVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s verification returned %q: %v", e.Report, e.Status, e.Err)
	}
	return fmt.Sprintf("%s verification returned %q", e.Report, e.Status)
}
func (e *DocumentVerificationError) Unwrap() error { return ErrDocumentVerification }

// PersistenceError wraps a failed batch write during commit.
type PersistenceError struct {
	BatchID BatchID
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist batch %s: %v", e.BatchID, e.Err)
}
func (e *PersistenceError) Unwrap() error { return ErrPersistence }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrOverdraw) ||
		errors.Is(err, ErrBatchCompleted) ||
		errors.Is(err, ErrDocumentVerification)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrApiaryNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}
