package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTradeNotFound is wrapped by NotFoundError for missing trades.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrProfileNotFound is wrapped by NotFoundError for missing users.
	ErrProfileNotFound = errors.New("trust profile not found")
	// ErrReportNotFound is wrapped by NotFoundError for missing reports.
	ErrReportNotFound = errors.New("report not found")
	// ErrVersionConflict is returned by stores when a conditional update
	// lost a race.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDegradedScore marks a trust score that fell back to the default.
	// It is never surfaced to API callers.
	ErrDegradedScore = errors.New("degraded trust score")
	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ValidationError reports malformed input. No state was mutated.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// NewValidationError builds a ValidationError.
func NewValidationError(code, field, message string) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: message}
}

// PreconditionError reports an operation attempted out of order or twice.
// Flag and Party name the gate that blocked it.
type PreconditionError struct {
	Code    string
	Flag    string
	Party   Party
	Message string
}

func (e *PreconditionError) Error() string {
	if e.Flag != "" {
		return fmt.Sprintf("precondition failed (%s[%s]): %s", e.Flag, e.Party, e.Message)
	}
	return "precondition failed: " + e.Message
}

// NewPreconditionError builds a PreconditionError.
func NewPreconditionError(code, flag string, party Party, message string) *PreconditionError {
	return &PreconditionError{Code: code, Flag: flag, Party: party, Message: message}
}

// NotFoundError reports a missing trade or user.
type NotFoundError struct {
	Resource string
	ID       string
	err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.err
}

// TradeNotFound wraps ErrTradeNotFound.
func TradeNotFound(id string) *NotFoundError {
	return &NotFoundError{Resource: "trade", ID: id, err: ErrTradeNotFound}
}

// ProfileNotFound wraps ErrProfileNotFound.
func ProfileNotFound(userID string) *NotFoundError {
	return &NotFoundError{Resource: "user", ID: userID, err: ErrProfileNotFound}
}

// ReportNotFound wraps ErrReportNotFound.
func ReportNotFound(id string) *NotFoundError {
	return &NotFoundError{Resource: "report", ID: id, err: ErrReportNotFound}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsPrecondition reports whether err carries a PreconditionError.
func IsPrecondition(err error) bool {
	var target *PreconditionError
	return errors.As(err, &target)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
