package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/pivot/internal/essence"
	"github.com/roach88/pivot/internal/querysql"
)

// QueryError is the error every failed query surfaces as.
//
// QueryError includes structured fields for diagnostics and for the HTTP
// error body.
type QueryError struct {
	// Code identifies the error category.
	Code QueryErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// DataCube names the cube the query ran against.
	DataCube string `json:"dataCube,omitempty"`

	// Details contains additional context.
	Details map[string]string `json:"details,omitempty"`

	err error
}

// QueryErrorCode categorizes query errors.
type QueryErrorCode string

const (
	// ErrCodeInvalidQuery indicates a malformed or unresolvable query.
	ErrCodeInvalidQuery QueryErrorCode = "INVALID_QUERY"

	// ErrCodeUnsupported indicates a construct the backend cannot run.
	ErrCodeUnsupported QueryErrorCode = "UNSUPPORTED"

	// ErrCodeExecutionFailed indicates the database rejected a statement.
	ErrCodeExecutionFailed QueryErrorCode = "EXECUTION_FAILED"

	// ErrCodeCancelled indicates the context was cancelled or timed out.
	ErrCodeCancelled QueryErrorCode = "CANCELLED"

	// ErrCodeTooManySplits indicates more splits than the cube allows.
	ErrCodeTooManySplits QueryErrorCode = "TOO_MANY_SPLITS"

	// ErrCodeQuotaExceeded indicates the query needed too many statements.
	ErrCodeQuotaExceeded QueryErrorCode = "QUOTA_EXCEEDED"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.DataCube != "" {
		return fmt.Sprintf("%s: %s (data cube=%s)", e.Code, e.Message, e.DataCube)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.err
}

// errInvalid marks errors in the query itself.
var errInvalid = errors.New("invalid query")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalid, fmt.Sprintf(format, args...))
}

// AsQueryError classifies err. A QueryError is returned as is.
func AsQueryError(err error, dataCube string) *QueryError {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}

	code := ErrCodeExecutionFailed
	var details map[string]string
	var se *StatementsExceededError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeCancelled
	case errors.Is(err, essence.ErrTooManySplits):
		code = ErrCodeTooManySplits
	case errors.As(err, &se):
		code = ErrCodeQuotaExceeded
		details = map[string]string{
			"statements":     fmt.Sprintf("%d", se.Statements),
			"max_statements": fmt.Sprintf("%d", se.Limit),
		}
	case errors.Is(err, querysql.ErrUnsupported):
		code = ErrCodeUnsupported
	case errors.Is(err, errInvalid),
		errors.Is(err, essence.ErrMissingSort),
		errors.Is(err, essence.ErrNoDataCube):
		code = ErrCodeInvalidQuery
	}
	return &QueryError{Code: code, Message: err.Error(), DataCube: dataCube, Details: details, err: err}
}

// IsCancelled reports whether err is a cancelled query.
// Uses errors.As to handle wrapped errors.
func IsCancelled(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == ErrCodeCancelled
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsInvalidQuery reports whether err blames the query rather than the
// backend.
func IsInvalidQuery(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		switch qe.Code {
		case ErrCodeInvalidQuery, ErrCodeTooManySplits, ErrCodeUnsupported:
			return true
		}
	}
	return false
}
