package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxStatements bounds the SQL statements one query may run.
// Per-group work (quantiles, filtered totals over a split) runs one
// statement per datum, so wide splits can fan out.
const DefaultMaxStatements = 1000

// QuotaEnforcer counts the statements of one query and enforces a limit.
//
// Each query has its own QuotaEnforcer instance. Not safe for concurrent
// use; the executor runs statements one at a time.
type QuotaEnforcer struct {
	maxStatements int
	current       int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit. A
// non-positive limit disables enforcement.
func NewQuotaEnforcer(maxStatements int) *QuotaEnforcer {
	return &QuotaEnforcer{maxStatements: maxStatements}
}

// Check increments the statement counter and validates against the limit.
func (q *QuotaEnforcer) Check(queryID string) error {
	q.current++
	if q.maxStatements > 0 && q.current > q.maxStatements {
		return &StatementsExceededError{
			QueryID:    queryID,
			Statements: q.current,
			Limit:      q.maxStatements,
		}
	}
	return nil
}

// Current returns the current statement count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxStatements returns the limit.
func (q *QuotaEnforcer) MaxStatements() int {
	return q.maxStatements
}

// StatementsExceededError is returned when a query exceeds the statement
// quota. The query is abandoned.
type StatementsExceededError struct {
	QueryID    string
	Statements int
	Limit      int
}

// Error implements the error interface.
func (e *StatementsExceededError) Error() string {
	return fmt.Sprintf("query %s exceeded statement quota: %d statements > %d limit",
		e.QueryID, e.Statements, e.Limit)
}

// IsStatementsExceededError returns true if the error is a
// StatementsExceededError. Uses errors.As to handle wrapped errors.
func IsStatementsExceededError(err error) bool {
	var se *StatementsExceededError
	return errors.As(err, &se)
}
