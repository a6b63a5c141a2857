package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/pivot/internal/essence"
	"github.com/roach88/pivot/internal/querysql"
)

func TestAsQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code QueryErrorCode
	}{
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), ErrCodeCancelled},
		{"deadline", context.DeadlineExceeded, ErrCodeCancelled},
		{"too many splits", fmt.Errorf("make query: %w", essence.ErrTooManySplits), ErrCodeTooManySplits},
		{"missing sort", essence.ErrMissingSort, ErrCodeInvalidQuery},
		{"no data cube", essence.ErrNoDataCube, ErrCodeInvalidQuery},
		{"invalid", invalidf("unknown reference %s", "$x"), ErrCodeInvalidQuery},
		{"unsupported", fmt.Errorf("split: %w", querysql.ErrUnsupported), ErrCodeUnsupported},
		{"quota", &StatementsExceededError{QueryID: "q", Statements: 3, Limit: 2}, ErrCodeQuotaExceeded},
		{"other", errors.New("disk I/O error"), ErrCodeExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qe := AsQueryError(tt.err, "wiki")
			assert.Equal(t, tt.code, qe.Code)
			assert.Equal(t, "wiki", qe.DataCube)
			assert.ErrorIs(t, qe, tt.err)
		})
	}
}

func TestAsQueryError_Passthrough(t *testing.T) {
	assert.Nil(t, AsQueryError(nil, "wiki"))

	orig := &QueryError{Code: ErrCodeUnsupported, Message: "no", DataCube: "a"}
	assert.Same(t, orig, AsQueryError(fmt.Errorf("wrapped: %w", orig), "b"))
}

func TestAsQueryError_QuotaDetails(t *testing.T) {
	qe := AsQueryError(&StatementsExceededError{QueryID: "q", Statements: 3, Limit: 2}, "wiki")
	assert.Equal(t, map[string]string{"statements": "3", "max_statements": "2"}, qe.Details)
}

func TestQueryError_Error(t *testing.T) {
	qe := &QueryError{Code: ErrCodeInvalidQuery, Message: "bad", DataCube: "wiki"}
	assert.Equal(t, "INVALID_QUERY: bad (data cube=wiki)", qe.Error())

	qe.DataCube = ""
	assert.Equal(t, "INVALID_QUERY: bad", qe.Error())
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(AsQueryError(context.DeadlineExceeded, "wiki")))
	assert.False(t, IsCancelled(AsQueryError(errors.New("x"), "wiki")))
}

func TestIsInvalidQuery(t *testing.T) {
	assert.True(t, IsInvalidQuery(AsQueryError(essence.ErrTooManySplits, "wiki")))
	assert.True(t, IsInvalidQuery(AsQueryError(querysql.ErrUnsupported, "wiki")))
	assert.False(t, IsInvalidQuery(AsQueryError(context.Canceled, "wiki")))
	assert.False(t, IsInvalidQuery(errors.New("plain")))
}
