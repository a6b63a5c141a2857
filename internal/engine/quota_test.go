package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Check("q-1"))
	}
	assert.Equal(t, 3, q.Current())
	assert.Equal(t, 3, q.MaxStatements())
}

func TestQuotaEnforcer_Exceeded(t *testing.T) {
	q := NewQuotaEnforcer(1)
	require.NoError(t, q.Check("q-1"))

	err := q.Check("q-1")
	require.Error(t, err)
	assert.True(t, IsStatementsExceededError(err))
	assert.True(t, IsStatementsExceededError(fmt.Errorf("wrapped: %w", err)))

	var se *StatementsExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "q-1", se.QueryID)
	assert.Equal(t, 2, se.Statements)
	assert.Equal(t, 1, se.Limit)
	assert.Contains(t, err.Error(), "2 statements > 1 limit")
}

func TestQuotaEnforcer_Disabled(t *testing.T) {
	q := NewQuotaEnforcer(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Check("q-1"))
	}
}

func TestIsStatementsExceededError_Other(t *testing.T) {
	assert.False(t, IsStatementsExceededError(fmt.Errorf("boom")))
	assert.False(t, IsStatementsExceededError(nil))
}
