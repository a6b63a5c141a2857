package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewIDDeterminism(t *testing.T) {
	def := IRObject{
		"visualization": IRString("table"),
		"splits":        IRArray{IRString("channel")},
	}

	id1, err := ViewID("wiki", def)
	require.NoError(t, err)
	id2, err := ViewID("wiki", def)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestViewIDIgnoresKeyOrder(t *testing.T) {
	a, err := FromJSON([]byte(`{"x": 1, "y": {"b": true, "a": "s"}}`))
	require.NoError(t, err)
	b, err := FromJSON([]byte(`{"y": {"a": "s", "b": true}, "x": 1.0}`))
	require.NoError(t, err)

	assert.Equal(t, MustViewID("wiki", a), MustViewID("wiki", b))
}

func TestViewIDChangesWithInput(t *testing.T) {
	def := IRObject{"visualization": IRString("table")}

	assert.NotEqual(t, MustViewID("wiki", def), MustViewID("sales", def))
	assert.NotEqual(t,
		MustViewID("wiki", def),
		MustViewID("wiki", IRObject{"visualization": IRString("totals")}))
}

func TestQueryKeyDomainSeparation(t *testing.T) {
	expr := IRObject{"op": IRString("ref"), "name": IRString("main")}

	q, err := QueryKey("wiki", "UTC", expr)
	require.NoError(t, err)
	v, err := ViewID("wiki", expr)
	require.NoError(t, err)

	assert.NotEqual(t, q, v, "different domains must not collide")

	other, err := QueryKey("wiki", "Asia/Tokyo", expr)
	require.NoError(t, err)
	assert.NotEqual(t, q, other)
}
