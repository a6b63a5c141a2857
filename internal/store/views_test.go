package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveView_ContentAddressed(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	id1, err := s.SaveView(ctx, "wiki", "Edits", []byte(`{"visualization":"table","timezone":"Etc/UTC"}`))
	require.NoError(t, err)
	id2, err := s.SaveView(ctx, "wiki", "Other title", []byte(`{"timezone":"Etc/UTC","visualization":"table"}`))
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "key order does not change the id")

	id3, err := s.SaveView(ctx, "other", "", []byte(`{"visualization":"table","timezone":"Etc/UTC"}`))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3, "the data cube is part of the id")

	v, err := s.GetView(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "wiki", v.DataCube)
	assert.Equal(t, "Edits", v.Title, "first save wins")
	assert.JSONEq(t, `{"timezone":"Etc/UTC","visualization":"table"}`, string(v.Definition))
	assert.Equal(t, int64(1), v.Seq)
}

func TestSaveView_RejectsBadJSON(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SaveView(context.Background(), "wiki", "", []byte(`{`))
	assert.Error(t, err)
}

func TestGetView_NotFound(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetView(context.Background(), "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListViews(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	a, err := s.SaveView(ctx, "wiki", "a", []byte(`{"n":1}`))
	require.NoError(t, err)
	b, err := s.SaveView(ctx, "wiki", "b", []byte(`{"n":2}`))
	require.NoError(t, err)
	_, err = s.SaveView(ctx, "other", "c", []byte(`{"n":3}`))
	require.NoError(t, err)

	views, err := s.ListViews(ctx, "wiki")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, a, views[0].ID)
	assert.Equal(t, b, views[1].ID)

	all, err := s.ListViews(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.ListViews(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
