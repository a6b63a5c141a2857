package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pivot/internal/store"
	"github.com/roach88/pivot/internal/testutil"
)

var wikiConfig = filepath.Join("..", "cube", "testdata", "wiki.yaml")

const channelView = `{
  "dataCube": "wiki",
  "visualization": "table",
  "filter": [{"type": "fixedTime", "reference": "time", "ranges": [{"start": "2024-03-05T00:00:00Z", "end": "2024-03-07T00:00:00Z"}]}],
  "splits": [{"type": "string", "reference": "channel", "sort": {"type": "series", "reference": "count", "period": "current", "direction": "descending"}, "limit": 2}],
  "series": [{"type": "measure", "reference": "count"}]
}`

// seedDB writes the wiki fixture rows to a fresh database file.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pivot.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	cols := make([]store.Column, len(testutil.WikiColumns))
	for i, c := range testutil.WikiColumns {
		cols[i] = store.Column{Name: c.Name, Kind: c.Kind}
	}
	ctx := context.Background()
	require.NoError(t, st.CreateSource(ctx, "wiki_edits", cols))
	_, err = st.InsertRows(ctx, "wiki_edits", testutil.WikiRows())
	require.NoError(t, err)
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
