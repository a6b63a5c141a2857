package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCmd(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidConfig(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "text"}, wikiConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid (1 data cube(s))")
}

func TestValidateValidConfigJSON(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "json"}, wikiConfig)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"wiki"}, resp.Data.DataCubes)
}

func TestValidateUsesConfigFlag(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "text", Config: wikiConfig})
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid")
}

func TestValidateCUEDirectory(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "text"}, filepath.Join("..", "cube", "testdata", "cuedir"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid (1 data cube(s))")
}

func TestValidateNonExistentPath(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "text"}, "/nonexistent/pivot.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005") // ErrCodeNotFound
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := runValidateCmd(t, &RootOptions{Format: "text"}, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E003")
}

func TestValidateMalformedYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "dataCubes:\n  - name: wiki\n    colour: red\n")
	_, err := runValidateCmd(t, &RootOptions{Format: "text"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateInvalidConfig(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "text"}, filepath.Join("..", "cube", "testdata", "invalid.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E210") // source is not a table name
	assert.Contains(t, out, "E202") // duplicate dimension
}

func TestValidateInvalidConfigJSON(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "json"}, filepath.Join("..", "cube", "testdata", "invalid.yaml"))
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Data.Valid)
	assert.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, resp.Data.Errors[0].Code, resp.Error.Code)
}
