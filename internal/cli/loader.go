package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/store"
)

// Error codes of CLI failures outside config loading. Load codes
// (E001-E009) come from package cube.
const (
	ErrCodeGeneric     = cube.ErrCodeGeneric
	ErrCodeNotFound    = cube.ErrCodeNotFound
	ErrCodeStore       = "E010" // database could not be opened or written
	ErrCodeBadInput    = "E011" // argument or input file is malformed
	ErrCodeQueryFailed = "E012" // query execution failed
)

// loadSettings loads and validates the settings at path. Failures are
// *ExitError with ExitCommandError, carrying the load or validation error.
func loadSettings(path string) (*cube.AppSettings, error) {
	slog.Debug("loading settings", "path", path)
	settings, err := cube.LoadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to load config %s", errorCode(err), path), err)
	}
	slog.Debug("settings loaded", "data_cubes", len(settings.DataCubes))
	return settings, nil
}

// openStore opens (creating if needed) the database at path.
func openStore(path string) (*store.Store, error) {
	slog.Debug("opening database", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to open database", ErrCodeStore), err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// errorCode returns the code carried by a load or validation error.
func errorCode(err error) string {
	var loadErr *cube.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	var invalid *cube.InvalidError
	if errors.As(err, &invalid) {
		return cube.ErrCodeInvalid
	}
	return ErrCodeGeneric
}
