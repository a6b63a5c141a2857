package cube

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// Load error codes - shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No config files found
	ErrCodeLoadFailed  = "E004" // CUE or YAML load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeDecode      = "E008" // Value does not decode into settings
	ErrCodeInvalid     = "E009" // Settings failed validation
)

// LoadError represents an error that occurred while loading settings.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Line    int       // YAML line if available
}

func (e *LoadError) Error() string {
	switch {
	case e.Pos.IsValid():
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InvalidError wraps the validation errors of loaded settings.
type InvalidError struct {
	Errors []ValidationError
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("%s: invalid settings: %s", ErrCodeInvalid, strings.Join(msgs, "; "))
}

// LoadFile loads settings from a .yaml/.yml file, a .cue file or a
// directory of .cue files, applies defaults and validates them.
func LoadFile(path string) (*AppSettings, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config: %v", err)}
	}

	var settings *AppSettings
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir():
		settings, err = LoadCUE(path)
	case ext == ".cue":
		settings, err = LoadCUE(path)
	case ext == ".yaml" || ext == ".yml":
		settings, err = LoadYAML(path)
	default:
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("unsupported config format %q", ext)}
	}
	if err != nil {
		return nil, err
	}

	settings.ApplyDefaults()
	if verrs := settings.Validate(); len(verrs) > 0 {
		return settings, &InvalidError{Errors: verrs}
	}
	return settings, nil
}

// LoadYAML decodes settings from a YAML file. Unknown fields are errors.
func LoadYAML(path string) (*AppSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	return ParseYAML(data)
}

// ParseYAML decodes settings from YAML bytes.
func ParseYAML(data []byte) (*AppSettings, error) {
	var settings AppSettings
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil {
		return nil, yamlLoadError(err)
	}
	return &settings, nil
}

func yamlLoadError(err error) *LoadError {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return &LoadError{Code: ErrCodeDecode, Message: strings.Join(typeErr.Errors, "; ")}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("parsing YAML: %v", err)}
}

// LoadCUE loads settings from a .cue file or a directory holding one CUE
// package. Every data cube is decoded separately so that errors carry the
// position of the offending cube.
func LoadCUE(path string) (*AppSettings, error) {
	ctx := cuecontext.New()

	var value cue.Value
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	if info.IsDir() {
		files, err := FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		if len(files) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
		}
		if inst := instances[0]; inst.Err != nil {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
		}
		value = ctx.BuildInstance(instances[0])
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
		}
		value = ctx.CompileBytes(data, cue.Filename(path))
	}
	return DecodeCUE(value)
}

// DecodeCUE converts a built CUE value into settings.
func DecodeCUE(value cue.Value) (*AppSettings, error) {
	if err := value.Err(); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}

	settings := &AppSettings{}
	if v := value.LookupPath(cue.ParsePath("clusters")); v.Exists() {
		if err := decodeCUEValue(v, &settings.Clusters); err != nil {
			return nil, err
		}
	}
	if v := value.LookupPath(cue.ParsePath("customization")); v.Exists() {
		if err := decodeCUEValue(v, &settings.Customization); err != nil {
			return nil, err
		}
	}

	cubes := value.LookupPath(cue.ParsePath("dataCubes"))
	if !cubes.Exists() {
		return nil, &LoadError{Code: ErrCodeDecode, Message: "dataCubes is required", Pos: value.Pos()}
	}
	iter, err := cubes.List()
	if err != nil {
		return nil, cueLoadError(ErrCodeDecode, err)
	}
	for iter.Next() {
		var c DataCube
		if err := decodeCUEValue(iter.Value(), &c); err != nil {
			return nil, err
		}
		settings.DataCubes = append(settings.DataCubes, c)
	}
	return settings, nil
}

// decodeCUEValue goes through JSON so that the same strict decoding (and
// the custom unmarshalers of durations and granularities) applies to CUE
// and to the HTTP API.
func decodeCUEValue(v cue.Value, target any) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return cueLoadError(ErrCodeDecode, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return &LoadError{Code: ErrCodeDecode, Message: err.Error(), Pos: v.Pos()}
	}
	return nil
}

// cueLoadError extracts position info from CUE errors.
func cueLoadError(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
