package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// ScenarioNotFoundError is returned when a scenario directory holds no
// scenario files.
type ScenarioNotFoundError struct {
	Dir string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("no scenario files (*.yaml, *.yml) in %s", e.Dir)
}

// DiscoverScenarios returns the scenario files in dir, sorted by name.
func DiscoverScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scenario dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scenario dir: %s is not a directory", dir)
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, &ScenarioNotFoundError{Dir: dir}
	}
	slices.Sort(paths)
	return paths, nil
}

// Summary aggregates the results of a scenario directory.
type Summary struct {
	Total    int       `json:"total"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// Failure is one failed scenario.
type Failure struct {
	ScenarioPath string   `json:"scenario_path"`
	Errors       []string `json:"errors"`
}

// RunDir loads and runs every scenario in dir. A scenario that cannot be
// loaded or run counts as failed.
func RunDir(dir string) (*Summary, error) {
	paths, err := DiscoverScenarios(dir)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	for _, path := range paths {
		sum.Total++
		errs := runFile(path)
		if len(errs) == 0 {
			sum.Passed++
			continue
		}
		sum.Failed++
		sum.Failures = append(sum.Failures, Failure{ScenarioPath: path, Errors: errs})
	}
	return sum, nil
}

func runFile(path string) []string {
	scenario, err := LoadScenario(path)
	if err != nil {
		return []string{err.Error()}
	}
	result, err := Run(scenario)
	if err != nil {
		return []string{err.Error()}
	}
	return result.Errors
}
