package harness

// StepTrace records the view after one step.
type StepTrace struct {
	Action        string   `json:"action"`
	Visualization string   `json:"visualization"`
	Splits        []string `json:"splits"`
	Error         string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and assertion succeeded.
	Pass bool `json:"pass"`

	// Steps traces the view after each step, in order.
	Steps []StepTrace `json:"steps"`

	// Final view.
	Visualization string   `json:"visualization"`
	Splits        []string `json:"splits"`
	SeriesKeys    []string `json:"series_keys"`

	// Query is the compiled query expression of the final view.
	Query string `json:"query"`

	// SQL lists the statements the query ran; empty without data.
	SQL []string `json:"sql,omitempty"`

	// Rows is the number of datums at the root of the result.
	Rows int `json:"rows,omitempty"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step to the trace.
func (r *Result) AddStep(step StepTrace) {
	r.Steps = append(r.Steps, step)
}
