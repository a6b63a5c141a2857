package cube

import (
	"fmt"
	"regexp"

	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/granularity"
)

// Validation error codes (E200-E299)
const (
	ErrMissingName        = "E201" // name is required
	ErrDuplicateName      = "E202" // duplicate cube/dimension/measure name
	ErrInvalidFormula     = "E203" // formula does not parse
	ErrUnknownReference   = "E204" // default refers to a missing dimension/measure
	ErrInvalidKind        = "E205" // unknown dimension kind
	ErrInvalidGranularity = "E206" // granularity does not fit the dimension
	ErrInvalidTimezone    = "E207" // unknown IANA timezone
	ErrInvalidCluster     = "E208" // unknown cluster or cluster type
	ErrInvalidLimit       = "E209" // maxSplits out of range
	ErrInvalidSource      = "E210" // source is not a plain table name
	ErrInvalidRefreshRule = "E211" // unknown refresh rule
)

// ValidationError represents a configuration error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the settings and returns every error found (does not
// fail fast). Call ApplyDefaults first.
func (s *AppSettings) Validate() []ValidationError {
	var errs []ValidationError

	clusters := map[string]bool{}
	for i, c := range s.Clusters {
		field := fmt.Sprintf("clusters[%d]", i)
		if c.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "cluster name is required", Code: ErrMissingName})
		}
		if clusters[c.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate cluster name %q", c.Name), Code: ErrDuplicateName})
		}
		clusters[c.Name] = true
		if c.Type != ClusterTypeSQLite {
			errs = append(errs, ValidationError{Field: field + ".type", Message: fmt.Sprintf("unsupported cluster type %q", c.Type), Code: ErrInvalidCluster})
		}
	}

	for _, tz := range s.Customization.Timezones {
		if _, err := duration.LoadLocation(tz); err != nil {
			errs = append(errs, ValidationError{Field: "customization.timezones", Message: err.Error(), Code: ErrInvalidTimezone})
		}
	}

	cubes := map[string]bool{}
	for i := range s.DataCubes {
		c := &s.DataCubes[i]
		if cubes[c.Name] && c.Name != "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("dataCubes[%d].name", i),
				Message: fmt.Sprintf("duplicate data cube name %q", c.Name),
				Code:    ErrDuplicateName,
			})
		}
		cubes[c.Name] = true
		if c.ClusterName != "" && !clusters[c.ClusterName] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("dataCubes[%d].clusterName", i),
				Message: fmt.Sprintf("unknown cluster %q", c.ClusterName),
				Code:    ErrInvalidCluster,
			})
		}
		errs = append(errs, c.Validate()...)
	}
	return errs
}

// Validate checks a single cube. Field paths are relative to the cube.
func (c *DataCube) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   c.Name + "." + field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if c.Name == "" {
		add("name", ErrMissingName, "data cube name is required")
	}
	if !identifier.MatchString(c.Source) {
		add("source", ErrInvalidSource, "source %q must be a plain table name", c.Source)
	}
	if _, err := duration.LoadLocation(c.DefaultTimezone); err != nil {
		add("defaultTimezone", ErrInvalidTimezone, "%v", err)
	}
	if c.MaxSplits < 1 || c.MaxSplits > 10 {
		add("maxSplits", ErrInvalidLimit, "maxSplits must be between 1 and 10, got %d", c.MaxSplits)
	}
	switch c.RefreshRule.Rule {
	case RefreshQuery, RefreshRealtime:
	case RefreshFixed:
		if c.RefreshRule.Time == nil {
			add("refreshRule.time", ErrInvalidRefreshRule, "fixed refresh rule needs a time")
		}
	default:
		add("refreshRule.rule", ErrInvalidRefreshRule, "unknown refresh rule %q", c.RefreshRule.Rule)
	}

	names := map[string]bool{}
	for i, d := range c.Dimensions {
		field := fmt.Sprintf("dimensions[%d]", i)
		if d.Name == "" {
			add(field+".name", ErrMissingName, "dimension name is required")
			continue
		}
		if names[d.Name] {
			add(field+".name", ErrDuplicateName, "duplicate name %q", d.Name)
		}
		names[d.Name] = true

		switch d.Kind {
		case KindString, KindNumber, KindTime, KindBoolean:
		default:
			add(field+".kind", ErrInvalidKind, "unknown kind %q", d.Kind)
		}
		if _, err := d.Expression(); err != nil {
			add(field+".formula", ErrInvalidFormula, "%v", err)
		}
		errs = append(errs, c.validateGranularities(field, d)...)
	}

	for i, m := range c.Measures {
		field := fmt.Sprintf("measures[%d]", i)
		if m.Name == "" {
			add(field+".name", ErrMissingName, "measure name is required")
			continue
		}
		if names[m.Name] {
			add(field+".name", ErrDuplicateName, "duplicate name %q", m.Name)
		}
		names[m.Name] = true
		if _, err := m.Expression(); err != nil {
			add(field+".formula", ErrInvalidFormula, "%v", err)
		}
	}

	if c.TimeAttribute != "" {
		if d, ok := c.GetDimension(c.TimeAttribute); !ok {
			add("timeAttribute", ErrUnknownReference, "unknown dimension %q", c.TimeAttribute)
		} else if d.Kind != KindTime {
			add("timeAttribute", ErrInvalidKind, "dimension %q must have kind time", c.TimeAttribute)
		}
	}
	if c.DefaultSortMeasure != "" {
		if _, ok := c.GetMeasure(c.DefaultSortMeasure); !ok {
			add("defaultSortMeasure", ErrUnknownReference, "unknown measure %q", c.DefaultSortMeasure)
		}
	}
	for _, name := range c.DefaultSelectedMeasures {
		if _, ok := c.GetMeasure(name); !ok {
			add("defaultSelectedMeasures", ErrUnknownReference, "unknown measure %q", name)
		}
	}
	for _, name := range c.DefaultPinnedDimensions {
		if _, ok := c.GetDimension(name); !ok {
			add("defaultPinnedDimensions", ErrUnknownReference, "unknown dimension %q", name)
		}
	}
	for _, name := range c.DefaultSplitDimensions {
		if _, ok := c.GetDimension(name); !ok {
			add("defaultSplitDimensions", ErrUnknownReference, "unknown dimension %q", name)
		}
	}
	return errs
}

func (c *DataCube) validateGranularities(field string, d Dimension) []ValidationError {
	var errs []ValidationError
	check := func(f string, b granularity.Bucket) {
		if b.IsZero() {
			return
		}
		if !d.IsContinuous() || b.Kind != d.GranularityKind() {
			errs = append(errs, ValidationError{
				Field:   c.Name + "." + field + "." + f,
				Message: fmt.Sprintf("granularity %s does not fit %s dimension %q", b, d.Kind, d.Name),
				Code:    ErrInvalidGranularity,
			})
		}
	}
	for i, b := range d.Granularities {
		check(fmt.Sprintf("granularities[%d]", i), b)
	}
	check("bucketedBy", d.BucketedBy)
	if len(d.Granularities) > 0 && len(d.Granularities) != granularity.MenuLength {
		errs = append(errs, ValidationError{
			Field:   c.Name + "." + field + ".granularities",
			Message: fmt.Sprintf("expected %d granularities, got %d", granularity.MenuLength, len(d.Granularities)),
			Code:    ErrInvalidGranularity,
		})
	}
	return errs
}
