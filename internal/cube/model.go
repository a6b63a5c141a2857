// Package cube describes the explorable datasets (data cubes) and the
// application settings that declare them.
package cube

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/granularity"
)

// Kind is the value type of a dimension.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindTime    Kind = "time"
	KindBoolean Kind = "boolean"
)

// Bucketing strategies for continuous dimensions.
const (
	BucketDefault   = "defaultBucket"
	BucketNoDefault = "defaultNoBucket"
)

// DefaultMaxSplits bounds the nesting depth of a view.
const DefaultMaxSplits = 3

// Refresh rules for finding the latest data time.
const (
	RefreshQuery    = "query"
	RefreshFixed    = "fixed"
	RefreshRealtime = "realtime"
)

// Dimension is a column (or formula over columns) users can filter and
// split on.
type Dimension struct {
	Name              string               `json:"name" yaml:"name"`
	Title             string               `json:"title,omitempty" yaml:"title,omitempty"`
	Description       string               `json:"description,omitempty" yaml:"description,omitempty"`
	Kind              Kind                 `json:"kind,omitempty" yaml:"kind,omitempty"`
	Formula           string               `json:"formula,omitempty" yaml:"formula,omitempty"`
	Multivalue        bool                 `json:"multiValue,omitempty" yaml:"multiValue,omitempty"`
	Granularities     []granularity.Bucket `json:"granularities,omitempty" yaml:"granularities,omitempty"`
	BucketedBy        granularity.Bucket   `json:"bucketedBy,omitzero" yaml:"bucketedBy,omitempty"`
	BucketingStrategy string               `json:"bucketingStrategy,omitempty" yaml:"bucketingStrategy,omitempty"`
}

// Expression parses the dimension formula.
func (d Dimension) Expression() (expr.Expression, error) {
	formula := d.Formula
	if formula == "" {
		formula = "$" + d.Name
	}
	e, err := expr.Parse(formula)
	if err != nil {
		return nil, fmt.Errorf("dimension %q: %w", d.Name, err)
	}
	return e, nil
}

// IsContinuous reports whether the dimension can be bucketed.
func (d Dimension) IsContinuous() bool {
	return d.Kind == KindTime || d.Kind == KindNumber
}

// GranularityKind maps the dimension kind to a bucket kind.
func (d Dimension) GranularityKind() granularity.Kind {
	if d.Kind == KindTime {
		return granularity.KindTime
	}
	return granularity.KindNumber
}

// CanBucketByDefault reports whether new splits on d should be bucketed.
func (d Dimension) CanBucketByDefault() bool {
	return d.IsContinuous() && d.BucketingStrategy != BucketNoDefault
}

// Measure is an aggregate users can show as a series.
type Measure struct {
	Name        string `json:"name" yaml:"name"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Formula     string `json:"formula,omitempty" yaml:"formula,omitempty"`
	Format      string `json:"format,omitempty" yaml:"format,omitempty"`
	Units       string `json:"units,omitempty" yaml:"units,omitempty"`
	// LowerIsBetter flips the sign of delta colouring.
	LowerIsBetter bool `json:"lowerIsBetter,omitempty" yaml:"lowerIsBetter,omitempty"`
}

// Expression parses the measure formula.
func (m Measure) Expression() (expr.Expression, error) {
	formula := m.Formula
	if formula == "" {
		formula = "$main.sum($" + m.Name + ")"
	}
	e, err := expr.Parse(formula)
	if err != nil {
		return nil, fmt.Errorf("measure %q: %w", m.Name, err)
	}
	return e, nil
}

// IsQuantile reports whether the formula is a single quantile aggregate.
func (m Measure) IsQuantile() bool {
	e, err := m.Expression()
	if err != nil {
		return false
	}
	_, ok := e.(expr.Quantile)
	return ok
}

// RefreshRule tells the timekeeper where the latest data time comes from.
type RefreshRule struct {
	Rule string     `json:"rule,omitempty" yaml:"rule,omitempty"`
	Time *time.Time `json:"time,omitempty" yaml:"time,omitempty"`
}

// DataCube is an explorable dataset: a source table plus the dimensions
// and measures defined over it.
type DataCube struct {
	Name                    string            `json:"name" yaml:"name"`
	Title                   string            `json:"title,omitempty" yaml:"title,omitempty"`
	Description             string            `json:"description,omitempty" yaml:"description,omitempty"`
	ClusterName             string            `json:"clusterName,omitempty" yaml:"clusterName,omitempty"`
	Source                  string            `json:"source,omitempty" yaml:"source,omitempty"`
	TimeAttribute           string            `json:"timeAttribute,omitempty" yaml:"timeAttribute,omitempty"`
	DefaultTimezone         string            `json:"defaultTimezone,omitempty" yaml:"defaultTimezone,omitempty"`
	DefaultDuration         duration.Duration `json:"defaultDuration,omitzero" yaml:"defaultDuration,omitempty"`
	DefaultSortMeasure      string            `json:"defaultSortMeasure,omitempty" yaml:"defaultSortMeasure,omitempty"`
	DefaultSelectedMeasures []string          `json:"defaultSelectedMeasures,omitempty" yaml:"defaultSelectedMeasures,omitempty"`
	DefaultPinnedDimensions []string          `json:"defaultPinnedDimensions,omitempty" yaml:"defaultPinnedDimensions,omitempty"`
	DefaultSplitDimensions  []string          `json:"defaultSplitDimensions,omitempty" yaml:"defaultSplitDimensions,omitempty"`
	MaxSplits               int               `json:"maxSplits,omitempty" yaml:"maxSplits,omitempty"`
	RefreshRule             RefreshRule       `json:"refreshRule,omitzero" yaml:"refreshRule,omitempty"`
	Dimensions              []Dimension       `json:"dimensions" yaml:"dimensions"`
	Measures                []Measure         `json:"measures" yaml:"measures"`
}

// ApplyDefaults fills the optional fields the way the rest of pivot
// expects them: titles, formulas, kinds, timezone, duration, sort measure,
// selected measures and the split limit.
func (c *DataCube) ApplyDefaults() {
	if c.Title == "" {
		c.Title = MakeTitle(c.Name)
	}
	if c.Source == "" {
		c.Source = c.Name
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = duration.DefaultTimezone
	}
	if c.DefaultDuration.IsZero() {
		c.DefaultDuration = duration.MustParse("P1D")
	}
	if c.MaxSplits == 0 {
		c.MaxSplits = DefaultMaxSplits
	}
	if c.RefreshRule.Rule == "" {
		c.RefreshRule.Rule = RefreshQuery
	}

	for i := range c.Dimensions {
		d := &c.Dimensions[i]
		if d.Title == "" {
			d.Title = MakeTitle(d.Name)
		}
		if d.Formula == "" {
			d.Formula = "$" + d.Name
		}
		if d.Kind == "" {
			d.Kind = KindString
			if d.Name == c.TimeAttribute {
				d.Kind = KindTime
			}
		}
		if d.BucketingStrategy == "" && d.IsContinuous() {
			d.BucketingStrategy = BucketDefault
		}
	}
	for i := range c.Measures {
		m := &c.Measures[i]
		if m.Title == "" {
			m.Title = MakeTitle(m.Name)
		}
		if m.Formula == "" {
			m.Formula = "$main.sum($" + m.Name + ")"
		}
	}

	if c.DefaultSortMeasure == "" && len(c.Measures) > 0 {
		c.DefaultSortMeasure = c.Measures[0].Name
	}
	if len(c.DefaultSelectedMeasures) == 0 {
		for i := 0; i < len(c.Measures) && i < 4; i++ {
			c.DefaultSelectedMeasures = append(c.DefaultSelectedMeasures, c.Measures[i].Name)
		}
	}
}

// GetDimension looks a dimension up by name.
func (c *DataCube) GetDimension(name string) (Dimension, bool) {
	for _, d := range c.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// GetMeasure looks a measure up by name.
func (c *DataCube) GetMeasure(name string) (Measure, bool) {
	for _, m := range c.Measures {
		if m.Name == name {
			return m, true
		}
	}
	return Measure{}, false
}

// TimeDimension returns the dimension named by TimeAttribute.
func (c *DataCube) TimeDimension() (Dimension, bool) {
	if c.TimeAttribute == "" {
		return Dimension{}, false
	}
	return c.GetDimension(c.TimeAttribute)
}

// IsTimeAttribute reports whether name is the cube's primary time dimension.
func (c *DataCube) IsTimeAttribute(name string) bool {
	return c.TimeAttribute != "" && name == c.TimeAttribute
}

// ContinuousDimensions returns the time and number dimensions.
func (c *DataCube) ContinuousDimensions() []Dimension {
	var out []Dimension
	for _, d := range c.Dimensions {
		if d.IsContinuous() {
			out = append(out, d)
		}
	}
	return out
}

// Location resolves DefaultTimezone.
func (c *DataCube) Location() (*time.Location, error) {
	return duration.LoadLocation(c.DefaultTimezone)
}

// Cluster is a backend holding data cube sources.
type Cluster struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	// Timeout bounds each query; zero means no timeout.
	Timeout duration.Duration `json:"timeout,omitzero" yaml:"timeout,omitempty"`
}

// ClusterTypeSQLite is the only supported cluster type.
const ClusterTypeSQLite = "sqlite"

// Customization holds presentation settings shared by all cubes.
type Customization struct {
	Title     string   `json:"title,omitempty" yaml:"title,omitempty"`
	Timezones []string `json:"timezones,omitempty" yaml:"timezones,omitempty"`
}

// AppSettings is the root configuration object.
type AppSettings struct {
	Clusters      []Cluster     `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	DataCubes     []DataCube    `json:"dataCubes" yaml:"dataCubes"`
	Customization Customization `json:"customization,omitzero" yaml:"customization,omitempty"`
}

// ApplyDefaults applies defaults to every cube.
func (s *AppSettings) ApplyDefaults() {
	for i := range s.DataCubes {
		s.DataCubes[i].ApplyDefaults()
	}
	if s.Customization.Title == "" {
		s.Customization.Title = "Pivot"
	}
}

// GetDataCube looks a cube up by name.
func (s *AppSettings) GetDataCube(name string) (*DataCube, bool) {
	for i := range s.DataCubes {
		if s.DataCubes[i].Name == name {
			return &s.DataCubes[i], true
		}
	}
	return nil, false
}

// GetCluster looks a cluster up by name.
func (s *AppSettings) GetCluster(name string) (Cluster, bool) {
	for _, c := range s.Clusters {
		if c.Name == name {
			return c, true
		}
	}
	return Cluster{}, false
}

// MakeTitle turns identifiers such as "cityName" or "is_robot" into
// "City Name" and "Is Robot".
func MakeTitle(name string) string {
	var b strings.Builder
	prev := rune(0)
	for _, r := range name {
		switch {
		case r == '_' || r == '-':
			b.WriteByte(' ')
			prev = ' '
			continue
		case unicode.IsUpper(r) && prev != 0 && prev != ' ' && !unicode.IsUpper(prev):
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	// Casers are stateful, so each call gets its own.
	return cases.Title(language.English).String(strings.Join(strings.Fields(b.String()), " "))
}
