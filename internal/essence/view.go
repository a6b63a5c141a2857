package essence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/pivot/internal/colors"
	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/filter"
	"github.com/roach88/pivot/internal/series"
	"github.com/roach88/pivot/internal/split"
)

// ViewDefinition is the serialized form of an Essence, used for saved and
// shared views.
type ViewDefinition struct {
	DataCube         string            `json:"dataCube"`
	Visualization    string            `json:"visualization,omitempty"`
	Timezone         string            `json:"timezone,omitempty"`
	Filter           filter.Filter     `json:"filter"`
	TimeShift        duration.Duration `json:"timeShift,omitzero"`
	Splits           split.Splits      `json:"splits"`
	Series           series.List       `json:"series"`
	PinnedDimensions []string          `json:"pinnedDimensions,omitempty"`
	PinnedSort       string            `json:"pinnedSort,omitempty"`
	Colors           *colors.Colors    `json:"colors,omitempty"`
}

// ToViewDefinition serializes the view.
func (e Essence) ToViewDefinition() ViewDefinition {
	return ViewDefinition{
		DataCube:         e.DataCube.Name,
		Visualization:    e.Visualization,
		Timezone:         e.Timezone,
		Filter:           e.Filter,
		TimeShift:        e.TimeShift,
		Splits:           e.Splits,
		Series:           e.Series,
		PinnedDimensions: slices.Clone(e.PinnedDimensions),
		PinnedSort:       e.PinnedSort,
		Colors:           e.Colors,
	}
}

// FromViewDefinition rebuilds the view against the cubes of settings.
// Parts that no longer match the cube are dropped.
func FromViewDefinition(def ViewDefinition, settings *cube.AppSettings) (Essence, error) {
	c, ok := settings.GetDataCube(def.DataCube)
	if !ok {
		return Essence{}, fmt.Errorf("unknown data cube %q", def.DataCube)
	}
	return New(Essence{
		DataCube:         c,
		Visualization:    def.Visualization,
		Timezone:         def.Timezone,
		Filter:           def.Filter,
		TimeShift:        def.TimeShift,
		Splits:           def.Splits,
		Series:           def.Series,
		PinnedDimensions: slices.Clone(def.PinnedDimensions),
		PinnedSort:       def.PinnedSort,
		Colors:           def.Colors,
	})
}

// ParseViewDefinition decodes a view definition. Unknown fields are
// rejected.
func ParseViewDefinition(data []byte) (ViewDefinition, error) {
	var def ViewDefinition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return ViewDefinition{}, fmt.Errorf("view definition: %w", err)
	}
	if def.DataCube == "" {
		return ViewDefinition{}, fmt.Errorf("view definition: dataCube is required")
	}
	return def, nil
}
