// Package viz decides which visualizations can show a view.
//
// Every Manifest inspects the splits and series of a view and answers with
// a Resolve: ready to render (with a score used to rank alternatives),
// ready after an automatic adjustment, needing a manual change (with
// suggested resolutions), or ready with a warning.
package viz

import (
	"fmt"
	"slices"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/series"
	"github.com/roach88/pivot/internal/split"
)

// ResolveType is the outcome of evaluating a manifest.
type ResolveType string

const (
	Ready     ResolveType = "ready"
	Automatic ResolveType = "automatic"
	Manual    ResolveType = "manual"
	Warning   ResolveType = "warning"
)

// Adjustment is a change to the view. Nil fields are left alone.
type Adjustment struct {
	Splits *split.Splits
	Series *series.List
}

// Resolution is a manual change the user can pick.
type Resolution struct {
	Description string
	Adjustment  Adjustment
}

// Resolve is the verdict of a manifest on a view.
type Resolve struct {
	Type        ResolveType
	Score       float64
	Message     string
	Adjustment  Adjustment
	Resolutions []Resolution
}

func ready(score float64) Resolve { return Resolve{Type: Ready, Score: score} }

func automatic(score float64, adj Adjustment) Resolve {
	return Resolve{Type: Automatic, Score: score, Adjustment: adj}
}

func manual(score float64, message string, resolutions ...Resolution) Resolve {
	return Resolve{Type: Manual, Score: score, Message: message, Resolutions: resolutions}
}

func warning(score float64, message string) Resolve {
	return Resolve{Type: Warning, Score: score, Message: message}
}

// IsReady reports whether the view can render as is. Warnings render too.
func (r Resolve) IsReady() bool { return r.Type == Ready || r.Type == Warning }

func (r Resolve) IsAutomatic() bool { return r.Type == Automatic }
func (r Resolve) IsManual() bool    { return r.Type == Manual }

// String renders the verdict for logs.
func (r Resolve) String() string {
	if r.Message != "" {
		return fmt.Sprintf("%s(%g): %s", r.Type, r.Score, r.Message)
	}
	return fmt.Sprintf("%s(%g)", r.Type, r.Score)
}

// Context is what a manifest looks at.
type Context struct {
	Cube   *cube.DataCube
	Splits split.Splits
	Series series.List
	// Selected is true for the visualization currently shown.
	Selected bool
}

// Manifest describes one visualization.
type Manifest struct {
	Name  string
	Title string
	rules func(Context) Resolve
}

// Evaluate runs the manifest rules. A view without series needs a manual
// change whatever the visualization.
func (m Manifest) Evaluate(ctx Context) Resolve {
	if ctx.Series.IsEmpty() {
		var resolutions []Resolution
		for _, name := range ctx.Cube.DefaultSelectedMeasures {
			list := series.FromMeasures(name)
			resolutions = append(resolutions, Resolution{
				Description: "Add measure " + titleOfMeasure(ctx.Cube, name),
				Adjustment:  Adjustment{Series: &list},
			})
		}
		return manual(0, "Please select a measure", resolutions...)
	}
	return m.rules(ctx)
}

// Strategy chooses between the current visualization and better ones.
type Strategy int

const (
	// FairGame picks the best scoring visualization.
	FairGame Strategy = iota
	// UnfairGame keeps the current visualization while it is ready.
	UnfairGame
	// KeepAlways keeps the current visualization.
	KeepAlways
)

// Best picks the visualization for a view. current may be empty.
func Best(ctx Context, current string, strategy Strategy) (Manifest, Resolve, error) {
	if current != "" {
		m, ok := Lookup(current)
		if !ok {
			return Manifest{}, Resolve{}, fmt.Errorf("unknown visualization %q", current)
		}
		selected := ctx
		selected.Selected = true
		r := m.Evaluate(selected)
		switch {
		case strategy == KeepAlways:
			return m, r, nil
		case strategy == UnfairGame && r.IsReady():
			return m, r, nil
		}
	}

	var (
		best      Manifest
		bestScore = -1.0
		bestRes   Resolve
	)
	for _, m := range manifests {
		c := ctx
		c.Selected = m.Name == current
		r := m.Evaluate(c)
		score := r.Score
		if r.IsManual() {
			score = -0.5
		}
		if score > bestScore {
			best, bestScore, bestRes = m, score, r
		}
	}
	return best, bestRes, nil
}

// Lookup finds a manifest by name.
func Lookup(name string) (Manifest, bool) {
	i := slices.IndexFunc(manifests, func(m Manifest) bool { return m.Name == name })
	if i < 0 {
		return Manifest{}, false
	}
	return manifests[i], true
}

// Names lists the visualizations in ranking order.
func Names() []string {
	out := make([]string, len(manifests))
	for i, m := range manifests {
		out[i] = m.Name
	}
	return out
}

func titleOfMeasure(c *cube.DataCube, name string) string {
	if m, ok := c.GetMeasure(name); ok {
		return m.Title
	}
	return name
}
