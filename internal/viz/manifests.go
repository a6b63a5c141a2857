package viz

import (
	"strings"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/granularity"
	"github.com/roach88/pivot/internal/split"
)

// Visualization names.
const (
	Totals      = "totals"
	Table       = "table"
	LineChart   = "line-chart"
	BarChart    = "bar-chart"
	Heatmap     = "heatmap"
	Scatterplot = "scatterplot"
	Geo         = "geo"
)

var manifests = []Manifest{
	{Name: Totals, Title: "Totals", rules: totalsRules},
	{Name: Table, Title: "Table", rules: tableRules},
	{Name: LineChart, Title: "Line Chart", rules: lineChartRules},
	{Name: BarChart, Title: "Bar Chart", rules: barChartRules},
	{Name: Heatmap, Title: "Heatmap", rules: heatmapRules},
	{Name: Scatterplot, Title: "Scatterplot", rules: scatterplotRules},
	{Name: Geo, Title: "Geo", rules: geoRules},
}

// selectedBonus breaks ties in favour of what the user is looking at.
func selectedBonus(ctx Context, score float64) float64 {
	if ctx.Selected {
		return score + 1
	}
	return score
}

func totalsRules(ctx Context) Resolve {
	if ctx.Splits.IsEmpty() {
		return ready(selectedBonus(ctx, 10))
	}
	empty := split.New()
	return manual(3, "The Totals visualization does not support splits", Resolution{
		Description: "Remove all splits",
		Adjustment:  Adjustment{Splits: &empty},
	})
}

func tableRules(ctx Context) Resolve {
	if ctx.Splits.IsEmpty() {
		return manual(0, "This visualization requires at least one split", suggestSplits(ctx.Cube, "Add a split on ", nil)...)
	}
	if ctx.Splits.Len() > 2 {
		return ready(selectedBonus(ctx, 9))
	}
	return ready(selectedBonus(ctx, 6))
}

func lineChartRules(ctx Context) Resolve {
	if ctx.Splits.IsEmpty() {
		return manual(0, "This visualization requires a continuous dimension split",
			suggestSplits(ctx.Cube, "Add a split on ", (*cube.Dimension).IsContinuous)...)
	}
	if ctx.Splits.Len() > 2 {
		return manual(0, "Line chart supports at most two splits", keepLastContinuous(ctx)...)
	}

	last, _ := ctx.Splits.Get(ctx.Splits.Len() - 1)
	dim, ok := ctx.Cube.GetDimension(last.Reference)
	if !ok || !dim.IsContinuous() {
		return manual(0, "The Line Chart needs one continuous dimension split", keepLastContinuous(ctx)...)
	}

	if last.Bucket.IsZero() {
		b, err := granularity.DefaultForKind(dim.GranularityKind(), dim.BucketedBy, dim.Granularities)
		if err == nil {
			adjusted := ctx.Splits.Add(last.ChangeBucket(b).ChangeSort(split.DimensionSort(last.Reference, split.Ascending)))
			return automatic(6, Adjustment{Splits: &adjusted})
		}
	}
	if last.Sort.Type != split.SortDimension || last.Sort.Reference != last.Reference {
		adjusted := ctx.Splits.Add(last.ChangeSort(split.DimensionSort(last.Reference, split.Ascending)))
		return automatic(6, Adjustment{Splits: &adjusted})
	}

	score := 4.0
	if ctx.Cube.IsTimeAttribute(dim.Name) {
		score = 10
	}
	if ctx.Splits.Len() == 2 {
		score -= 2
	}
	return ready(selectedBonus(ctx, score))
}

// keepLastContinuous suggests replacing the splits with a single split on
// each continuous dimension.
func keepLastContinuous(ctx Context) []Resolution {
	return suggestSplits(ctx.Cube, "Split on ", (*cube.Dimension).IsContinuous)
}

func barChartRules(ctx Context) Resolve {
	if ctx.Splits.IsEmpty() {
		return manual(0, "This visualization requires at least one split",
			suggestSplits(ctx.Cube, "Add a split on ", func(d *cube.Dimension) bool { return !d.IsContinuous() })...)
	}
	if ctx.Splits.Len() > 2 {
		return manual(0, "Bar chart supports at most two splits", suggestSplits(ctx.Cube, "Split on ", nil)...)
	}
	first, _ := ctx.Splits.Get(0)
	dim, ok := ctx.Cube.GetDimension(first.Reference)
	if ok && dim.IsContinuous() {
		if first.Limit == 0 || first.Limit > 25 {
			adjusted := ctx.Splits.Add(first.ChangeLimit(25))
			return automatic(4, Adjustment{Splits: &adjusted})
		}
		return ready(selectedBonus(ctx, 4))
	}
	return ready(selectedBonus(ctx, 8))
}

func heatmapRules(ctx Context) Resolve {
	if ctx.Splits.Len() != 2 {
		return manual(0, "Heatmap needs exactly two splits")
	}
	if ctx.Series.Count() > 1 {
		return warning(selectedBonus(ctx, 3), "Heatmap shows only the first measure")
	}
	return ready(selectedBonus(ctx, 5))
}

func scatterplotRules(ctx Context) Resolve {
	if ctx.Splits.Len() != 1 {
		return manual(0, "Scatterplot needs exactly one split")
	}
	if ctx.Series.Count() < 2 {
		return manual(0, "Scatterplot needs at least two measures")
	}
	return ready(selectedBonus(ctx, 3))
}

var geoNames = []string{"country", "region", "state", "city"}

func geoRules(ctx Context) Resolve {
	if ctx.Splits.Len() != 1 {
		return manual(0, "Geo needs exactly one split on a place dimension",
			suggestSplits(ctx.Cube, "Split on ", isPlace)...)
	}
	first, _ := ctx.Splits.Get(0)
	dim, ok := ctx.Cube.GetDimension(first.Reference)
	if !ok || !isPlace(&dim) {
		return manual(0, "Geo needs a split on a place dimension", suggestSplits(ctx.Cube, "Split on ", isPlace)...)
	}
	return ready(selectedBonus(ctx, 2))
}

func isPlace(d *cube.Dimension) bool {
	if d.Kind != cube.KindString {
		return false
	}
	name := strings.ToLower(d.Name)
	for _, n := range geoNames {
		if strings.Contains(name, n) {
			return true
		}
	}
	return false
}

// suggestSplits offers a single-split view for each dimension accepted by
// keep (all when nil), time attribute first.
func suggestSplits(c *cube.DataCube, prefix string, keep func(*cube.Dimension) bool) []Resolution {
	var out []Resolution
	add := func(d cube.Dimension) {
		sortSeries := ""
		if len(c.DefaultSelectedMeasures) > 0 {
			sortSeries = c.DefaultSelectedMeasures[0]
		}
		s := split.New(split.FromDimension(d, sortSeries))
		out = append(out, Resolution{Description: prefix + d.Title, Adjustment: Adjustment{Splits: &s}})
	}
	if d, ok := c.TimeDimension(); ok && (keep == nil || keep(&d)) {
		add(d)
	}
	for _, d := range c.Dimensions {
		if c.IsTimeAttribute(d.Name) || keep != nil && !keep(&d) {
			continue
		}
		add(d)
		if len(out) == 3 {
			break
		}
	}
	return out
}
