package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/granularity"
)

// GranularityOptions holds flags for the granularity command.
type GranularityOptions struct {
	*RootOptions
	Coarse     bool
	BucketedBy string
	Custom     []string
	Timezone   string
}

// GranularityResult is the output of the granularity command.
type GranularityResult struct {
	Granularity string   `json:"granularity"`
	Snapped     string   `json:"snapped"`
	Menu        []string `json:"menu"`
}

// NewGranularityCommand creates the granularity command.
func NewGranularityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GranularityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "granularity <start> <end> [value...]",
		Short: "Pick the bucket for a time or number range",
		Long: `Pick the granularity a split over the range would use, the range
snapped to it, and the menu of granularities offered alongside.

Bounds are two RFC 3339 times or dates (2006-01-02), or numbers. Given
more than two numbers, the range spans all of them.

Example:
  pivot granularity 2024-03-01 2024-03-03
  pivot granularity --coarse 0 250
  pivot granularity 17 3 250 42
  pivot granularity --custom PT1H,P1D 2024-03-01T00:00:00Z 2024-03-01T12:00:00Z`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGranularity(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Coarse, "coarse", false, "use the coarse checkpoints")
	cmd.Flags().StringVar(&opts.BucketedBy, "bucketed-by", "", "granularity the data is already bucketed by")
	cmd.Flags().StringSliceVar(&opts.Custom, "custom", nil, "custom granularities to choose from, finest first")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", "Etc/UTC", "timezone time ranges snap in")

	return cmd
}

func runGranularity(opts *GranularityOptions, bounds []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	r, err := parseRange(bounds)
	if err != nil {
		return badInput(formatter, err)
	}

	var bucketedBy granularity.Bucket
	if opts.BucketedBy != "" {
		if bucketedBy, err = parseBucket(opts.BucketedBy); err != nil {
			return badInput(formatter, fmt.Errorf("--bucketed-by: %w", err))
		}
	}
	var custom []granularity.Bucket
	for _, c := range opts.Custom {
		b, err := parseBucket(c)
		if err != nil {
			return badInput(formatter, fmt.Errorf("--custom: %w", err))
		}
		custom = append(custom, b)
	}
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return badInput(formatter, err)
	}

	best, err := granularity.BestForRange(r, opts.Coarse, bucketedBy, custom)
	if err != nil {
		return badInput(formatter, err)
	}
	snapped, err := granularity.SnapRange(r, best, loc)
	if err != nil {
		return badInput(formatter, err)
	}
	formatter.VerboseLog("Range %v", r)

	menu := custom
	if len(menu) == 0 {
		if menu, err = granularity.Granularities(best.Kind, bucketedBy, opts.Coarse); err != nil {
			return badInput(formatter, err)
		}
	}

	result := GranularityResult{Granularity: best.String(), Snapped: fmt.Sprint(snapped)}
	for _, b := range menu {
		result.Menu = append(result.Menu, b.String())
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "%s\t%s\n", result.Granularity, result.Snapped)
	fmt.Fprintf(formatter.Writer, "menu\t%s\n", strings.Join(result.Menu, " "))
	return nil
}

func badInput(formatter *OutputFormatter, err error) error {
	_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
	return WrapExitError(ExitCommandError, ErrCodeBadInput, err)
}

// parseRange reads a time range from two times, else the number range
// spanning every value.
func parseRange(bounds []string) (any, error) {
	if len(bounds) == 2 {
		s, errS := parseTime(bounds[0])
		e, errE := parseTime(bounds[1])
		if errS == nil && errE == nil {
			return expr.NewTimeRange(s, e), nil
		}
	}
	xs := make([]float64, len(bounds))
	for i, b := range bounds {
		x, err := strconv.ParseFloat(b, 64)
		if err != nil {
			return nil, fmt.Errorf("bounds %q are neither two times nor numbers", bounds)
		}
		xs[i] = x
	}
	return granularity.NumberRangeOf(xs)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// parseBucket reads "P1D"-style durations and positive numbers.
func parseBucket(s string) (granularity.Bucket, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return granularity.FromJS(f)
	}
	return granularity.FromJS(s)
}
