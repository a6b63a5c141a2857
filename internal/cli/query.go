package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/engine"
	"github.com/roach88/pivot/internal/essence"
	"github.com/roach88/pivot/internal/expr"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	ExpressionOnly bool
	ShowSQL        bool
	Now            string
}

// QueryOutput is the result of the query command.
type QueryOutput struct {
	Query  string        `json:"query"`
	SQL    []string      `json:"sql,omitempty"`
	Result *expr.Dataset `json:"result,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <view.json>",
		Short: "Build and run the query of a view definition",
		Long: `Build the query expression of a view definition and run it.

The view definition is read from a file, or from stdin when the path is "-".
Relative time filters are evaluated against --now (default: the current
time) and the latest data time of the data cube.

Example:
  pivot query ./views/by-channel.json
  pivot query --expression ./views/by-channel.json
  pivot query --sql --now 2024-03-06T15:00:00Z ./views/by-channel.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ExpressionOnly, "expression", false, "print the query expression without running it")
	cmd.Flags().BoolVar(&opts.ShowSQL, "sql", false, "print the SQL statements the query runs")
	cmd.Flags().StringVar(&opts.Now, "now", "", "evaluation time (RFC 3339)")

	return cmd
}

func runQuery(opts *QueryOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	now := time.Now()
	if opts.Now != "" {
		t, err := time.Parse(time.RFC3339, opts.Now)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("%s: invalid --now", ErrCodeBadInput), err)
		}
		now = t
	}

	settings, err := loadSettings(opts.Config)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	es, err := parseView(data, settings)
	if err != nil {
		return err
	}
	formatter.VerboseLog("View of %s: %d split(s), %d series", es.DataCube.Name, es.Splits.Len(), es.Series.Count())

	if opts.ExpressionOnly {
		q, err := essence.MakeQuery(es, essence.NewTimekeeper(now))
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("%s: failed to build query", ErrCodeBadInput), err)
		}
		return outputQuery(formatter, QueryOutput{Query: expr.String(q)})
	}

	st, err := openStore(opts.DB)
	if err != nil {
		return err
	}
	defer closeStore(st)

	formatter.TraceID = engine.UUIDv7Generator{}.Generate()
	var statements []string
	engineOpts := []engine.Option{engine.WithIDGenerator(engine.NewFixedGenerator(formatter.TraceID))}
	if opts.ShowSQL {
		engineOpts = append(engineOpts, engine.WithStatementHook(func(_, sql string) {
			statements = append(statements, sql)
		}))
	}
	eng := engine.New(st, settings, engineOpts...)

	ctx := cmd.Context()
	q, ds, err := eng.ExecuteEssence(ctx, es, eng.Timekeeper(ctx, now))
	if err != nil {
		qe := engine.AsQueryError(err, es.DataCube.Name)
		var details any
		if len(qe.Details) > 0 {
			details = qe.Details
		}
		_ = formatter.Error(string(qe.Code), qe.Message, details)
		return WrapExitError(ExitFailure, fmt.Sprintf("%s: query failed", ErrCodeQueryFailed), err)
	}
	return outputQuery(formatter, QueryOutput{Query: expr.String(q), SQL: statements, Result: ds})
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to read %s", ErrCodeNotFound, path), err)
	}
	return data, nil
}

// parseView decodes a view definition and completes it against settings.
func parseView(data []byte, settings *cube.AppSettings) (essence.Essence, error) {
	def, err := essence.ParseViewDefinition(data)
	if err != nil {
		return essence.Essence{}, WrapExitError(ExitCommandError, fmt.Sprintf("%s: invalid view definition", ErrCodeBadInput), err)
	}
	es, err := essence.FromViewDefinition(def, settings)
	if err != nil {
		return essence.Essence{}, WrapExitError(ExitCommandError, fmt.Sprintf("%s: invalid view definition", ErrCodeBadInput), err)
	}
	return es, nil
}

func outputQuery(formatter *OutputFormatter, out QueryOutput) error {
	if formatter.Format == "json" {
		return formatter.Success(out)
	}

	w := formatter.Writer
	fmt.Fprintln(w, "Query:")
	fmt.Fprintf(w, "  %s\n", out.Query)
	if len(out.SQL) > 0 {
		fmt.Fprintln(w, "SQL:")
		for _, s := range out.SQL {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
	if out.Result != nil {
		fmt.Fprintf(w, "Result (%d row(s)):\n", out.Result.Len())
		writeDataset(w, out.Result, 1)
	}
	return nil
}

// writeDataset prints one line per datum, nested datasets indented below
// their parent.
func writeDataset(w io.Writer, ds *expr.Dataset, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, d := range ds.Data {
		var (
			fields []string
			nested []*expr.Dataset
		)
		for _, col := range (&expr.Dataset{Data: []expr.Datum{d}}).Columns() {
			if sub, ok := d[col].(*expr.Dataset); ok {
				nested = append(nested, sub)
				continue
			}
			fields = append(fields, col+"="+formatValue(d[col]))
		}
		fmt.Fprintf(w, "%s%s\n", indent, strings.Join(fields, " "))
		for _, sub := range nested {
			writeDataset(w, sub, depth+1)
		}
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case string:
		if val == "" || strings.ContainsAny(val, " =") {
			return strconv.Quote(val)
		}
		return val
	}
	return fmt.Sprint(v)
}
