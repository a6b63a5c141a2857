package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// LoadResult is the output of the load command.
type LoadResult struct {
	Source string `json:"source"`
	Rows   int    `json:"rows"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <source> <file.csv>",
		Short: "Append CSV rows to a source table",
		Long: `Append the rows of a CSV file to a source table of the database.

The header row names the columns. A header entry may declare the column
kind as "name:kind" (string, boolean, number, time); a source that does not
exist yet is created when every entry declares one. Empty cells are null.
Use "-" to read stdin.

Example:
  pivot load --db ./pivot.db wiki_edits ./wiki.csv`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runLoad(opts *RootOptions, source, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to open %s", ErrCodeNotFound, path), err)
		}
		defer f.Close()
		r = f
	}

	st, err := openStore(opts.DB)
	if err != nil {
		return err
	}
	defer closeStore(st)

	n, err := st.LoadCSV(cmd.Context(), source, r)
	if err != nil {
		_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitFailure, fmt.Sprintf("%s: load failed", ErrCodeBadInput), err)
	}
	formatter.VerboseLog("Loaded %s into %s", path, opts.DB)

	if formatter.Format == "json" {
		return formatter.Success(LoadResult{Source: source, Rows: n})
	}
	fmt.Fprintf(formatter.Writer, "✓ Loaded %d row(s) into %s\n", n, source)
	return nil
}
