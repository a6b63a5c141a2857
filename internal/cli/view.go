package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pivot/internal/store"
)

// NewViewCommand creates the view command and its subcommands.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Save and show view definitions",
	}

	cmd.AddCommand(newViewSaveCommand(rootOpts))
	cmd.AddCommand(newViewShowCommand(rootOpts))
	cmd.AddCommand(newViewListCommand(rootOpts))

	return cmd
}

func newViewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "save <view.json>",
		Short: "Save a view definition",
		Long: `Save a view definition checked against the config.

The definition is completed (defaults filled in, stale parts dropped) before
it is stored, so equivalent definitions share an id. Use "-" to read stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViewSave(rootOpts, args[0], title, cmd)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "title of the saved view")

	return cmd
}

func runViewSave(opts *RootOptions, path, title string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

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
	normalized, err := json.Marshal(es.ToViewDefinition())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode view", err)
	}

	st, err := openStore(opts.DB)
	if err != nil {
		return err
	}
	defer closeStore(st)

	id, err := st.SaveView(cmd.Context(), es.DataCube.Name, title, normalized)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("%s: failed to save view", ErrCodeStore), err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"id": id})
	}
	fmt.Fprintln(formatter.Writer, id)
	return nil
}

func newViewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Print a saved view definition",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			st, err := openStore(rootOpts.DB)
			if err != nil {
				return err
			}
			defer closeStore(st)

			v, err := st.GetView(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("view %s not found", args[0]), nil)
				return NewExitError(ExitFailure, fmt.Sprintf("%s: view %s not found", ErrCodeNotFound, args[0]))
			}
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("%s: failed to read view", ErrCodeStore), err)
			}

			if formatter.Format == "json" {
				return formatter.Success(v)
			}
			fmt.Fprintln(formatter.Writer, string(v.Definition))
			return nil
		},
	}
}

func newViewListCommand(rootOpts *RootOptions) *cobra.Command {
	var dataCube string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List saved views, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			st, err := openStore(rootOpts.DB)
			if err != nil {
				return err
			}
			defer closeStore(st)

			views, err := st.ListViews(cmd.Context(), dataCube)
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("%s: failed to list views", ErrCodeStore), err)
			}

			if formatter.Format == "json" {
				if views == nil {
					views = []store.View{}
				}
				return formatter.Success(views)
			}
			for _, v := range views {
				fmt.Fprintf(formatter.Writer, "%s\t%s\t%s\n", v.ID, v.DataCube, v.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataCube, "data-cube", "", "only views of this data cube")

	return cmd
}
