package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// ModelOptions holds flags for the model push command.
type ModelOptions struct {
	*RootOptions
	File string
}

// NewModelCommand creates the model command group.
func NewModelCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage view models",
	}
	cmd.AddCommand(newModelPushCommand(rootOpts))
	return cmd
}

func newModelPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ModelOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Validate and install a view model",
		Long: `Validate a YAML view model and install it into the database.

The model declares, per view, the root class and the ref paths from root to
leaf fields. Installed models persist with the data, so later write and read
invocations pick them up automatically.

Example:
  viewmill model push --db ./views.db -f views.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pushModel(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "path to view model YAML (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func pushModel(cmd *cobra.Command, opts *ModelOptions) error {
	ctx := commandContext(cmd.Context())
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	source, err := os.ReadFile(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read model file", err)
	}

	m, err := openMaterializer(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Error("error closing storage", "error", closeErr)
		}
	}()

	views, err := m.PushModel(ctx, source)
	if err != nil {
		_ = out.Error("model_invalid", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to push model", err)
	}

	slog.Info("view model installed", "version", views.Version().String(), "views", len(views.Defs()))
	if opts.Format == "json" {
		return out.Success(map[string]any{
			"version": views.Version().String(),
			"views":   len(views.Defs()),
		})
	}
	return out.Success(fmt.Sprintf("installed model version %s (%d views)", views.Version(), len(views.Defs())))
}
