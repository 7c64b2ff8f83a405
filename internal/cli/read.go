package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/reader"
	"github.com/viewmill/viewmill/internal/view"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	Tenant  string
	Centric string
	Actor   string
	Root    string
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a merged view document",
		Long: `Assemble and print the view document rooted at one object.

The root is addressed as Class_Instance, matching the ids the write
command prints.

Example:
  viewmill read --db ./views.db --tenant t1 --actor amy --root Order_o-1`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return readView(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&opts.Centric, "centric", "", "user-centric scope actor")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "reading actor")
	cmd.Flags().StringVar(&opts.Root, "root", "", "root object id as Class_Instance (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}

func readView(cmd *cobra.Command, opts *ReadOptions) error {
	ctx := commandContext(cmd.Context())
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	root, err := ids.ParseObjectID(opts.Root)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid root object id", err)
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

	resp, err := m.ReadView(ctx, view.Descriptor{
		Scope: ids.NewTenantScope(ids.TenantID(opts.Tenant), ids.ActorID(opts.Centric)),
		Actor: ids.ActorID(opts.Actor),
		Root:  root,
	})
	var sized *reader.SizeExceededError
	switch {
	case errors.As(err, &sized):
		_ = out.Error("too_large", sized.Error(), sized.Size)
		return WrapExitError(ExitFailure, "view too large", err)
	case err != nil:
		_ = out.Error("read_failed", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read view", err)
	}

	switch resp.Status {
	case view.StatusOK:
		return out.SuccessRaw(resp.Body)
	case view.StatusForbidden:
		_ = out.Error("forbidden", fmt.Sprintf("read of %s denied", opts.Root), nil)
		return NewExitError(ExitFailure, "read denied")
	default:
		_ = out.Error("not_found", fmt.Sprintf("no view for %s", opts.Root), nil)
		return NewExitError(ExitFailure, "view not found")
	}
}
