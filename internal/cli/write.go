package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/viewmill/viewmill/internal/writer"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	File string
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write events from a JSON file",
		Long: `Write a batch of events and drain it through the materializer.

The file holds a JSON array of events. Events may arrive in any order;
a child that references a not-yet-written parent is retried within the
batch until its dependencies land.

Example:
  viewmill write --db ./views.db -f events.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeEvents(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "path to events JSON (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func writeEvents(cmd *cobra.Command, opts *WriteOptions) error {
	ctx := commandContext(cmd.Context())
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	data, err := os.ReadFile(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events file", err)
	}
	var events []writer.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse events file", err)
	}
	if len(events) == 0 {
		return NewExitError(ExitCommandError, "events file is empty")
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

	objects, err := m.Write(ctx, events...)
	var drain *writer.DrainError
	switch {
	case errors.As(err, &drain):
		_ = out.Error("undrained", drain.Error(), len(drain.Unprocessed))
		return WrapExitError(ExitFailure, "batch did not drain", err)
	case err != nil:
		_ = out.Error("write_failed", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write events", err)
	}

	slog.Info("events written", "count", len(objects))
	if opts.Format == "json" {
		written := make([]string, 0, len(objects))
		for _, obj := range objects {
			written = append(written, obj.String())
		}
		return out.Success(map[string]any{"written": written})
	}
	lines := make([]string, 0, len(objects))
	for _, obj := range objects {
		lines = append(lines, obj.String())
	}
	return out.Success(fmt.Sprintf("wrote %d events:\n%s", len(objects), strings.Join(lines, "\n")))
}
