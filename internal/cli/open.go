package cli

import (
	"context"

	"github.com/viewmill/viewmill/internal/materialize"
)

// openMaterializer assembles the pipeline selected by the global flags and
// restores any persisted view model from the database.
func openMaterializer(ctx context.Context, opts *RootOptions) (*materialize.Materializer, error) {
	cfg := materialize.Config{DBPath: opts.Database}

	var m *materialize.Materializer
	var err error
	switch opts.Mode {
	case "sync-read":
		m, err = materialize.NewSyncRead(cfg)
	default:
		m, err = materialize.NewWriteTime(cfg)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}

	if _, err := m.RestoreModel(ctx); err != nil {
		_ = m.Close()
		return nil, WrapExitError(ExitCommandError, "failed to restore view model", err)
	}
	return m, nil
}

// commandContext returns the command's context, falling back to Background.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
