// Package materialize assembles the full pipeline for one of the two
// materialization strategies.
//
// Write-time: ingest computes and commits view fragments as events land;
// reads are plain fragment scans. Sync-read: ingest records raw events and
// links but discards fragment changes; reads recompute missing fragments on
// demand and cache them. Both strategies share every other component, so a
// deployment can switch by reassembling over the same storage.
package materialize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/viewmill/viewmill/internal/commit"
	"github.com/viewmill/viewmill/internal/fragments"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/ingress"
	"github.com/viewmill/viewmill/internal/model"
	"github.com/viewmill/viewmill/internal/pathkey"
	"github.com/viewmill/viewmill/internal/reader"
	"github.com/viewmill/viewmill/internal/storage"
	"github.com/viewmill/viewmill/internal/view"
	"github.com/viewmill/viewmill/internal/writer"
)

// Config wires a Materializer. The zero value is usable: in-memory
// storage, UUIDv7 instance ids, allow-all permission.
type Config struct {
	// DBPath opens SQLite storage at the given path; empty keeps
	// everything in memory.
	DBPath string
	// Processor is the schema-processor identity, default "viewmill".
	Processor string
	Sequence  *ids.OrderedIDProvider
	Instances ids.InstanceIDProvider
	// MaxAttempts bounds the writer's drain loop.
	MaxAttempts  int
	Permission   reader.PermissionChecker
	OnStaleField reader.StaleFieldFunc
	MaxViewSize  int
	Sink         ingress.BookkeepingSink
	Notifier     ingress.NotificationProcessor
	Logger       *slog.Logger
}

// Materializer is the public seam over the assembled pipeline.
type Materializer struct {
	processor string
	provider  storage.Provider
	models    *model.SwapProvider
	writer    *writer.Writer
	reader    *reader.Reader
}

// NewWriteTime assembles the write-time strategy: fragments are committed
// during ingest.
func NewWriteTime(cfg Config) (*Materializer, error) {
	return assemble(cfg, false)
}

// NewSyncRead assembles the sync-read strategy: ingest records events and
// links only, reads derive and cache fragments on miss.
func NewSyncRead(cfg Config) (*Materializer, error) {
	return assemble(cfg, true)
}

// discardCommitter drops fragment changes during ingest; the sync-read
// strategy materializes at read time instead.
type discardCommitter struct{}

func (discardCommitter) Commit(context.Context, ids.TenantScope, []view.FieldChange) error {
	return nil
}

func assemble(cfg Config, syncRead bool) (*Materializer, error) {
	if cfg.Processor == "" {
		cfg.Processor = "viewmill"
	}

	provider := storage.NewMemoryProvider()
	if cfg.DBPath != "" {
		var err error
		provider, err = storage.OpenSQLiteProvider(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open storage at %s: %w", cfg.DBPath, err)
		}
	}

	keys := pathkey.XXHash{}
	store := fragments.New(provider, keys)
	models := model.NewSwapProvider()
	committer := commit.NewStoreCommitter(store, cfg.Logger)

	var ingestCommit commit.CommitChange = committer
	var deriver reader.Deriver
	if syncRead {
		ingestCommit = discardCommitter{}
		deriver = reader.NewCommitDeriver(provider, keys, committer)
	}

	ing := ingress.New(ingress.Config{
		Processor: cfg.Processor,
		Views:     models,
		Storage:   provider,
		Keys:      keys,
		Commit:    ingestCommit,
		Sink:      cfg.Sink,
		Notifier:  cfg.Notifier,
		Logger:    cfg.Logger,
	})

	return &Materializer{
		processor: cfg.Processor,
		provider:  provider,
		models:    models,
		writer: writer.New(writer.Config{
			Ingress:     ing,
			Sequence:    cfg.Sequence,
			Instances:   cfg.Instances,
			MaxAttempts: cfg.MaxAttempts,
			Logger:      cfg.Logger,
		}),
		reader: reader.New(reader.Config{
			Processor:    cfg.Processor,
			Views:        models,
			Storage:      provider,
			Fragments:    store,
			Permission:   cfg.Permission,
			OnStaleField: cfg.OnStaleField,
			Deriver:      deriver,
			MaxViewSize:  cfg.MaxViewSize,
			Logger:       cfg.Logger,
		}),
	}, nil
}

// Write submits events and drains conflicts, returning the object ids the
// batch addressed.
func (m *Materializer) Write(ctx context.Context, events ...writer.Event) ([]ids.ObjectID, error) {
	return m.writer.Write(ctx, events...)
}

// ReadView assembles the merged document for a descriptor.
func (m *Materializer) ReadView(ctx context.Context, d view.Descriptor) (view.Response, error) {
	return m.reader.ReadView(ctx, d)
}

// InstallModel atomically swaps in a new view model. In-flight operations
// finish against the model they started with.
func (m *Materializer) InstallModel(v *model.Views) {
	m.models.Install(v)
}

// InstallModelFile loads a YAML view model and installs it.
func (m *Materializer) InstallModelFile(path string) (*model.Views, error) {
	v, err := model.LoadFile(path)
	if err != nil {
		return nil, err
	}
	m.models.Install(v)
	return v, nil
}

// modelDoc is the column the persisted model source lives under.
const modelDoc = "current"

// PushModel validates a YAML view model, persists its source, and installs
// it. A later process over the same storage picks it up via RestoreModel.
func (m *Materializer) PushModel(ctx context.Context, source []byte) (*model.Views, error) {
	v, err := model.Parse(source)
	if err != nil {
		return nil, err
	}
	if err := m.provider.Models().Put(ctx, ids.TenantScope{}, m.processor, modelDoc, source, 0); err != nil {
		return nil, fmt.Errorf("persist view model: %w", err)
	}
	m.models.Install(v)
	return v, nil
}

// RestoreModel installs the persisted view model, if any. Reports whether
// one was found.
func (m *Materializer) RestoreModel(ctx context.Context) (bool, error) {
	source, _, ok, err := m.provider.Models().Get(ctx, ids.TenantScope{}, m.processor, modelDoc)
	if err != nil {
		return false, fmt.Errorf("load view model: %w", err)
	}
	if !ok {
		return false, nil
	}
	v, err := model.Parse(source)
	if err != nil {
		return false, fmt.Errorf("parse persisted view model: %w", err)
	}
	m.models.Install(v)
	return true, nil
}

// CurrentVersion reports the installed model's chained version.
func (m *Materializer) CurrentVersion(tenant ids.TenantID) ids.ChainedVersion {
	return m.models.CurrentVersion(tenant)
}

// Close releases the storage backend.
func (m *Materializer) Close() error {
	return m.provider.Close()
}
