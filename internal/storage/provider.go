package storage

import (
	"database/sql"
	"fmt"

	"github.com/viewmill/viewmill/internal/columns"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/view"
)

type provider struct {
	events      columns.Table[ids.ObjectID, string, []byte]
	concurrency columns.Table[ids.ObjectID, string, int64]
	fragments   columns.Table[uint64, string, view.Fragment]
	links       columns.Table[LinkKey, ids.ObjectID, []byte]
	backLinks   columns.Table[LinkKey, ids.ObjectID, []byte]
	models      columns.Table[string, string, []byte]
	db          *sql.DB
}

func (p *provider) Events() columns.Table[ids.ObjectID, string, []byte]      { return p.events }
func (p *provider) Concurrency() columns.Table[ids.ObjectID, string, int64]  { return p.concurrency }
func (p *provider) ViewFragments() columns.Table[uint64, string, view.Fragment] {
	return p.fragments
}
func (p *provider) Links() columns.Table[LinkKey, ids.ObjectID, []byte]     { return p.links }
func (p *provider) BackLinks() columns.Table[LinkKey, ids.ObjectID, []byte] { return p.backLinks }
func (p *provider) Models() columns.Table[string, string, []byte]           { return p.models }

func (p *provider) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// NewMemoryProvider returns a Provider backed by in-memory tables. This is
// the reference harness backend: fast, isolated per instance, gone on
// process exit.
func NewMemoryProvider() Provider {
	return &provider{
		events:      columns.NewMemory[ids.ObjectID, string, []byte](objectIDCodec{}, columns.StringCodec{}, columns.BytesCodec{}),
		concurrency: columns.NewMemory[ids.ObjectID, string, int64](objectIDCodec{}, columns.StringCodec{}, columns.Int64Codec{}),
		fragments:   columns.NewMemory[uint64, string, view.Fragment](columns.Uint64BECodec{}, columns.StringCodec{}, fragmentCodec{}),
		links:       columns.NewMemory[LinkKey, ids.ObjectID, []byte](linkKeyCodec{}, objectIDCodec{}, columns.BytesCodec{}),
		backLinks:   columns.NewMemory[LinkKey, ids.ObjectID, []byte](linkKeyCodec{}, objectIDCodec{}, columns.BytesCodec{}),
		models:      columns.NewMemory[string, string, []byte](columns.StringCodec{}, columns.StringCodec{}, columns.BytesCodec{}),
	}
}

// OpenSQLiteProvider opens (or creates) a durable Provider at path. Each
// store lives as its own table in one database file; closing the provider
// closes the shared connection.
func OpenSQLiteProvider(path string) (Provider, error) {
	db, err := columns.OpenDB(path)
	if err != nil {
		return nil, err
	}

	p := &provider{db: db}
	p.events, err = columns.NewSQLite[ids.ObjectID, string, []byte](db, "event_fields", objectIDCodec{}, columns.StringCodec{}, columns.BytesCodec{})
	if err == nil {
		p.concurrency, err = columns.NewSQLite[ids.ObjectID, string, int64](db, "concurrency", objectIDCodec{}, columns.StringCodec{}, columns.Int64Codec{})
	}
	if err == nil {
		p.fragments, err = columns.NewSQLite[uint64, string, view.Fragment](db, "view_fragments", columns.Uint64BECodec{}, columns.StringCodec{}, fragmentCodec{})
	}
	if err == nil {
		p.links, err = columns.NewSQLite[LinkKey, ids.ObjectID, []byte](db, "links", linkKeyCodec{}, objectIDCodec{}, columns.BytesCodec{})
	}
	if err == nil {
		p.backLinks, err = columns.NewSQLite[LinkKey, ids.ObjectID, []byte](db, "back_links", linkKeyCodec{}, objectIDCodec{}, columns.BytesCodec{})
	}
	if err == nil {
		p.models, err = columns.NewSQLite[string, string, []byte](db, "view_models", columns.StringCodec{}, columns.StringCodec{}, columns.BytesCodec{})
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite provider: %w", err)
	}
	return p, nil
}
