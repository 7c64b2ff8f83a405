// Package storage exposes the store shapes the materializer runs on:
// event fields, concurrency counters, view fragments, the forward and
// back link stores, and installed view models. Each shape is a typed view
// over the generic table in internal/columns; a Provider bundles them so
// assemblies swap the whole backend at once (in-memory for tests and
// ephemeral runs, SQLite for durable ones).
package storage

import (
	"fmt"
	"strings"

	"github.com/viewmill/viewmill/internal/columns"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/view"
)

// LinkKey is the row key of the link stores. For forward links Object is
// the referencing source; for back links it is the referenced target. The
// Class/Field pair names the source class and ref field in both
// directions, so one object's row fans out per referencing field.
type LinkKey struct {
	Object ids.ObjectID
	Class  string
	Field  string
}

func (k LinkKey) String() string {
	return k.Object.String() + "|" + k.Class + "." + k.Field
}

// Provider bundles the tenant-scoped stores. Implementations must hand
// back the same table instance on every call.
type Provider interface {
	// Events holds raw event field values: row object, col field name.
	Events() columns.Table[ids.ObjectID, string, []byte]
	// Concurrency holds per-object applied counters: row object, col
	// field name, val encoded OrderedID.
	Concurrency() columns.Table[ids.ObjectID, string, int64]
	// ViewFragments holds materialized fragments: row path hash, col
	// leaf field name.
	ViewFragments() columns.Table[uint64, string, view.Fragment]
	// Links holds forward references, BackLinks the inverse index.
	Links() columns.Table[LinkKey, ids.ObjectID, []byte]
	BackLinks() columns.Table[LinkKey, ids.ObjectID, []byte]
	// Models holds installed view-model documents: row processor name,
	// col document name, val the raw model source. Lets a fresh process
	// restore the model that produced the stored fragments.
	Models() columns.Table[string, string, []byte]

	Close() error
}

// objectIDCodec stores ObjectIDs as their string form.
type objectIDCodec struct{}

func (objectIDCodec) Encode(o ids.ObjectID) ([]byte, error) {
	if o.IsZero() {
		return nil, fmt.Errorf("zero object id")
	}
	return o.Bytes(), nil
}

func (objectIDCodec) Decode(b []byte) (ids.ObjectID, error) {
	return ids.ParseObjectID(string(b))
}

// linkKeyCodec frames the three parts with NUL separators. Class and
// field names never contain NUL; object ids are validated on decode.
type linkKeyCodec struct{}

func (linkKeyCodec) Encode(k LinkKey) ([]byte, error) {
	if k.Object.IsZero() || k.Class == "" || k.Field == "" {
		return nil, fmt.Errorf("incomplete link key %v", k)
	}
	var b strings.Builder
	b.WriteString(k.Object.String())
	b.WriteByte(0)
	b.WriteString(k.Class)
	b.WriteByte(0)
	b.WriteString(k.Field)
	return []byte(b.String()), nil
}

func (linkKeyCodec) Decode(b []byte) (LinkKey, error) {
	parts := strings.SplitN(string(b), "\x00", 3)
	if len(parts) != 3 {
		return LinkKey{}, fmt.Errorf("malformed link key %q", b)
	}
	obj, err := ids.ParseObjectID(parts[0])
	if err != nil {
		return LinkKey{}, err
	}
	return LinkKey{Object: obj, Class: parts[1], Field: parts[2]}, nil
}

// fragmentCodec delegates to the Fragment binary form.
type fragmentCodec struct{}

func (fragmentCodec) Encode(f view.Fragment) ([]byte, error) {
	return f.MarshalBinary()
}

func (fragmentCodec) Decode(b []byte) (view.Fragment, error) {
	var f view.Fragment
	if err := f.UnmarshalBinary(b); err != nil {
		return view.Fragment{}, err
	}
	return f, nil
}
