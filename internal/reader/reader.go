// Package reader assembles merged view documents from stored fragments.
//
// A read walks the view model's declared shape: it enumerates the concrete
// path instances under the descriptor's root, scans each instance's
// fragments, and substitutes leaf values into a nested document. Stale
// fragments are surfaced through a callback but still merged; a read never
// aborts because data is behind. In sync-read mode a Deriver recomputes
// missing fragments from the raw event store and caches them through the
// commit pipeline.
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/viewmill/viewmill/internal/fragments"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/links"
	"github.com/viewmill/viewmill/internal/model"
	"github.com/viewmill/viewmill/internal/storage"
	"github.com/viewmill/viewmill/internal/view"
)

// DefaultMaxViewSize caps an assembled document at 10 MiB, matching the
// reference deployment. Exceeding it fails the read; truncating a
// composite document silently would hand out a document that lies.
const DefaultMaxViewSize = 10 * 1024 * 1024

// PermissionChecker decides whether a descriptor may be read. Denial is
// reported as an absent view body, never as an error, so a denied caller
// cannot probe for existence.
type PermissionChecker interface {
	Check(ctx context.Context, d view.Descriptor) (bool, error)
}

// AllowAll is the default checker: every read is permitted.
type AllowAll struct{}

func (AllowAll) Check(context.Context, view.Descriptor) (bool, error) { return true, nil }

// StaleFieldFunc is invoked for every fragment whose timestamp vector is
// behind the freshest vector observed for the same path instance.
type StaleFieldFunc func(d view.Descriptor, field string, f view.Fragment)

// Deriver recomputes the fragments of one path instance when a scan finds
// none, returning what it materialized. Used by the sync-read strategy;
// nil disables recompute-on-miss.
type Deriver interface {
	Derive(ctx context.Context, scope ids.TenantScope, def model.PathDef, chain view.Path) ([]view.FieldFragment, error)
}

// SizeExceededError reports a document over the configured ceiling.
type SizeExceededError struct {
	Descriptor view.Descriptor
	Size       int
	Max        int
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("view %s is %d bytes, exceeds maximum %d", e.Descriptor, e.Size, e.Max)
}

// Config wires a Reader. Views, Storage, Fragments are required.
type Config struct {
	// Processor resolves the view model, mirroring the ingress identity.
	Processor string
	Views     model.Provider
	Storage   storage.Provider
	Fragments *fragments.Store
	// Permission defaults to AllowAll.
	Permission PermissionChecker
	// OnStaleField defaults to a warn log.
	OnStaleField StaleFieldFunc
	// Deriver enables sync-read recompute on miss.
	Deriver Deriver
	// MaxViewSize defaults to DefaultMaxViewSize.
	MaxViewSize int
	Logger      *slog.Logger
}

// Reader is the view merge/read pipeline.
type Reader struct {
	processor string
	views     model.Provider
	links     *links.Store
	store     *fragments.Store
	perm      PermissionChecker
	onStale   StaleFieldFunc
	deriver   Deriver
	maxSize   int
	logger    *slog.Logger
}

// New creates a Reader from the config.
func New(cfg Config) *Reader {
	r := &Reader{
		processor: cfg.Processor,
		views:     cfg.Views,
		links:     links.New(cfg.Storage),
		store:     cfg.Fragments,
		perm:      cfg.Permission,
		onStale:   cfg.OnStaleField,
		deriver:   cfg.Deriver,
		maxSize:   cfg.MaxViewSize,
		logger:    cfg.Logger,
	}
	if r.perm == nil {
		r.perm = AllowAll{}
	}
	if r.maxSize <= 0 {
		r.maxSize = DefaultMaxViewSize
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.onStale == nil {
		logger := r.logger
		r.onStale = func(d view.Descriptor, field string, f view.Fragment) {
			logger.Warn("stale view field", "descriptor", d.String(), "field", field)
		}
	}
	return r
}

// ReadView assembles the document for a descriptor.
func (r *Reader) ReadView(ctx context.Context, d view.Descriptor) (view.Response, error) {
	allowed, err := r.perm.Check(ctx, d)
	if err != nil {
		return view.Response{}, fmt.Errorf("check permission for %s: %w", d, err)
	}
	if !allowed {
		return view.Response{Status: view.StatusForbidden}, nil
	}

	views := r.views.Views(model.ProcessorID{Tenant: d.Scope.Tenant, Processor: r.processor})
	if views == nil {
		return view.Response{Status: view.StatusNotFound}, nil
	}
	defs := views.ByRoot(d.Root.Class)
	if len(defs) == 0 {
		return view.Response{Status: view.StatusNotFound}, nil
	}

	doc := view.Document{}
	found := false
	for _, def := range defs {
		for _, path := range def.Paths {
			merged, err := r.mergePath(ctx, d, path, doc)
			if err != nil {
				return view.Response{}, err
			}
			found = found || merged
		}
	}
	if !found {
		return view.Response{Status: view.StatusNotFound}, nil
	}

	doc["objectId"] = d.Root.String()
	body, err := view.MarshalCanonical(doc)
	if err != nil {
		return view.Response{}, fmt.Errorf("serialize view %s: %w", d, err)
	}
	if len(body) > r.maxSize {
		return view.Response{}, &SizeExceededError{Descriptor: d, Size: len(body), Max: r.maxSize}
	}
	return view.Response{Status: view.StatusOK, Body: body}, nil
}

// mergePath merges every concrete instance of one abstract path into doc,
// reporting whether any value contributed.
func (r *Reader) mergePath(ctx context.Context, d view.Descriptor, def model.PathDef, doc view.Document) (bool, error) {
	chains, err := r.links.Descendants(ctx, d.Scope, def, 0, d.Root)
	if err != nil {
		return false, err
	}

	found := false
	for _, chain := range chains {
		hash := r.store.HashPath(chain)
		frags, err := r.store.Scan(ctx, d.Scope, hash)
		if err != nil {
			return false, err
		}
		if len(frags) == 0 && r.deriver != nil {
			frags, err = r.deriver.Derive(ctx, d.Scope, def, chain)
			if err != nil {
				return false, fmt.Errorf("derive fragments for %s: %w", chain, err)
			}
		}
		if len(frags) == 0 {
			continue
		}

		freshest := freshestVector(frags)
		values := make(map[string]json.RawMessage)
		for _, ff := range frags {
			if isStale(ff.Fragment, freshest) {
				r.onStale(d, ff.Field, ff.Fragment)
			}
			if ff.Fragment.Tombstone() {
				continue
			}
			values[ff.Field] = append(json.RawMessage(nil), ff.Fragment.Value...)
		}
		if len(values) == 0 {
			continue
		}

		// Nest only when a live value survives, so tombstone-only paths
		// leave no empty objects behind.
		target := nestedTarget(doc, def.DocKeys())
		for field, value := range values {
			target[field] = value
		}
		found = true
	}
	return found, nil
}

// freshestVector is the element-wise maximum of all timestamp vectors
// observed for one path instance.
func freshestVector(frags []view.FieldFragment) []int64 {
	var freshest []int64
	for _, ff := range frags {
		for i, ts := range ff.Fragment.Timestamps {
			if i >= len(freshest) {
				freshest = append(freshest, ts)
				continue
			}
			if ts > freshest[i] {
				freshest[i] = ts
			}
		}
	}
	return freshest
}

func isStale(f view.Fragment, freshest []int64) bool {
	for i, ts := range f.Timestamps {
		if i < len(freshest) && ts < freshest[i] {
			return true
		}
	}
	return false
}

// nestedTarget walks (creating as needed) the nested objects a path's
// leaf values live under.
func nestedTarget(doc view.Document, keys []string) view.Document {
	target := doc
	for _, key := range keys {
		next, ok := target[key].(view.Document)
		if !ok {
			next = view.Document{}
			target[key] = next
		}
		target = next
	}
	return target
}
