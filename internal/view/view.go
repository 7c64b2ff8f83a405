package view

import (
	"strings"

	"github.com/viewmill/viewmill/internal/ids"
)

// Path is one concrete traversal from a view's root object to the object
// owning a leaf field, in root-to-leaf order.
type Path []ids.ObjectID

// Root returns the first member. Panics on an empty path; an empty path is
// a programming error, never data.
func (p Path) Root() ids.ObjectID { return p[0] }

// Leaf returns the last member.
func (p Path) Leaf() ids.ObjectID { return p[len(p)-1] }

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, m := range p {
		parts[i] = m.String()
	}
	return strings.Join(parts, "->")
}

// PathID binds a concrete path to the schema path definition it matched.
// Def is the index of the abstract definition within the view's model.
type PathID struct {
	Def     int
	Members Path
}

// Status classifies a read outcome.
type Status int

const (
	// StatusOK means a document was assembled.
	StatusOK Status = iota
	// StatusNotFound means nothing is materializable for the descriptor.
	StatusNotFound
	// StatusForbidden means the permission checker denied the read. The
	// response body is absent, indistinguishable from not-found, so a
	// denied caller learns nothing about existence.
	StatusForbidden
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Descriptor is the read request key: which tenant scope, on behalf of
// which actor, for which view root object.
type Descriptor struct {
	Scope ids.TenantScope
	Actor ids.ActorID
	Root  ids.ObjectID
}

func (d Descriptor) String() string {
	return d.Scope.String() + ":" + string(d.Actor) + ":" + d.Root.String()
}

// Response carries the merged document. Body is nil unless Status is
// StatusOK and at least one fragment contributed a value.
type Response struct {
	Status Status
	Body   []byte
}

// HasBody reports whether a document was returned.
func (r Response) HasBody() bool {
	return r.Status == StatusOK && len(r.Body) > 0
}
