// Package ids defines the identity types shared by every layer of the
// materializer: tenants, actors, objects, ordered event ids, and the
// chained version tag carried by an installed view model.
//
// All storage keys are prefixed with a TenantScope, which is the unit of
// isolation. Nothing in this package touches storage; these are pure value
// types plus the providers that mint fresh ids.
package ids

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TenantID identifies one tenant. Tenants never share keys.
type TenantID string

// ActorID identifies the user (or system principal) an event or read is
// attributed to. The zero value means "no particular actor".
type ActorID string

// TenantScope combines a tenant with a centric actor id. Every row written
// by the engine is keyed under exactly one scope. Immutable once built.
type TenantScope struct {
	Tenant  TenantID
	Centric ActorID
}

// NewTenantScope builds a scope. An empty centric id is valid and means
// tenant-global (non user-centric) data.
func NewTenantScope(tenant TenantID, centric ActorID) TenantScope {
	return TenantScope{Tenant: tenant, Centric: centric}
}

// Key returns the byte prefix used to namespace storage rows.
// The NUL separator keeps ("ab","c") distinct from ("a","bc").
func (s TenantScope) Key() []byte {
	b := make([]byte, 0, len(s.Tenant)+len(s.Centric)+1)
	b = append(b, s.Tenant...)
	b = append(b, 0)
	b = append(b, s.Centric...)
	return b
}

func (s TenantScope) String() string {
	return string(s.Tenant) + "/" + string(s.Centric)
}

// ObjectID identifies one domain entity instance: a class name plus an
// instance id, unique within a tenant's object graph.
type ObjectID struct {
	Class string
	ID    string
}

// NewObjectID builds an ObjectID.
func NewObjectID(class, id string) ObjectID {
	return ObjectID{Class: class, ID: id}
}

// IsZero reports whether the id is unset.
func (o ObjectID) IsZero() bool {
	return o.Class == "" && o.ID == ""
}

// String renders the id as "Class_instance". Class names may not contain
// underscores; instance ids may.
func (o ObjectID) String() string {
	return o.Class + "_" + o.ID
}

// Bytes returns the storage encoding of the id.
func (o ObjectID) Bytes() []byte {
	return []byte(o.String())
}

// ParseObjectID inverts String.
func ParseObjectID(s string) (ObjectID, error) {
	class, id, ok := strings.Cut(s, "_")
	if !ok || class == "" || id == "" {
		return ObjectID{}, fmt.Errorf("malformed object id %q: want Class_instance", s)
	}
	return ObjectID{Class: class, ID: id}, nil
}

// MarshalJSON renders the id in its "Class_instance" form, so event files
// and view documents address objects the same way.
func (o ObjectID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON parses the "Class_instance" form.
func (o *ObjectID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseObjectID(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
