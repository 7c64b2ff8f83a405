// Package model holds the versioned view definitions ("Views") the engine
// materializes against, and the provider that lets a running service swap
// in a new model version without restarting.
//
// A Views value is immutable after construction. Binding indexes are built
// once in New so ingress can answer "which paths does this class.field
// touch" with a map lookup instead of walking every definition per event.
// Authoring semantics beyond plain YAML binding are out of scope here;
// whatever produces the YAML owns validation of the modeling language.
package model

import (
	"fmt"

	"github.com/viewmill/viewmill/internal/ids"
)

// ProcessorID names the schema-processor identity a caller resolves views
// for. Different processors (write-time ingress, sync-read) may in
// principle see different models for the same tenant.
type ProcessorID struct {
	Tenant    ids.TenantID
	Processor string
}

// Ref is one hop of an abstract path: the From class references the To
// class through Field. DocKey is the key the hop nests under in a merged
// document; it defaults to Field when the model does not name one.
type Ref struct {
	From   string
	Field  string
	To     string
	DocKey string
}

// Leaf names the value fields a path materializes from its final class.
type Leaf struct {
	Class  string
	Fields []string
}

// PathDef is one abstract traversal from a view's root class to a leaf.
// An empty Refs slice means the leaf fields live on the root itself.
type PathDef struct {
	Refs []Ref
	Leaf Leaf
}

// Classes returns the class chain root-to-leaf. Its length is the member
// count of every concrete instance of this path.
func (p PathDef) Classes() []string {
	chain := make([]string, 0, len(p.Refs)+1)
	if len(p.Refs) == 0 {
		return append(chain, p.Leaf.Class)
	}
	chain = append(chain, p.Refs[0].From)
	for _, r := range p.Refs {
		chain = append(chain, r.To)
	}
	return chain
}

// ViewDef declares one view: a name, the root class a descriptor
// addresses it by, and the paths composing its document.
type ViewDef struct {
	Name  string
	Root  string
	Paths []PathDef
}

// Binding locates one abstract path position a class.field participates
// in: view Paths[Path], hop or leaf at Step (root is step 0). Field is
// set for leaf bindings.
type Binding struct {
	View  *ViewDef
	Path  int
	Step  int
	Field string
}

// Views is an immutable, versioned set of view definitions. Swapped as a
// whole, never mutated in place.
type Views struct {
	version ids.ChainedVersion
	defs    []ViewDef

	byRoot map[string][]*ViewDef
	// refBindings key "Class.field" -> hops where that ref field appears.
	refBindings map[string][]Binding
	// leafBindings key "Class.field" -> paths where that value field is a leaf.
	leafBindings map[string][]Binding
	// leafByClass key class -> every leaf binding on that class, for
	// instance deletion where the removed fields are not in the event.
	leafByClass map[string][]Binding
}

// New validates the definitions and builds the binding indexes. The class
// chain of every path must be continuous: each hop's From is the previous
// hop's To, and the leaf class is the final To.
func New(version ids.ChainedVersion, defs []ViewDef) (*Views, error) {
	v := &Views{
		version:      version,
		defs:         defs,
		byRoot:       make(map[string][]*ViewDef),
		refBindings:  make(map[string][]Binding),
		leafBindings: make(map[string][]Binding),
		leafByClass:  make(map[string][]Binding),
	}

	for di := range defs {
		def := &defs[di]
		if def.Name == "" || def.Root == "" {
			return nil, fmt.Errorf("view %d: name and root are required", di)
		}
		for pi, path := range def.Paths {
			if err := checkChain(def.Root, path); err != nil {
				return nil, fmt.Errorf("view %s path %d: %w", def.Name, pi, err)
			}
			for si, ref := range path.Refs {
				key := ref.From + "." + ref.Field
				v.refBindings[key] = append(v.refBindings[key], Binding{View: def, Path: pi, Step: si})
			}
			leafStep := len(path.Refs)
			for _, f := range path.Leaf.Fields {
				b := Binding{View: def, Path: pi, Step: leafStep, Field: f}
				v.leafBindings[path.Leaf.Class+"."+f] = append(v.leafBindings[path.Leaf.Class+"."+f], b)
				v.leafByClass[path.Leaf.Class] = append(v.leafByClass[path.Leaf.Class], b)
			}
		}
		v.byRoot[def.Root] = append(v.byRoot[def.Root], def)
	}
	return v, nil
}

func checkChain(root string, p PathDef) error {
	if p.Leaf.Class == "" || len(p.Leaf.Fields) == 0 {
		return fmt.Errorf("leaf class and fields are required")
	}
	if len(p.Refs) == 0 {
		if p.Leaf.Class != root {
			return fmt.Errorf("refless path leaf class %q must be the root %q", p.Leaf.Class, root)
		}
		return nil
	}
	if p.Refs[0].From != root {
		return fmt.Errorf("first hop starts at %q, want root %q", p.Refs[0].From, root)
	}
	for i := 1; i < len(p.Refs); i++ {
		if p.Refs[i].From != p.Refs[i-1].To {
			return fmt.Errorf("hop %d starts at %q, previous ends at %q", i, p.Refs[i].From, p.Refs[i-1].To)
		}
	}
	if last := p.Refs[len(p.Refs)-1].To; last != p.Leaf.Class {
		return fmt.Errorf("path ends at %q, leaf class is %q", last, p.Leaf.Class)
	}
	return nil
}

// Version returns the model's chained version tag.
func (v *Views) Version() ids.ChainedVersion { return v.version }

// Defs returns the definitions in declaration order.
func (v *Views) Defs() []ViewDef { return v.defs }

// ByRoot returns the views rooted at the given class.
func (v *Views) ByRoot(class string) []*ViewDef { return v.byRoot[class] }

// RefBindings returns the path hops where class.field is the ref field.
func (v *Views) RefBindings(class, field string) []Binding {
	return v.refBindings[class+"."+field]
}

// LeafBindings returns the paths where class.field is a leaf value field.
func (v *Views) LeafBindings(class, field string) []Binding {
	return v.leafBindings[class+"."+field]
}

// LeafBindingsForClass returns every leaf binding on the class.
func (v *Views) LeafBindingsForClass(class string) []Binding {
	return v.leafByClass[class]
}

// DocKey returns the document key for a hop.
func (r Ref) docKey() string {
	if r.DocKey != "" {
		return r.DocKey
	}
	return r.Field
}

// DocKeys returns the nesting keys for a path's hops, root side first.
func (p PathDef) DocKeys() []string {
	keys := make([]string, len(p.Refs))
	for i, r := range p.Refs {
		keys[i] = r.docKey()
	}
	return keys
}
