package flow

import "fmt"

// Kind enumerates the value kinds a Descriptor can declare.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindUnion:
		return "union"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ValueType describes the type of a value flowing through the graph.
// List element types and map value types are carried in Elem; union
// alternatives in Members. Map keys are always strings.
type ValueType struct {
	Kind    Kind
	Elem    *ValueType
	Members []ValueType
}

// Shorthand constructors for the common types.
var (
	TypeAny    = ValueType{Kind: KindAny}
	TypeString = ValueType{Kind: KindString}
	TypeInt    = ValueType{Kind: KindInt}
	TypeFloat  = ValueType{Kind: KindFloat}
	TypeBool   = ValueType{Kind: KindBool}
)

// ListOf returns the type of a list with the given element type.
func ListOf(elem ValueType) ValueType {
	e := elem
	return ValueType{Kind: KindList, Elem: &e}
}

// MapOf returns the type of a string-keyed map with the given value type.
func MapOf(elem ValueType) ValueType {
	e := elem
	return ValueType{Kind: KindMap, Elem: &e}
}

// UnionOf returns a union of the given alternatives.
func UnionOf(members ...ValueType) ValueType {
	return ValueType{Kind: KindUnion, Members: members}
}

func (t ValueType) String() string {
	switch t.Kind {
	case KindList:
		return "list<" + t.Elem.String() + ">"
	case KindMap:
		return "map<string," + t.Elem.String() + ">"
	case KindUnion:
		s := "union<"
		for i, m := range t.Members {
			if i > 0 {
				s += "|"
			}
			s += m.String()
		}
		return s + ">"
	default:
		return t.Kind.String()
	}
}

// AssignableTo reports whether a value of type t can be bound to a slot of
// type dst. Any accepts everything, int widens to float, and a union source
// is assignable only when every member is.
func (t ValueType) AssignableTo(dst ValueType) bool {
	if dst.Kind == KindAny {
		return true
	}
	if t.Kind == KindUnion {
		for _, m := range t.Members {
			if !m.AssignableTo(dst) {
				return false
			}
		}
		return true
	}
	if dst.Kind == KindUnion {
		for _, m := range dst.Members {
			if t.AssignableTo(m) {
				return true
			}
		}
		return false
	}
	switch dst.Kind {
	case KindFloat:
		return t.Kind == KindFloat || t.Kind == KindInt
	case KindList, KindMap:
		return t.Kind == dst.Kind && t.Elem.AssignableTo(*dst.Elem)
	default:
		return t.Kind == dst.Kind
	}
}

// Accepts reports whether the runtime value v conforms to the type.
// Values are JSON-normalized before entering the engine, so numbers may
// arrive as float64 even for int slots.
func (t ValueType) Accepts(v any) bool {
	if v == nil {
		return true
	}
	switch t.Kind {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindInt:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case KindFloat:
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case KindList:
		items, ok := v.([]any)
		if !ok {
			return false
		}
		for _, it := range items {
			if !t.Elem.Accepts(it) {
				return false
			}
		}
		return true
	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for _, mv := range m {
			if !t.Elem.Accepts(mv) {
				return false
			}
		}
		return true
	case KindUnion:
		for _, m := range t.Members {
			if m.Accepts(v) {
				return true
			}
		}
		return false
	}
	return false
}

// Descriptor declares a named, typed value contract used for step inputs
// and outputs and for flow-level inputs and variables. Descriptors are
// created at flow-construction time and immutable thereafter.
type Descriptor struct {
	// Name is the slot name, unique within one step's inputs or outputs.
	Name string

	// Type constrains the values the slot carries.
	Type ValueType

	// Default is used when no other source resolves the slot.
	// Only meaningful when HasDefault is true; a nil default is legal.
	Default any

	// HasDefault marks the slot optional.
	HasDefault bool
}

// NewDescriptor declares a required slot.
func NewDescriptor(name string, t ValueType) Descriptor {
	return Descriptor{Name: name, Type: t}
}

// NewDescriptorWithDefault declares an optional slot with a default value.
func NewDescriptorWithDefault(name string, t ValueType, def any) Descriptor {
	return Descriptor{Name: name, Type: t, Default: def, HasDefault: true}
}

// findDescriptor returns the descriptor with the given name, if present.
func findDescriptor(descs []Descriptor, name string) (Descriptor, bool) {
	for _, d := range descs {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// checkUniqueNames verifies descriptor names are unique within one step.
func checkUniqueNames(descs []Descriptor) error {
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if d.Name == "" {
			return graphErrorf("descriptor with empty name")
		}
		if seen[d.Name] {
			return graphErrorf("duplicate descriptor name: %s", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}
