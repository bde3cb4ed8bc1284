package chunkset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaNode is the closed variant describing one node of a dataset
// schema: a Primitive leaf, a Tensor leaf or a Group of named children.
// No other implementations exist.
type SchemaNode interface {
	isSchemaNode()
}

// Primitive is a scalar leaf: one element of DType per sample.
type Primitive struct {
	DType DType
}

// Tensor is an array leaf: a fixed-rank block of DType per sample.
// Shape entries may be -1 (unbounded); MaxShape then bounds them.
// Chunks is the leading-dimension chunk size; 0 derives a default.
type Tensor struct {
	Shape    []int
	MaxShape []int
	DType    DType
	Chunks   int
}

// Group is an ordered mapping of names to child nodes. Order is
// declaration order and determines field registration order.
type Group struct {
	entries []groupEntry
}

type groupEntry struct {
	name string
	node SchemaNode
}

func (Primitive) isSchemaNode() {}
func (Tensor) isSchemaNode()    {}
func (*Group) isSchemaNode()    {}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{}
}

// Add appends a named child to the group and returns the group for
// chaining. Adding a name twice or a name containing "/" is a schema
// construction defect reported at flatten time.
func (g *Group) Add(name string, node SchemaNode) *Group {
	g.entries = append(g.entries, groupEntry{name: name, node: node})
	return g
}

// Len returns the number of direct children.
func (g *Group) Len() int {
	return len(g.entries)
}

// FieldDescriptor describes one flattened leaf of a schema.
type FieldDescriptor struct {
	// Path is the slash-delimited field identifier, always starting
	// with "/".
	Path string
	// Shape is the per-sample shape; entries may be -1 (unbounded).
	Shape []int
	// MaxShape bounds Shape; equal to Shape where Shape is concrete.
	MaxShape []int
	// DType is the element type.
	DType DType
	// Chunks is the leading-dimension chunk size; 0 derives a default.
	Chunks int
}

// Flatten reduces a schema tree to the ordered list of field descriptors,
// one per leaf, depth-first in declaration order.
func Flatten(root SchemaNode) ([]FieldDescriptor, error) {
	var out []FieldDescriptor
	seen := make(map[string]bool)

	var walk func(prefix string, node SchemaNode) error
	walk = func(prefix string, node SchemaNode) error {
		switch n := node.(type) {
		case Primitive:
			return emit(&out, seen, FieldDescriptor{
				Path:     prefix,
				Shape:    []int{},
				MaxShape: []int{},
				DType:    n.DType,
			})
		case Tensor:
			maxShape := n.MaxShape
			if maxShape == nil {
				maxShape = n.Shape
			}
			if len(maxShape) != len(n.Shape) {
				return fmt.Errorf("field %s: max shape rank %d does not match shape rank %d",
					prefix, len(maxShape), len(n.Shape))
			}
			for i, d := range n.Shape {
				if d == -1 && maxShape[i] <= 0 {
					return fmt.Errorf("field %s: unbounded dimension %d has no max", prefix, i)
				}
				if d != -1 && d != maxShape[i] {
					return fmt.Errorf("field %s: max shape differs from concrete dimension %d", prefix, i)
				}
			}
			return emit(&out, seen, FieldDescriptor{
				Path:     prefix,
				Shape:    append([]int(nil), n.Shape...),
				MaxShape: append([]int(nil), maxShape...),
				DType:    n.DType,
				Chunks:   n.Chunks,
			})
		case *Group:
			for _, e := range n.entries {
				if e.name == "" || strings.Contains(e.name, "/") {
					return fmt.Errorf("invalid schema key %q under %q", e.name, prefix)
				}
				if err := walk(prefix+"/"+e.name, e.node); err != nil {
					return err
				}
			}
			return nil
		default:
			return fmt.Errorf("%w: schema node %T", ErrUnsupportedValue, node)
		}
	}

	// The original system always roots schemas in a mapping; we keep that.
	if _, ok := root.(*Group); !ok {
		return nil, fmt.Errorf("schema root must be a group, got %T", root)
	}
	if err := walk("", root); err != nil {
		return nil, err
	}
	return out, nil
}

func emit(out *[]FieldDescriptor, seen map[string]bool, d FieldDescriptor) error {
	if !d.DType.Valid() {
		return fmt.Errorf("%w: field %s dtype %q", ErrUnsupportedValue, d.Path, string(d.DType))
	}
	if seen[d.Path] {
		return fmt.Errorf("%w: %s", ErrDuplicateFieldPath, d.Path)
	}
	seen[d.Path] = true
	*out = append(*out, d)
	return nil
}

// schemaJSON is the serialized form of a schema node.
type schemaJSON struct {
	Type     string           `json:"type"`
	DType    string           `json:"dtype,omitempty"`
	Shape    []int            `json:"shape,omitempty"`
	MaxShape []int            `json:"max_shape,omitempty"`
	Chunks   int              `json:"chunks,omitempty"`
	Items    []schemaItemJSON `json:"items,omitempty"`
}

type schemaItemJSON struct {
	Name string     `json:"name"`
	Node schemaJSON `json:"node"`
}

// SerializeSchema converts a schema tree to its JSON form, as embedded in
// the dataset descriptor.
func SerializeSchema(node SchemaNode) (json.RawMessage, error) {
	v, err := toSchemaJSON(node)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func toSchemaJSON(node SchemaNode) (schemaJSON, error) {
	switch n := node.(type) {
	case Primitive:
		return schemaJSON{Type: "primitive", DType: string(n.DType)}, nil
	case Tensor:
		return schemaJSON{
			Type:     "tensor",
			DType:    string(n.DType),
			Shape:    n.Shape,
			MaxShape: n.MaxShape,
			Chunks:   n.Chunks,
		}, nil
	case *Group:
		out := schemaJSON{Type: "group"}
		for _, e := range n.entries {
			child, err := toSchemaJSON(e.node)
			if err != nil {
				return schemaJSON{}, err
			}
			out.Items = append(out.Items, schemaItemJSON{Name: e.name, Node: child})
		}
		return out, nil
	default:
		return schemaJSON{}, fmt.Errorf("%w: schema node %T", ErrUnsupportedValue, node)
	}
}

// DeserializeSchema rebuilds a schema tree from its serialized value.
func DeserializeSchema(raw json.RawMessage) (SchemaNode, error) {
	var v schemaJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	return fromSchemaJSON(v)
}

func fromSchemaJSON(v schemaJSON) (SchemaNode, error) {
	switch v.Type {
	case "primitive":
		return Primitive{DType: DType(v.DType)}, nil
	case "tensor":
		return Tensor{
			Shape:    v.Shape,
			MaxShape: v.MaxShape,
			DType:    DType(v.DType),
			Chunks:   v.Chunks,
		}, nil
	case "group":
		g := NewGroup()
		for _, item := range v.Items {
			child, err := fromSchemaJSON(item.Node)
			if err != nil {
				return nil, err
			}
			g.Add(item.Name, child)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: schema node type %q", ErrUnsupportedValue, v.Type)
	}
}

// SchemaEqual reports structural equality of two schema trees.
func SchemaEqual(a, b SchemaNode) bool {
	aj, errA := toSchemaJSON(a)
	bj, errB := toSchemaJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	ab, _ := json.Marshal(aj)
	bb, _ := json.Marshal(bj)
	return string(ab) == string(bb)
}
