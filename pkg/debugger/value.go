package debugger

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-delve/delve/service/api"

	"github.com/callscope/callscope/pkg/snapshot"
)

// delveValue adapts an api.Variable to the serializer's Value
// interface. Values are lazy: traversal past the shallow-loaded tree
// re-evaluates a derived expression against the stopped frame, so deep
// chains cost one RPC per level instead of one huge upfront load.
type delveValue struct {
	b    *DelveBackend
	expr string // evaluatable expression for this value, "" when synthetic
	v    api.Variable
}

func newDelveValue(b *DelveBackend, expr string, v api.Variable) *delveValue {
	return &delveValue{b: b, expr: expr, v: v}
}

func (d *delveValue) Type() snapshot.Type {
	return typeOf(&d.v)
}

func (d *delveValue) IsZero() bool {
	switch d.v.Kind {
	case reflect.Ptr, reflect.UnsafePointer:
		if len(d.v.Children) > 0 {
			return d.v.Children[0].Addr == 0
		}
		return d.v.Value == "" || d.v.Value == "0" || d.v.Value == "nil"
	case reflect.Bool:
		return d.v.Value == "false"
	default:
		if d.v.Value == "" {
			return false
		}
		if f, err := strconv.ParseFloat(d.v.Value, 64); err == nil {
			return f == 0
		}
		return false
	}
}

// Deref follows one pointer level, preferring the shallow-loaded child
// and falling back to re-evaluation
func (d *delveValue) Deref() (snapshot.Value, error) {
	if d.v.Unreadable != "" {
		return nil, fmt.Errorf("unreadable value: %s", d.v.Unreadable)
	}
	if len(d.v.Children) > 0 && loaded(&d.v.Children[0]) {
		expr := ""
		if d.expr != "" {
			expr = "*(" + d.expr + ")"
		}
		return newDelveValue(d.b, expr, d.v.Children[0]), nil
	}
	if d.expr == "" {
		return nil, fmt.Errorf("cannot dereference unloaded value %s", d.v.Name)
	}
	expr := "*(" + d.expr + ")"
	v, err := d.b.client.EvalVariable(d.b.scope(), expr, d.b.loadCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference %s: %v", d.expr, err)
	}
	return newDelveValue(d.b, expr, *v), nil
}

// Index returns the i-th element of an array or slice, or for
// pointers the value at the i-th element offset
func (d *delveValue) Index(i int) (snapshot.Value, error) {
	if i < len(d.v.Children) && loaded(&d.v.Children[i]) {
		expr := ""
		if d.expr != "" {
			expr = fmt.Sprintf("(%s)[%d]", d.expr, i)
		}
		return newDelveValue(d.b, expr, d.v.Children[i]), nil
	}
	if d.expr == "" {
		return nil, fmt.Errorf("cannot index unloaded value %s", d.v.Name)
	}
	expr := fmt.Sprintf("(%s)[%d]", d.expr, i)
	v, err := d.b.client.EvalVariable(d.b.scope(), expr, d.b.loadCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %v", expr, err)
	}
	return newDelveValue(d.b, expr, *v), nil
}

// Field returns the named struct field
func (d *delveValue) Field(name string) (snapshot.Value, error) {
	for i := range d.v.Children {
		if d.v.Children[i].Name == name && loaded(&d.v.Children[i]) {
			expr := ""
			if d.expr != "" {
				expr = "(" + d.expr + ")." + name
			}
			return newDelveValue(d.b, expr, d.v.Children[i]), nil
		}
	}
	if d.expr == "" {
		return nil, fmt.Errorf("no loaded field %q", name)
	}
	expr := "(" + d.expr + ")." + name
	v, err := d.b.client.EvalVariable(d.b.scope(), expr, d.b.loadCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read field %s: %v", expr, err)
	}
	return newDelveValue(d.b, expr, *v), nil
}

// Format renders the value's textual form
func (d *delveValue) Format() (string, error) {
	if d.v.Unreadable != "" {
		return "", fmt.Errorf("unreadable value: %s", d.v.Unreadable)
	}
	switch d.v.Kind {
	case reflect.Ptr, reflect.UnsafePointer:
		if len(d.v.Children) > 0 {
			return fmt.Sprintf("0x%x", d.v.Children[0].Addr), nil
		}
		if d.v.Value != "" {
			return d.v.Value, nil
		}
		return fmt.Sprintf("0x%x", d.v.Addr), nil
	case reflect.Array, reflect.Slice:
		return formatArray(&d.v)
	case reflect.String:
		return d.v.Value, nil
	default:
		if d.v.Value != "" {
			return d.v.Value, nil
		}
		if len(d.v.Children) > 0 {
			return "", fmt.Errorf("composite value %s has no scalar form", d.v.Name)
		}
		return "", fmt.Errorf("no value loaded for %s", d.v.Name)
	}
}

// formatArray collapses byte-ish arrays to their string form and other
// element kinds to a braced list, matching debugger print conventions
func formatArray(v *api.Variable) (string, error) {
	if len(v.Children) == 0 {
		return "", fmt.Errorf("array %s not loaded", v.Name)
	}
	elemKind := v.Children[0].Kind
	if elemKind == reflect.Uint8 || elemKind == reflect.Int8 {
		var sb strings.Builder
		for i := range v.Children {
			n, err := parseByte(v.Children[i].Value)
			if err != nil {
				return "", err
			}
			sb.WriteByte(n)
		}
		return sb.String(), nil
	}
	parts := make([]string, 0, len(v.Children))
	for i := range v.Children {
		parts = append(parts, v.Children[i].Value)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

func parseByte(s string) (byte, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("bad byte value %q: %v", s, err)
	}
	return byte(n), nil
}

// loaded reports whether a child variable carries enough to stand on
// its own (delve truncates deep trees per the load config)
func loaded(v *api.Variable) bool {
	return v.Unreadable == "" && (v.Value != "" || len(v.Children) > 0 || v.Addr != 0)
}

// delveType is the static type view the serializer dispatches on
type delveType struct {
	kind   snapshot.Kind
	name   string
	size   int64
	elem   snapshot.Type
	fields []string
}

func (t *delveType) Kind() snapshot.Kind  { return t.kind }
func (t *delveType) Name() string         { return t.name }
func (t *delveType) Size() int64          { return t.size }
func (t *delveType) Elem() snapshot.Type  { return t.elem }
func (t *delveType) FieldNames() []string { return t.fields }

// typeOf derives the serializer's type view from a loaded variable
func typeOf(v *api.Variable) *delveType {
	t := &delveType{
		kind: kindOf(v.Kind),
		name: v.Type,
		size: sizeForKind(v.Kind),
	}
	switch v.Kind {
	case reflect.UnsafePointer:
		t.elem = &delveType{kind: snapshot.KindVoid, name: "void"}
	case reflect.Ptr:
		if len(v.Children) > 0 {
			t.elem = typeOf(&v.Children[0])
		}
	case reflect.Array, reflect.Slice:
		if len(v.Children) > 0 {
			elem := typeOf(&v.Children[0])
			t.elem = elem
			elemSize := elem.size
			if elemSize <= 0 {
				elemSize = 1
				elem.size = 1
			}
			t.size = v.Len * elemSize
		}
	case reflect.Struct:
		t.fields = make([]string, 0, len(v.Children))
		for i := range v.Children {
			t.fields = append(t.fields, v.Children[i].Name)
		}
	}
	return t
}

// kindOf maps the debugger's reflect kinds onto the serializer's
// classification
func kindOf(k reflect.Kind) snapshot.Kind {
	switch k {
	case reflect.Bool:
		return snapshot.KindBool
	case reflect.Uint8, reflect.Int8:
		return snapshot.KindChar
	case reflect.Int, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return snapshot.KindInt
	case reflect.Float32, reflect.Float64:
		return snapshot.KindFloat
	case reflect.Ptr, reflect.UnsafePointer:
		return snapshot.KindPointer
	case reflect.Array, reflect.Slice:
		return snapshot.KindArray
	case reflect.Struct:
		return snapshot.KindStruct
	case reflect.Func:
		return snapshot.KindFunc
	default:
		return snapshot.KindOther
	}
}

// sizeForKind returns the byte size of fixed-width kinds, 0 otherwise
func sizeForKind(k reflect.Kind) int64 {
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64,
		reflect.Uintptr, reflect.Float64, reflect.Ptr, reflect.UnsafePointer:
		return 8
	default:
		return 0
	}
}
