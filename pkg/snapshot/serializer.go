package snapshot

import (
	"strings"
)

const (
	// DefaultMaxDepth bounds pointer chains and nested composites. It
	// is a safety bound against cyclic structures, not a tuning knob.
	DefaultMaxDepth = 100

	// scanCap bounds the pointer scan over numeric buffers with no
	// terminating zero in sight
	scanCap = 20
)

// Sizes for which a numeric pointee is dereferenced as a single scalar
// rather than scanned as a buffer.
const (
	wordSize       = 4
	doubleWordSize = 8
)

// Serializer turns live value references into bounded Node trees. It
// never fails: every unreadable value degrades to an opaque node.
type Serializer struct {
	maxDepth int
}

// NewSerializer returns a serializer with the given traversal bound.
// A non-positive bound selects DefaultMaxDepth.
func NewSerializer(maxDepth int) *Serializer {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Serializer{maxDepth: maxDepth}
}

// Serialize builds the Node tree for a live value
func (s *Serializer) Serialize(v Value) Node {
	return s.serialize(v, 0)
}

func (s *Serializer) serialize(v Value, depth int) Node {
	if depth > s.maxDepth {
		return Opaque(MarkerMaxDepth)
	}
	if v == nil {
		return Opaque(MarkerUnavailable)
	}

	v = unwrap(v)

	node, resolved, depth, done := s.resolvePointer(v, depth)
	if done {
		return node
	}
	v = resolved

	switch v.Type().Kind() {
	case KindStruct, KindUnion:
		return s.structNode(v, depth)
	case KindArray:
		return s.arrayNode(v, depth)
	case KindTypedef:
		under, err := v.Deref()
		if err != nil {
			return Opaque(MarkerUnavailable)
		}
		return s.serialize(under, depth)
	default:
		return s.scalarNode(v)
	}
}

// unwrap strips typedef and reference layers until a concrete kind is
// reached. A failed strip leaves the value as-is; the caller's error
// substitution covers it.
func unwrap(v Value) Value {
	for {
		k := v.Type().Kind()
		if k != KindTypedef && k != KindReference {
			return v
		}
		under, err := v.Deref()
		if err != nil {
			return v
		}
		v = under
	}
}

// resolvePointer walks a pointer chain iteratively while the depth
// bound allows. It either produces a terminal node (done=true) or the
// non-pointer value the chain ends at, with the depth it was reached
// at.
func (s *Serializer) resolvePointer(v Value, depth int) (Node, Value, int, bool) {
	for v.Type().Kind() == KindPointer && depth < s.maxDepth {
		if v.IsZero() {
			return Scalar(MarkerNull), nil, depth, true
		}

		elem := v.Type().Elem()
		if elem == nil {
			// Pointee type unknown; record the raw address
			text, err := v.Format()
			if err != nil {
				return Opaque(MarkerUnavailable), nil, depth, true
			}
			return Scalar(text), nil, depth, true
		}

		switch elem.Kind() {
		case KindVoid:
			text, err := v.Format()
			if err != nil {
				return Opaque(MarkerUnavailable), nil, depth, true
			}
			return Scalar("(void*)" + text), nil, depth, true

		case KindChar:
			text, err := v.Format()
			if err != nil {
				return Opaque(MarkerUnavailable), nil, depth, true
			}
			return Scalar(stripNULs(text)), nil, depth, true

		case KindInt, KindFloat:
			if sz := elem.Size(); sz == wordSize || sz == doubleWordSize {
				pointee, err := v.Deref()
				if err != nil {
					return Opaque(MarkerInvalidPointer), nil, depth, true
				}
				text, err := pointee.Format()
				if err != nil {
					return Opaque(MarkerUnavailable), nil, depth, true
				}
				return Scalar(stripNULs(text)), nil, depth, true
			}
			// Odd-sized numeric pointee: scan forward until the first
			// zero element or the cap, whichever comes first. This is
			// what keeps unterminated buffers from being walked forever.
			return s.scanPointer(v), nil, depth, true
		}

		next, err := v.Deref()
		if err != nil {
			return Opaque(MarkerInvalidPointer), nil, depth, true
		}
		v = unwrap(next)
		depth++
	}

	if v.Type().Kind() == KindPointer {
		// Depth bound hit mid-chain
		return Opaque(MarkerMaxDepth), nil, depth, true
	}
	return Node{}, v, depth, false
}

// scanPointer dereferences at increasing element offsets, collecting
// each value's textual form, stopping at the first zero or at scanCap.
func (s *Serializer) scanPointer(v Value) Node {
	elems := make([]Node, 0, scanCap)
	for i := 0; len(elems) < scanCap; i++ {
		elem, err := v.Index(i)
		if err != nil {
			elems = append(elems, Opaque(MarkerUnavailable))
			break
		}
		text, err := elem.Format()
		if err != nil {
			elems = append(elems, Opaque(MarkerUnavailable))
			break
		}
		elems = append(elems, Scalar(stripNULs(text)))
		if elem.IsZero() {
			break
		}
	}
	return Sequence(elems)
}

// structNode maps every declared field; a failure reading one field
// yields an opaque node for that field only.
func (s *Serializer) structNode(v Value, depth int) Node {
	fields := NewMapping()
	for _, name := range v.Type().FieldNames() {
		fv, err := v.Field(name)
		if err != nil {
			fields.Put(name, Opaque(MarkerUnavailable))
			continue
		}
		fields.Put(name, s.serialize(fv, depth))
	}
	return fields
}

// arrayNode collapses integer and character arrays to their textual
// form so byte buffers stay readable; other element kinds become a
// sequence of serialized elements.
func (s *Serializer) arrayNode(v Value, depth int) Node {
	t := v.Type()
	elem := t.Elem()
	if elem == nil {
		return s.scalarNode(v)
	}

	if elem.Kind() == KindInt || elem.Kind() == KindChar {
		text, err := v.Format()
		if err != nil {
			return Opaque(MarkerUnavailable)
		}
		return Scalar(stripNULs(text))
	}

	count := 0
	if elem.Size() > 0 {
		count = int(t.Size() / elem.Size())
	}
	elems := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		ev, err := v.Index(i)
		if err != nil {
			elems = append(elems, Opaque(MarkerUnavailable))
			continue
		}
		elems = append(elems, s.serialize(ev, depth+1))
	}
	return Sequence(elems)
}

func (s *Serializer) scalarNode(v Value) Node {
	text, err := v.Format()
	if err != nil {
		return Opaque(MarkerUnavailable)
	}
	return Scalar(stripNULs(text))
}

// stripNULs removes embedded NUL markers from a textual value, both
// the debugger's escaped form and raw NUL bytes.
func stripNULs(s string) string {
	s = strings.ReplaceAll(s, `\000`, "")
	return strings.ReplaceAll(s, "\x00", "")
}
