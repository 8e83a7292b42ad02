package snapshot

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// NodeKind identifies the shape of a serialized value node
type NodeKind int

const (
	// ScalarNode holds a single textual value
	ScalarNode NodeKind = iota
	// SequenceNode holds index-ordered child nodes
	SequenceNode
	// MappingNode holds name-keyed child nodes in declaration order
	MappingNode
	// OpaqueNode marks a value that could not be serialized
	OpaqueNode
)

// Markers substituted when a value cannot be read or the traversal
// bound is hit. They appear verbatim in the output trace.
const (
	MarkerUnavailable    = "<unavailable>"
	MarkerMaxDepth       = "<max recursion depth reached>"
	MarkerInvalidPointer = "<invalid pointer>"
	MarkerNull           = "NULL"
)

// Node is the bounded, acyclic tree representation of a live value.
// Nodes are built fresh per capture and never mutated afterwards.
type Node struct {
	kind   NodeKind
	scalar string
	seq    []Node
	keys   []string
	vals   []Node
}

// Scalar returns a scalar node holding the given textual value
func Scalar(s string) Node {
	return Node{kind: ScalarNode, scalar: s}
}

// Opaque returns an opaque node carrying one of the marker strings
func Opaque(marker string) Node {
	return Node{kind: OpaqueNode, scalar: marker}
}

// Sequence returns an index-ordered node over the given children
func Sequence(elems []Node) Node {
	return Node{kind: SequenceNode, seq: elems}
}

// NewMapping returns an empty mapping node
func NewMapping() Node {
	return Node{kind: MappingNode}
}

// Put appends a named child to a mapping node, preserving order
func (n *Node) Put(key string, child Node) {
	n.keys = append(n.keys, key)
	n.vals = append(n.vals, child)
}

// Kind returns the node's shape
func (n Node) Kind() NodeKind { return n.kind }

// IsOpaque reports whether the node is an error substitution
func (n Node) IsOpaque() bool { return n.kind == OpaqueNode }

// Text returns the scalar or opaque payload, empty for other kinds
func (n Node) Text() string { return n.scalar }

// Len returns the child count for sequences and mappings
func (n Node) Len() int {
	switch n.kind {
	case SequenceNode:
		return len(n.seq)
	case MappingNode:
		return len(n.keys)
	}
	return 0
}

// At returns the i-th element of a sequence node
func (n Node) At(i int) Node { return n.seq[i] }

// Get returns the named child of a mapping node
func (n Node) Get(key string) (Node, bool) {
	for i, k := range n.keys {
		if k == key {
			return n.vals[i], true
		}
	}
	return Node{}, false
}

// MarshalJSON renders scalars and opaque markers as strings, sequences
// as objects keyed by decimal index, and mappings as objects in field
// declaration order. Sequences serialize as index-keyed objects to
// match the trace format consumed downstream.
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.kind {
	case ScalarNode, OpaqueNode:
		return json.Marshal(n.scalar)
	case SequenceNode:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, elem := range n.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(strconv.Itoa(i)))
			buf.WriteByte(':')
			b, err := json.Marshal(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case MappingNode:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, key := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(key))
			buf.WriteByte(':')
			b, err := json.Marshal(n.vals[i])
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return json.Marshal(nil)
}

// UnmarshalJSON rebuilds a node from its trace form. Objects whose
// keys are consecutive decimal indices from zero decode as sequences;
// strings matching an error marker decode as opaque nodes.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := decodeNode(dec)
	if err != nil {
		return err
	}
	*n = node
	return nil
}

func decodeNode(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return Node{}, err
	}
	switch t := tok.(type) {
	case string:
		switch t {
		case MarkerUnavailable, MarkerMaxDepth, MarkerInvalidPointer:
			return Opaque(t), nil
		}
		return Scalar(t), nil
	case json.Number:
		return Scalar(t.String()), nil
	case bool:
		return Scalar(strconv.FormatBool(t)), nil
	case nil:
		return Scalar(""), nil
	case json.Delim:
		if t != '{' {
			return Node{}, &json.UnmarshalTypeError{Value: t.String(), Type: nil}
		}
		node := NewMapping()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return Node{}, err
			}
			key, _ := keyTok.(string)
			child, err := decodeNode(dec)
			if err != nil {
				return Node{}, err
			}
			node.Put(key, child)
		}
		if _, err := dec.Token(); err != nil {
			return Node{}, err
		}
		if seq, ok := asSequence(node); ok {
			return seq, nil
		}
		return node, nil
	}
	return Node{}, &json.UnmarshalTypeError{}
}

func asSequence(n Node) (Node, bool) {
	if len(n.keys) == 0 {
		return Node{}, false
	}
	elems := make([]Node, len(n.keys))
	for i, key := range n.keys {
		if key != strconv.Itoa(i) {
			return Node{}, false
		}
		elems[i] = n.vals[i]
	}
	return Sequence(elems), true
}
