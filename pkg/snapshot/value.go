package snapshot

// Kind classifies the underlying type of a live value reference.
// The set mirrors the type codes a symbolic debugger reports.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindChar
	KindBool
	KindVoid
	KindPointer
	KindReference
	KindArray
	KindStruct
	KindUnion
	KindTypedef
	KindFunc
	KindOther
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindChar:
		return "char"
	case KindBool:
		return "bool"
	case KindVoid:
		return "void"
	case KindPointer:
		return "pointer"
	case KindReference:
		return "reference"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindTypedef:
		return "typedef"
	case KindFunc:
		return "func"
	case KindOther:
		return "other"
	default:
		return "invalid"
	}
}

// Type describes the static type of a live value.
type Type interface {
	// Kind returns the type's classification
	Kind() Kind
	// Name returns the declared type name, if any
	Name() string
	// Size returns the type's byte size, 0 when unknown
	Size() int64
	// Elem returns the pointee, element, or underlying type for
	// pointers, references, arrays and typedefs; nil otherwise
	Elem() Type
	// FieldNames returns declared field names for structs and unions,
	// in declaration order
	FieldNames() []string
}

// Value is a reference to a live value in the target process, supplied
// by the debugger backend. Implementations may read target memory
// lazily; every accessor that can touch the target returns an error
// instead of panicking.
type Value interface {
	// Type returns the value's static type
	Type() Type
	// IsZero reports whether the value is a null pointer or zero scalar
	IsZero() bool
	// Deref follows one pointer/reference level or strips one typedef
	// layer, reading target memory as needed
	Deref() (Value, error)
	// Index returns the i-th array element, or for pointers the value
	// at the i-th element offset past the pointee
	Index(i int) (Value, error)
	// Field returns the named struct or union field
	Field(name string) (Value, error)
	// Format returns the value's textual form. For pointers to
	// character data this is the referenced C-style string; for other
	// pointers it is the raw address.
	Format() (string, error)
}
