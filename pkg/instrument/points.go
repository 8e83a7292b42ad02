package instrument

// PointKind identifies the three kinds of instrumentation point. The
// set is closed: every stop dispatches to exactly one handler.
type PointKind int

const (
	// CallSite is the instruction immediately before a call
	CallSite PointKind = iota
	// FunctionEntry is the first instruction of a callee
	FunctionEntry
	// Return is a return instruction inside a tracked function
	Return
)

// String returns the string representation of the PointKind
func (k PointKind) String() string {
	switch k {
	case CallSite:
		return "CallSite"
	case FunctionEntry:
		return "FunctionEntry"
	case Return:
		return "Return"
	default:
		return "Unknown"
	}
}

// Point is one installed instrumentation point. Points are created
// when the scanner discovers a relevant instruction and live until
// process teardown; installation is idempotent by address.
type Point struct {
	Kind PointKind
	Addr uint64
	// Function is the callee for CallSite/FunctionEntry points and the
	// enclosing function for Return points
	Function string
	// Caller is the calling function; for Return points it is the
	// function expected to resume (the grandcaller context)
	Caller string
}
