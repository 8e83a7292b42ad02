package instrument

import (
	"github.com/callscope/callscope/pkg/snapshot"
)

// Resume tells the backend how to continue the target after a stop
type Resume int

const (
	// ResumeContinue runs until the next breakpoint
	ResumeContinue Resume = iota
	// ResumeStep executes a single instruction, stepping into calls
	ResumeStep
)

// String returns the string representation of the Resume kind
func (r Resume) String() string {
	if r == ResumeStep {
		return "step"
	}
	return "continue"
}

// Frame is an opaque handle to the stopped thread's topmost stack
// frame, valid only for the duration of the stop handler.
type Frame interface {
	// Function returns the name of the function the frame executes
	Function() string
	// Line returns the frame's source line, 0 when unknown
	Line() int
}

// Backend is the debugger collaborator the engine drives. It owns the
// target process and delivers stop notifications strictly one at a
// time: the next stop cannot occur until the previous handler's resume
// has been issued. Variable reads degrade to empty maps on failure.
type Backend interface {
	// FunctionEntryAddress resolves a symbol to its first instruction
	FunctionEntryAddress(name string) (uint64, error)
	// InstallBreakpoint installs a breakpoint at an address. Installing
	// at an address that already has one is not an error.
	InstallBreakpoint(addr uint64) error
	// InstalledBreakpoints returns the addresses currently armed
	InstalledBreakpoints() map[uint64]bool
	// Disassemble returns a function's disassembly text, one
	// instruction per line: address, offset, mnemonic and operands,
	// resolved target symbol last
	Disassemble(functionName string) (string, error)

	// The four variable groups of the stopped frame
	ReadLocals(f Frame) map[string]snapshot.Value
	ReadGlobals(f Frame) map[string]snapshot.Value
	ReadReceiver(f Frame) map[string]snapshot.Value
	ReadArguments(f Frame) map[string]snapshot.Value

	// Launch starts the target, stopped, with the configured input
	// stream attached
	Launch() error
	// Run drives the event loop until the target exits. Each stop is
	// reported through onStop; the returned Resume (produced by the
	// handler's drained work queue, never issued inside the handler)
	// is performed as the loop's next blocking operation. onExit fires
	// exactly once, on target-process exit.
	Run(onStop func(addr uint64, f Frame) Resume, onExit func(code int)) error
	// Close releases the target and debugger resources
	Close() error
}
