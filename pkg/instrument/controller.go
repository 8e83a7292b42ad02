package instrument

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/callscope/callscope/pkg/logging"
	"github.com/callscope/callscope/pkg/snapshot"
	"github.com/callscope/callscope/pkg/spec"
	"github.com/callscope/callscope/pkg/trace"
)

// State is the controller's position in its stop/resume cycle
type State int

const (
	Idle State = iota
	EntryArmed
	Running
	StoppedAtCallSite
	StoppedAtFunctionEntry
	StoppedAtReturn
	Exited
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case EntryArmed:
		return "EntryArmed"
	case Running:
		return "Running"
	case StoppedAtCallSite:
		return "StoppedAtCallSite"
	case StoppedAtFunctionEntry:
		return "StoppedAtFunctionEntry"
	case StoppedAtReturn:
		return "StoppedAtReturn"
	case Exited:
		return "Exited"
	}
	return "Unknown"
}

const defaultDisasmCacheSize = 128

// Options configures a Controller
type Options struct {
	// EntrySymbol is the program's textual entry symbol where the
	// one-time initial breakpoint is installed
	EntrySymbol string
	// MainFunction is the designated top-level function disassembled
	// and seeded at the first stop
	MainFunction string
	// MaxDepth bounds value serialization; 0 selects the default
	MaxDepth int
	// DisasmCacheSize bounds the disassembly memo; 0 selects the default
	DisasmCacheSize int
}

// DefaultOptions returns the default controller options
func DefaultOptions() Options {
	return Options{
		EntrySymbol:     "_start",
		MainFunction:    "main",
		MaxDepth:        snapshot.DefaultMaxDepth,
		DisasmCacheSize: defaultDisasmCacheSize,
	}
}

// Controller orchestrates the debugger backend: it installs the points
// the scanner discovers, consults the gate on each stop, invokes the
// serializer and sink for captured stops, and schedules every resume
// through a deferred queue drained only after the stop handler returns.
type Controller struct {
	backend Backend
	spec    *spec.Specification
	gate    *Gate
	scanner *Scanner
	sink    *trace.Sink
	ser     *snapshot.Serializer
	log     *logging.Logger

	state        State
	points       map[uint64]*Point
	disasmCache  *lru.Cache
	pending      []Resume
	entrySymbol  string
	mainFunction string
}

// NewController wires the engine together. sink receives capture
// records; log may be nil.
func NewController(backend Backend, s *spec.Specification, sink *trace.Sink, log *logging.Logger, opts Options) *Controller {
	if log == nil {
		log = logging.Discard()
	}
	if opts.EntrySymbol == "" {
		opts.EntrySymbol = "_start"
	}
	if opts.MainFunction == "" {
		opts.MainFunction = "main"
	}
	if opts.DisasmCacheSize <= 0 {
		opts.DisasmCacheSize = defaultDisasmCacheSize
	}
	cache, _ := lru.New(opts.DisasmCacheSize)

	c := &Controller{
		backend:      backend,
		spec:         s,
		gate:         NewGate(s),
		sink:         sink,
		ser:          snapshot.NewSerializer(opts.MaxDepth),
		log:          log,
		state:        Idle,
		points:       make(map[uint64]*Point),
		disasmCache:  cache,
		entrySymbol:  opts.EntrySymbol,
		mainFunction: opts.MainFunction,
	}
	c.scanner = NewScanner(s, c, log)
	return c
}

// State returns the controller's current state
func (c *Controller) State() State {
	return c.state
}

// Gate exposes the controller's multiplicity gate
func (c *Controller) Gate() *Gate {
	return c.gate
}

// Point returns the installed point at an address, nil when absent
func (c *Controller) Point(addr uint64) *Point {
	return c.points[addr]
}

// Lookup reports whether a point is installed at the address
func (c *Controller) Lookup(addr uint64) bool {
	_, ok := c.points[addr]
	return ok
}

// Register installs a breakpoint for a discovered point. A failed
// install is logged and the point is not recorded; the run continues
// without it.
func (c *Controller) Register(p Point) {
	if _, ok := c.points[p.Addr]; ok {
		return
	}
	if err := c.backend.InstallBreakpoint(p.Addr); err != nil {
		c.log.Errorf("Failed to install %s breakpoint at %#x: %v", p.Kind, p.Addr, err)
		return
	}
	pt := p
	c.points[p.Addr] = &pt
	c.log.Debugf("[Breakpoint] %s %s at %#x, caller %s", p.Kind, p.Function, p.Addr, p.Caller)
}

// Run installs the entry breakpoint, launches the target, and drives
// the backend event loop until process exit.
func (c *Controller) Run() error {
	addr, err := c.backend.FunctionEntryAddress(c.entrySymbol)
	if err != nil {
		return fmt.Errorf("failed to resolve entry symbol %s: %v", c.entrySymbol, err)
	}
	if err := c.backend.InstallBreakpoint(addr); err != nil {
		return fmt.Errorf("failed to arm entry breakpoint at %#x: %v", addr, err)
	}
	c.state = EntryArmed

	if err := c.backend.Launch(); err != nil {
		return fmt.Errorf("failed to launch target: %v", err)
	}

	return c.backend.Run(c.HandleStop, c.HandleExit)
}

// HandleStop is the stop notification handler. It dispatches on the
// point kind, then drains the resume queue; the resume itself is never
// executed inside the handler body, which keeps the backend free of
// reentrant breakpoint manipulation.
func (c *Controller) HandleStop(addr uint64, f Frame) Resume {
	if c.state == EntryArmed {
		c.handleEntry()
		c.state = Running
		return c.drain()
	}

	pt, ok := c.points[addr]
	if !ok {
		// Stops at unregistered addresses (for instance the instruction
		// after a stepped function entry) resume transparently.
		c.log.Debugf("Stop at unregistered address %#x in %s", addr, f.Function())
		c.deferResume(ResumeContinue)
		c.state = Running
		return c.drain()
	}

	switch pt.Kind {
	case CallSite:
		c.state = StoppedAtCallSite
		c.handleCallSite(pt, f)
	case FunctionEntry:
		c.state = StoppedAtFunctionEntry
		c.handleFunctionEntry(pt)
	case Return:
		c.state = StoppedAtReturn
		c.handleReturn(pt, f)
	}
	c.state = Running
	return c.drain()
}

// HandleExit is the process-exit notification handler: the single
// point where the accumulated trace is serialized.
func (c *Controller) HandleExit(code int) {
	c.log.Infof("Target exited with status %d; writing %d capture(s)", code, c.sink.Len())
	if err := c.sink.Flush(); err != nil {
		c.log.Errorf("Failed to write output data: %v", err)
	}
	c.state = Exited
}

// handleEntry runs at the first stop: disassemble the top-level
// function, arm its entry, and seed the scanner with it.
func (c *Controller) handleEntry() {
	disasm, err := c.disassemble(c.mainFunction)
	if err != nil {
		c.log.Errorf("Failed to disassemble %s: %v", c.mainFunction, err)
		c.deferResume(ResumeContinue)
		return
	}

	if addr, ok := firstInstructionAddress(disasm); ok && !c.Lookup(addr) {
		c.Register(Point{Kind: FunctionEntry, Addr: addr, Function: c.mainFunction, Caller: c.entrySymbol})
	}
	c.scanner.Scan(disasm, c.mainFunction, c.entrySymbol)
	c.deferResume(ResumeContinue)
}

func (c *Controller) handleCallSite(pt *Point, f Frame) {
	decision := c.gate.OnCall(pt.Caller, pt.Function)
	c.log.Infof("Function %s called %d times from %s", pt.Function, c.gate.Count(pt.Caller, pt.Function), pt.Caller)
	if decision == Capture {
		c.capture(f, pt.Caller, "before function call of "+pt.Function)
	}
	c.deferResume(ResumeStep)
}

func (c *Controller) handleFunctionEntry(pt *Point) {
	disasm, err := c.disassemble(pt.Function)
	if err != nil {
		c.log.Errorf("Failed to disassemble %s: %v", pt.Function, err)
		c.deferResume(ResumeStep)
		return
	}
	c.scanner.Scan(disasm, pt.Function, pt.Caller)
	c.deferResume(ResumeStep)
}

func (c *Controller) handleReturn(pt *Point, f Frame) {
	decision := c.gate.OnReturn(pt.Caller, pt.Function)
	if decision == Capture {
		c.capture(f, pt.Caller, "before function return of "+pt.Function)
	}
	c.deferResume(ResumeContinue)
}

// capture builds one record from the stopped frame and appends it to
// the sink. Read failures surface as empty groups or opaque nodes,
// never as an aborted run.
func (c *Controller) capture(f Frame, location, state string) {
	rec := trace.Record{
		Location:   location,
		State:      state,
		LocalVars:  c.serializeGroup(c.backend.ReadLocals(f), c.spec.LocalFilter(f.Function())),
		GlobalVars: c.serializeGroup(c.backend.ReadGlobals(f), nil),
		MemberVars: c.serializeGroup(c.backend.ReadReceiver(f), nil),
		Arguments:  c.serializeGroup(c.backend.ReadArguments(f), nil),
		Line:       f.Line(),
	}
	c.sink.Append(rec)
	c.log.Debugf("Captured %q at line %d", state, rec.Line)
}

// serializeGroup serializes one variable group, optionally restricted
// to the named variables
func (c *Controller) serializeGroup(values map[string]snapshot.Value, filter []string) map[string]snapshot.Node {
	group := make(map[string]snapshot.Node, len(values))
	for name, v := range values {
		if len(filter) > 0 && !containsName(filter, name) {
			continue
		}
		group[name] = c.ser.Serialize(v)
	}
	return group
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// disassemble memoizes backend disassembly per function; shared
// functions are re-scanned on every entry but only fetched once
func (c *Controller) disassemble(function string) (string, error) {
	if text, ok := c.disasmCache.Get(function); ok {
		return text.(string), nil
	}
	text, err := c.backend.Disassemble(function)
	if err != nil {
		return "", err
	}
	c.disasmCache.Add(function, text)
	return text, nil
}

// firstInstructionAddress extracts the address of the first
// instruction line in a disassembly listing
func firstInstructionAddress(disasm string) (uint64, bool) {
	for _, line := range strings.Split(disasm, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if addr, ok := parseAddress(fields[0]); ok {
			return addr, true
		}
	}
	return 0, false
}

// deferResume queues the resume to run after the stop handler returns
func (c *Controller) deferResume(r Resume) {
	c.pending = append(c.pending, r)
}

// drain empties the deferred queue and yields the effective resume.
// The last scheduled resume wins; an empty queue continues.
func (c *Controller) drain() Resume {
	r := ResumeContinue
	if len(c.pending) > 0 {
		r = c.pending[len(c.pending)-1]
		c.pending = c.pending[:0]
	}
	return r
}
