package instrument

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/callscope/callscope/pkg/logging"
	"github.com/callscope/callscope/pkg/spec"
)

var (
	callInstruction   = regexp.MustCompile(`\bcall\b`)
	returnInstruction = regexp.MustCompile(`\bret\w*\b`)
	leaInstruction    = regexp.MustCompile(`\blea\b`)
	pltCall           = regexp.MustCompile(`call\s+.*@plt`)
)

// Registrar accepts discovered instrumentation points. Lookup guards
// idempotence: disassembly is re-run every time a new function is
// entered, and the address check is what prevents duplicate
// instrumentation of shared functions.
type Registrar interface {
	Lookup(addr uint64) bool
	Register(p Point)
}

// Scanner discovers relevant call sites, call targets, and return
// instructions in a function's disassembly text. Only targets named in
// the specification are instrumented, which keeps the breakpoint count
// proportional to the run's relevant surface.
type Scanner struct {
	spec *spec.Specification
	reg  Registrar
	log  *logging.Logger
}

// NewScanner returns a scanner registering through the given registrar
func NewScanner(s *spec.Specification, reg Registrar, log *logging.Logger) *Scanner {
	if log == nil {
		log = logging.Discard()
	}
	return &Scanner{spec: s, reg: reg, log: log}
}

// Scan parses one function's disassembly line by line and registers
// the instrumentation points it discovers. function is the function
// the text belongs to; caller is the function expected to resume when
// it returns.
func (s *Scanner) Scan(disasm, function, caller string) {
	for _, line := range strings.Split(disasm, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		addr, ok := parseAddress(fields[0])
		if !ok {
			continue
		}
		mnemonic := fields[2]

		switch {
		case callInstruction.MatchString(mnemonic) || leaInstruction.MatchString(mnemonic):
			target := callTarget(line, fields)
			if !s.spec.Known(target) {
				s.log.Debugf("Function %s not found in specification.", target)
				continue
			}
			s.log.Debugf("[Call] %s", strings.TrimSpace(line))

			if !s.reg.Lookup(addr) {
				s.reg.Register(Point{Kind: CallSite, Addr: addr, Function: target, Caller: function})
			}

			targetAddr, ok := parseAddress(fields[len(fields)-2])
			if !ok {
				s.log.Debugf("No resolvable target address in %q", strings.TrimSpace(line))
				continue
			}
			if !s.reg.Lookup(targetAddr) {
				s.reg.Register(Point{Kind: FunctionEntry, Addr: targetAddr, Function: target, Caller: function})
			}

		case returnInstruction.MatchString(mnemonic):
			if !s.spec.Tracks(function) {
				continue
			}
			s.log.Debugf("[Return] %s", strings.TrimSpace(line))
			if !s.reg.Lookup(addr) {
				s.reg.Register(Point{Kind: Return, Addr: addr, Function: function, Caller: caller})
			}
		}
	}
}

// parseAddress reads a hex instruction address, tolerating a trailing
// colon from disassembly formatting
func parseAddress(field string) (uint64, bool) {
	field = strings.TrimSuffix(field, ":")
	field = strings.TrimPrefix(field, "0x")
	addr, err := strconv.ParseUint(field, 16, 64)
	if err != nil {
		return 0, false
	}
	return addr, true
}

// callTarget extracts the resolved target symbol from a call line,
// stripping angle brackets, parentheses, and @plt decoration
func callTarget(line string, fields []string) string {
	name := strings.Trim(fields[len(fields)-1], "<>()")
	if pltCall.MatchString(line) {
		name = strings.SplitN(name, "@", 2)[0]
	}
	return name
}
