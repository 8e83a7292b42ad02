package instrument

import (
	"testing"

	"github.com/callscope/callscope/pkg/spec"
)

// fakeRegistrar records registrations in discovery order.
type fakeRegistrar struct {
	points []Point
	known  map[uint64]bool
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{known: make(map[uint64]bool)}
}

func (r *fakeRegistrar) Lookup(addr uint64) bool { return r.known[addr] }

func (r *fakeRegistrar) Register(p Point) {
	r.points = append(r.points, p)
	r.known[p.Addr] = true
}

func (r *fakeRegistrar) find(kind PointKind, addr uint64) *Point {
	for i := range r.points {
		if r.points[i].Kind == kind && r.points[i].Addr == addr {
			return &r.points[i]
		}
	}
	return nil
}

const mainDisasm = `Dump of assembler code for function main:
   0x0000000000401130 <+0>:	push   %rbp
   0x0000000000401131 <+1>:	mov    %rsp,%rbp
   0x0000000000401139 <+9>:	call   0x401110 <helper>
   0x000000000040113e <+14>:	mov    $0x0,%eax
   0x0000000000401143 <+19>:	call   0x401020 <printf@plt>
   0x0000000000401148 <+24>:	ret
End of assembler dump.`

func scanSpec(t *testing.T, input string) *spec.Specification {
	t.Helper()
	s, err := spec.Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

func TestScanRegistersCallAndReturnPoints(t *testing.T) {
	s := scanSpec(t, `{"main": {"calls": ["helper"], "times_called": [2]}}`)
	reg := newFakeRegistrar()

	NewScanner(s, reg, nil).Scan(mainDisasm, "main", "_start")

	call := reg.find(CallSite, 0x401139)
	if call == nil {
		t.Fatal("call site at 0x401139 not registered")
	}
	if call.Function != "helper" || call.Caller != "main" {
		t.Errorf("call site = %+v, want helper called from main", *call)
	}

	entry := reg.find(FunctionEntry, 0x401110)
	if entry == nil {
		t.Fatal("function entry at 0x401110 not registered")
	}
	if entry.Function != "helper" {
		t.Errorf("function entry = %+v, want helper", *entry)
	}

	ret := reg.find(Return, 0x401148)
	if ret == nil {
		t.Fatal("return at 0x401148 not registered")
	}
	if ret.Function != "main" || ret.Caller != "_start" {
		t.Errorf("return = %+v, want main resuming into _start", *ret)
	}

	// printf is not in the specification; its call site stays dark.
	if p := reg.find(CallSite, 0x401143); p != nil {
		t.Errorf("unexpected registration for untracked target: %+v", *p)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	s := scanSpec(t, `{"main": {"calls": ["helper"], "times_called": [1]}}`)
	reg := newFakeRegistrar()
	sc := NewScanner(s, reg, nil)

	sc.Scan(mainDisasm, "main", "_start")
	first := len(reg.points)
	sc.Scan(mainDisasm, "main", "_start")

	if len(reg.points) != first {
		t.Errorf("second scan added points: %d -> %d", first, len(reg.points))
	}
}

func TestScanPLTCallStripsDecoration(t *testing.T) {
	s := scanSpec(t, `{"main": {"calls": ["printf"], "times_called": [1]}}`)
	reg := newFakeRegistrar()

	NewScanner(s, reg, nil).Scan(mainDisasm, "main", "_start")

	call := reg.find(CallSite, 0x401143)
	if call == nil {
		t.Fatal("plt call site not registered")
	}
	if call.Function != "printf" {
		t.Errorf("plt call target = %q, want printf", call.Function)
	}
}

func TestScanLeaLoadedTarget(t *testing.T) {
	// Indirect calls materialize their target with lea first; the
	// loaded symbol is treated like a direct call target.
	disasm := `   0x0000000000401150 <+0>:	lea    0x401110 <helper>
   0x0000000000401157 <+7>:	ret`
	s := scanSpec(t, `{"dispatch": {"calls": ["helper"], "times_called": [1]}}`)
	reg := newFakeRegistrar()

	NewScanner(s, reg, nil).Scan(disasm, "dispatch", "main")

	if p := reg.find(CallSite, 0x401150); p == nil || p.Function != "helper" {
		t.Errorf("lea site registration = %+v, want helper at 0x401150", p)
	}
	if p := reg.find(FunctionEntry, 0x401110); p == nil {
		t.Error("lea target entry not registered")
	}
}

func TestScanUntrackedFunctionSkipsReturns(t *testing.T) {
	// helper appears only as a callee: its body is scanned for further
	// calls but its returns stay uninstrumented.
	disasm := `   0x0000000000401110 <+0>:	push   %rbp
   0x0000000000401120 <+16>:	ret`
	s := scanSpec(t, `{"main": {"calls": ["helper"], "times_called": [1]}}`)
	reg := newFakeRegistrar()

	NewScanner(s, reg, nil).Scan(disasm, "helper", "main")

	if len(reg.points) != 0 {
		t.Errorf("registered %d point(s) in untracked function, want 0", len(reg.points))
	}
}

func TestScanTolerantOfShortLines(t *testing.T) {
	disasm := "garbage\n\n   0x401139\nno address here at all\n   not0x1 <+0>:\tcall 0x401110 <helper>"
	s := scanSpec(t, `{"main": {"calls": ["helper"], "times_called": [1]}}`)
	reg := newFakeRegistrar()

	NewScanner(s, reg, nil).Scan(disasm, "main", "_start")

	if len(reg.points) != 0 {
		t.Errorf("registered %d point(s) from malformed text, want 0", len(reg.points))
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		field string
		want  uint64
		ok    bool
	}{
		{"0x401139:", 0x401139, true},
		{"0x401110", 0x401110, true},
		{"401110", 0x401110, true},
		{"<+9>:", 0, false},
		{"call", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAddress(tt.field)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseAddress(%q) = (%#x, %v), want (%#x, %v)", tt.field, got, ok, tt.want, tt.ok)
		}
	}
}
