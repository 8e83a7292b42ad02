package instrument

import (
	"testing"

	"github.com/callscope/callscope/pkg/spec"
)

func gateSpec(t *testing.T, input string) *spec.Specification {
	t.Helper()
	s, err := spec.Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

func TestGateCapturesAtThreshold(t *testing.T) {
	g := NewGate(gateSpec(t, `{"main": {"calls": ["helper"], "times_called": [3]}}`))

	for i, want := range []Decision{Skip, Skip, Capture} {
		if got := g.OnCall("main", "helper"); got != want {
			t.Errorf("call %d: decision = %v, want %v", i+1, got, want)
		}
	}
	if n := g.Count("main", "helper"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestGateRecapturesPastThreshold(t *testing.T) {
	// The comparison is >=: every occurrence at or past the expected
	// total captures, not just the exact one.
	g := NewGate(gateSpec(t, `{"main": {"calls": ["helper"], "times_called": [2]}}`))

	g.OnCall("main", "helper")
	for i := 0; i < 3; i++ {
		if got := g.OnCall("main", "helper"); got != Capture {
			t.Errorf("overshoot call %d: decision = %v, want Capture", i+1, got)
		}
	}
}

func TestGateUnknownCallerLeavesNoEntry(t *testing.T) {
	g := NewGate(gateSpec(t, `{"main": {"calls": ["helper"], "times_called": [1]}}`))

	tests := []struct {
		caller string
		callee string
	}{
		{"", "helper"},
		{"stranger", "helper"},
		{"main", "unlisted"},
	}
	for _, tt := range tests {
		if got := g.OnCall(tt.caller, tt.callee); got != Skip {
			t.Errorf("OnCall(%q, %q) = %v, want Skip", tt.caller, tt.callee, got)
		}
		if g.HasEntry(tt.caller, tt.callee) {
			t.Errorf("OnCall(%q, %q) created a counter entry", tt.caller, tt.callee)
		}
	}
}

func TestGateReturnDoesNotIncrement(t *testing.T) {
	g := NewGate(gateSpec(t, `{"main": {"calls": ["helper"], "times_called": [2]}}`))

	// Returns before any call fire compare a zero count.
	if got := g.OnReturn("main", "helper"); got != Skip {
		t.Errorf("return before calls = %v, want Skip", got)
	}

	g.OnCall("main", "helper")
	g.OnCall("main", "helper")
	if got := g.OnReturn("main", "helper"); got != Capture {
		t.Errorf("return at threshold = %v, want Capture", got)
	}
	if n := g.Count("main", "helper"); n != 2 {
		t.Errorf("Count = %d after returns, want 2", n)
	}
}

func TestGateTracksPairsIndependently(t *testing.T) {
	g := NewGate(gateSpec(t, `{
		"main": {"calls": ["helper", "cleanup"], "times_called": [2, 1]},
		"worker": {"calls": ["helper"], "times_called": [1]}
	}`))

	if got := g.OnCall("main", "helper"); got != Skip {
		t.Errorf("main->helper first call = %v, want Skip", got)
	}
	if got := g.OnCall("worker", "helper"); got != Capture {
		t.Errorf("worker->helper first call = %v, want Capture", got)
	}
	if got := g.OnCall("main", "cleanup"); got != Capture {
		t.Errorf("main->cleanup first call = %v, want Capture", got)
	}
	if n := g.Count("main", "helper"); n != 1 {
		t.Errorf("main->helper count = %d, want 1", n)
	}
}
