package spec

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlattensCallCounts(t *testing.T) {
	input := `{
		"main": {"calls": ["helper", "cleanup"], "times_called": [3, 1]},
		"helper": {"calls": [], "times_called": []}
	}`

	s, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tests := []struct {
		caller   string
		callee   string
		expected int
		ok       bool
	}{
		{"main", "helper", 3, true},
		{"main", "cleanup", 1, true},
		{"main", "unknown", 0, false},
		{"helper", "anything", 0, false},
		{"absent", "helper", 0, false},
	}

	for _, tt := range tests {
		got, ok := s.Expected(tt.caller, tt.callee)
		if got != tt.expected || ok != tt.ok {
			t.Errorf("Expected(%q, %q) = (%d, %v), want (%d, %v)",
				tt.caller, tt.callee, got, ok, tt.expected, tt.ok)
		}
	}
}

func TestParseMisalignedCountsDefaultToOne(t *testing.T) {
	input := `{"main": {"calls": ["a", "b", "c"], "times_called": [5]}}`

	s, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if n, _ := s.Expected("main", "a"); n != 5 {
		t.Errorf("Expected(main, a) = %d, want 5", n)
	}
	for _, callee := range []string{"b", "c"} {
		if n, _ := s.Expected("main", callee); n != 1 {
			t.Errorf("Expected(main, %s) = %d, want default 1", callee, n)
		}
	}
}

func TestTracksAndKnown(t *testing.T) {
	input := `{"main": {"calls": ["helper"], "times_called": [3]}}`

	s, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tests := []struct {
		name   string
		tracks bool
		known  bool
	}{
		{"main", true, true},
		{"helper", false, true}, // callee only: instrumented, never gating
		{"printf", false, false},
	}

	for _, tt := range tests {
		if got := s.Tracks(tt.name); got != tt.tracks {
			t.Errorf("Tracks(%q) = %v, want %v", tt.name, got, tt.tracks)
		}
		if got := s.Known(tt.name); got != tt.known {
			t.Errorf("Known(%q) = %v, want %v", tt.name, got, tt.known)
		}
	}
}

func TestLocalFilter(t *testing.T) {
	input := `{
		"main": {"calls": [], "times_called": [], "local_vars": ["i", "buf"]},
		"helper": {"calls": [], "times_called": []}
	}`

	s, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := s.LocalFilter("main"); len(got) != 2 || got[0] != "i" || got[1] != "buf" {
		t.Errorf("LocalFilter(main) = %v, want [i buf]", got)
	}
	if got := s.LocalFilter("helper"); len(got) != 0 {
		t.Errorf("LocalFilter(helper) = %v, want empty", got)
	}
	if got := s.LocalFilter("absent"); got != nil {
		t.Errorf("LocalFilter(absent) = %v, want nil", got)
	}
}

func TestParseMalformedInput(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Error("Parse accepted malformed JSON")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.json")
	content := `{"main": {"calls": ["helper"], "times_called": [2]}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Functions() != 1 {
		t.Errorf("Functions() = %d, want 1", s.Functions())
	}
	if n, ok := s.Expected("main", "helper"); !ok || n != 2 {
		t.Errorf("Expected(main, helper) = (%d, %v), want (2, true)", n, ok)
	}
}
