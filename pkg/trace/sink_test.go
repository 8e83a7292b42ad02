package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/callscope/callscope/pkg/snapshot"
)

func sampleRecord(location, state string) Record {
	return Record{
		Location: location,
		State:    state,
		LocalVars: map[string]snapshot.Node{
			"i": snapshot.Scalar("2"),
		},
		GlobalVars: map[string]snapshot.Node{},
		MemberVars: map[string]snapshot.Node{},
		Arguments: map[string]snapshot.Node{
			"argc": snapshot.Scalar("1"),
		},
		Line: 12,
	}
}

func TestSinkAppendsInOrder(t *testing.T) {
	s := NewSink(filepath.Join(t.TempDir(), "output.json"), false)

	s.Append(sampleRecord("main", "before function call of helper"))
	s.Append(sampleRecord("main", "before function return of helper"))

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	recs := s.Records()
	if recs[0].State != "before function call of helper" {
		t.Errorf("record 0 state = %q", recs[0].State)
	}
	if recs[1].State != "before function return of helper" {
		t.Errorf("record 1 state = %q", recs[1].State)
	}
}

func TestSinkFlushShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")
	s := NewSink(path, false)
	s.Append(sampleRecord("main", "before function call of helper"))

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if _, ok := doc["breakpoints"]; !ok {
		t.Error("output lacks the breakpoints key")
	}
	if len(doc) != 1 {
		t.Errorf("output has %d top-level keys, want 1", len(doc))
	}
	if !strings.Contains(string(data), "\n    \"breakpoints\"") {
		t.Error("output is not indented with four spaces")
	}
}

func TestSinkFlushRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")
	s := NewSink(path, false)
	s.Append(sampleRecord("main", "before function call of helper"))

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	doc, err := ReadTrace(path, false)
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(doc.Breakpoints) != 1 {
		t.Fatalf("read %d record(s), want 1", len(doc.Breakpoints))
	}
	rec := doc.Breakpoints[0]
	if rec.Location != "main" || rec.Line != 12 {
		t.Errorf("record = %q line %d, want main line 12", rec.Location, rec.Line)
	}
	if v, ok := rec.LocalVars["i"]; !ok || v.Text() != "2" {
		t.Errorf("local i = %v, want \"2\"", v)
	}
}

func TestSinkFlushCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json.zst")
	s := NewSink(path, true)
	s.Append(sampleRecord("main", "before function call of helper"))

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// The frame must not be readable as plain JSON.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if json.Valid(raw) {
		t.Error("compressed output decoded as plain JSON")
	}

	doc, err := ReadTrace(path, true)
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(doc.Breakpoints) != 1 {
		t.Errorf("read %d record(s), want 1", len(doc.Breakpoints))
	}
}

func TestSinkFlushIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")
	s := NewSink(path, false)
	s.Append(sampleRecord("main", "before function call of helper"))

	if err := s.Flush(); err != nil {
		t.Fatalf("first Flush failed: %v", err)
	}

	// A second flush after success must not rewrite the file.
	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove output: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("second Flush rewrote the output file")
	}
}

func TestSinkEmptyTraceStillWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")
	s := NewSink(path, false)

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	doc, err := ReadTrace(path, false)
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(doc.Breakpoints) != 0 {
		t.Errorf("read %d record(s) from empty trace", len(doc.Breakpoints))
	}
}
