package trace

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Sink accumulates capture records in order and persists them exactly
// once, on target-process exit. Partial traces are never flushed.
type Sink struct {
	path     string
	compress bool
	trace    Trace
	flushed  bool
}

// NewSink returns a sink that will write to path on Flush. When
// compress is set the document is zstd-framed.
func NewSink(path string, compress bool) *Sink {
	return &Sink{path: path, compress: compress}
}

// Append adds a record; insertion order is capture order
func (s *Sink) Append(r Record) {
	s.trace.Breakpoints = append(s.trace.Breakpoints, r)
}

// Len returns the number of records accumulated so far
func (s *Sink) Len() int {
	return len(s.trace.Breakpoints)
}

// Records returns the accumulated records in capture order
func (s *Sink) Records() []Record {
	return s.trace.Breakpoints
}

// Flush serializes the accumulated trace to the configured path. It is
// the single serialization point of a run; repeated calls after a
// successful flush are no-ops.
func (s *Sink) Flush() error {
	if s.flushed {
		return nil
	}

	data, err := json.MarshalIndent(&s.trace, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode trace: %v", err)
	}

	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %v", err)
		}
		data = enc.EncodeAll(data, make([]byte, 0, len(data)))
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to close zstd writer: %v", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trace %s: %v", s.path, err)
	}
	s.flushed = true
	return nil
}

// ReadTrace loads a persisted trace document, decompressing when the
// sink that produced it was configured for compression.
func ReadTrace(path string, compressed bool) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %v", path, err)
	}

	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %v", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress trace %s: %v", path, err)
		}
	}

	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode trace %s: %v", path, err)
	}
	return &t, nil
}
