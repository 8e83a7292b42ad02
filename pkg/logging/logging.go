package logging

import (
	"io"
	"log"
	"os"

	"github.com/mattn/go-isatty"
)

// Logger writes a full debug log to a file and echoes the notable
// lines to the console when stdout is a terminal.
type Logger struct {
	file    *log.Logger
	console *log.Logger
	debug   bool
	closer  io.Closer
}

// New creates a logger writing to the given file path. The file is
// truncated per run. Debug lines reach the console only when debug is
// set; the file always gets everything.
func New(path string, debug bool) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	l := &Logger{
		file:   log.New(f, "", log.LstdFlags|log.Lmicroseconds),
		debug:  debug,
		closer: f,
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		l.console = log.New(os.Stdout, "", 0)
	}
	return l, nil
}

// Discard returns a logger that drops everything. Used as the default
// when no log file is configured and in tests.
func Discard() *Logger {
	return &Logger{file: log.New(io.Discard, "", 0)}
}

// Debugf logs a debug-level line
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.file.Printf("DEBUG - "+format, args...)
	if l.debug && l.console != nil {
		l.console.Printf("DEBUG - "+format, args...)
	}
}

// Infof logs an info-level line
func (l *Logger) Infof(format string, args ...interface{}) {
	l.file.Printf("INFO - "+format, args...)
	if l.console != nil {
		l.console.Printf("INFO - "+format, args...)
	}
}

// Errorf logs an error-level line
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.file.Printf("ERROR - "+format, args...)
	if l.console != nil {
		l.console.Printf("ERROR - "+format, args...)
	}
}

// Close releases the underlying log file
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
