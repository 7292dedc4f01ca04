// Package monitoring holds the process-wide diagnostic log hook used by every
// radar package, plus a rotating file sink for long rides.
package monitoring

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// FileOptions controls log file rotation.
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Tee also copies every line to stderr.
	Tee bool
}

// DefaultFileOptions keeps a week of compressed logs.
func DefaultFileOptions() FileOptions {
	return FileOptions{MaxSizeMB: 32, MaxBackups: 5, MaxAgeDays: 7, Compress: true, Tee: true}
}

// NewFileLogger returns a logger writing to a rotating file at path, along
// with the closer for the underlying file.
func NewFileLogger(path string, opts FileOptions) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	var out io.Writer = w
	if opts.Tee {
		out = io.MultiWriter(w, os.Stderr)
	}
	return log.New(out, "", log.LstdFlags|log.Lmicroseconds), w, nil
}

// UseFile routes Logf to a rotating file and returns its closer.
func UseFile(path string, opts FileOptions) (io.Closer, error) {
	l, c, err := NewFileLogger(path, opts)
	if err != nil {
		return nil, err
	}
	SetLogger(l.Printf)
	return c, nil
}
