// Package warnings implements the best-effort warnings sink spec §7 and §9
// describe: recoverable errors (LabelAmbiguous, LabelUnreachable,
// OversizeFile) are routed here instead of aborting the pipeline. Grounded
// on original_source/main.py's WarningsCollector (stderr plus an optional
// buffered file) and the teacher's own logrus.Warnf call sites.
package warnings

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Sink accepts a formatted warning line. Implementations must never
// return an error to the caller; sink failures are themselves logged by
// the implementation, not propagated, matching the "best-effort" policy
// in spec §7.
type Sink interface {
	Warnf(format string, args ...interface{})
}

// LogrusSink routes warnings through a *logrus.Logger at Warn level. It is
// the default sink, mirroring WarningsCollector's to_stderr=True default.
type LogrusSink struct {
	Logger *logrus.Logger
}

func (s *LogrusSink) Warnf(format string, args ...interface{}) {
	s.Logger.Warnf(format, args...)
}

// FileTeeSink wraps an inner Sink and additionally buffers every warning
// line for a final flush to path, mirroring WarningsCollector's to_file
// option: lines accumulate in memory and are written once, on Close, not
// incrementally.
type FileTeeSink struct {
	inner Sink
	path  string
	lines []string
}

// NewFileTeeSink tees every warning to inner and buffers it for a later
// write to path.
func NewFileTeeSink(inner Sink, path string) *FileTeeSink {
	return &FileTeeSink{inner: inner, path: path}
}

func (s *FileTeeSink) Warnf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	s.lines = append(s.lines, line)
	if s.inner != nil {
		s.inner.Warnf("%s", line)
	}
}

// Close appends every buffered line to the configured file, one per line,
// creating the file if it does not exist.
func (s *FileTeeSink) Close() error {
	if s.path == "" {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening warnings log %s: %w", s.path, err)
	}
	defer f.Close()
	for _, line := range s.lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}
