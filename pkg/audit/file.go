package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/polisai/polis-dlp/pkg/domain"
)

// WriterSink writes one JSON object per line to an io.Writer. Each record is
// encoded first and written with a single Write under a mutex.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewWriterSink wraps w. Close is a no-op unless w is also an io.Closer
// passed through NewFileSink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// NewFileSink opens path for appending, creating it if needed.
func NewFileSink(path string) (*WriterSink, error) {
	// #nosec G304 -- audit path is operator configuration
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &WriterSink{w: f, c: f}, nil
}

// Append implements Sink.
func (s *WriterSink) Append(ctx context.Context, record domain.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := encodeLine(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	err := s.c.Close()
	s.c = nil
	return err
}

func encodeLine(record domain.AuditRecord) ([]byte, error) {
	line, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode audit record: %w", err)
	}
	return append(line, '\n'), nil
}
