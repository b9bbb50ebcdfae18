package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends events as NDJSON lines to a single trace file.
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewFileSink opens (or creates) the trace file for appending.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("trace file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &FileSink{f: f}, nil
}

// Emit appends one event line.
func (s *FileSink) Emit(_ context.Context, ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("trace file sink closed")
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("sync trace file: %w", err)
	}
	return s.f.Close()
}
