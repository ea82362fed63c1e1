package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrFinalized marks a write attempted after the capture was closed. Peers
// stream in real time, so audio frames are routinely still in flight when
// the gateway finalizes a capture; callers drop those writes instead of
// treating them as I/O failures.
var ErrFinalized = errors.New("capture already finalized")

// Sink is a per-session append-only capture target backed by a file.
// Exactly one session owns a sink; writes are append-only with no seek,
// and Finalize closes the file exactly once.
type Sink struct {
	path string

	mu        sync.Mutex
	file      *os.File
	written   int64
	finalized bool
	finalErr  error
}

// NewSink creates the capture file. Failure to create the target is fatal
// to the owning session only, never to the process.
func NewSink(path string) (*Sink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %s: %w", path, err)
	}

	return &Sink{path: path, file: file}, nil
}

// Write appends bytes to the capture stream.
func (s *Sink) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return fmt.Errorf("capture %s: %w", s.path, ErrFinalized)
	}

	n, err := s.file.Write(data)
	s.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append to capture %s: %w", s.path, err)
	}

	return nil
}

// Finalize closes the capture stream. It is safe to call more than once;
// only the first call closes the file, later calls return the first result.
// A sink with zero writes finalizes cleanly.
func (s *Sink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return s.finalErr
	}
	s.finalized = true

	if err := s.file.Close(); err != nil {
		s.finalErr = fmt.Errorf("failed to close capture %s: %w", s.path, err)
	}

	return s.finalErr
}

// Finalized reports whether the sink has been closed.
func (s *Sink) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Path returns the capture file path.
func (s *Sink) Path() string {
	return s.path
}

// BytesWritten returns the number of bytes appended so far.
func (s *Sink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
