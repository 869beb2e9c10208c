package llm

import (
	"context"
	"errors"
	"io"
	"sync"
)

// StreamingProvider extends Provider with streaming support.
type StreamingProvider interface {
	Provider
	// StreamMessage sends a request and returns a stream of text chunks.
	// Each call issues a new remote request.
	StreamMessage(ctx context.Context, req *Request) (*Stream, error)
}

// Stream is a finite, forward-only sequence of text chunks. It is pulled by
// the caller one chunk at a time and cannot be restarted:
//
//	for s.Next() {
//		fmt.Print(s.Current())
//	}
//	if err := s.Err(); err != nil { ... }
//
// A Stream is not safe for concurrent use.
type Stream struct {
	next   func() (string, error)
	closer io.Closer

	current string
	err     error
	done    bool

	closeOnce sync.Once
	closeErr  error
}

// NewStream builds a Stream from a chunk source. next returns io.EOF once
// the remote signals completion. closer may be nil.
func NewStream(next func() (string, error), closer io.Closer) *Stream {
	return &Stream{next: next, closer: closer}
}

// FromChunks returns a Stream yielding chunks in order.
func FromChunks(chunks ...string) *Stream {
	i := 0
	return NewStream(func() (string, error) {
		if i >= len(chunks) {
			return "", io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	}, nil)
}

// Next advances to the next chunk. It returns false at the end of the
// stream or on error; the stream is closed at that point.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	chunk, err := s.next()
	if err != nil {
		s.done = true
		s.current = ""
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		if cerr := s.Close(); cerr != nil && s.err == nil {
			s.err = cerr
		}
		return false
	}
	s.current = chunk
	return true
}

// Current returns the chunk produced by the last successful Next.
func (s *Stream) Current() string { return s.current }

// Err returns the first non-EOF error encountered.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying response. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}
