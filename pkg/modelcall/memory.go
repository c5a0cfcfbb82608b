package modelcall

import (
	"context"
	"io"
	"sync"

	"github.com/objstreamhq/objstream/pkg/genai"
)

// MemoryStream is an in-memory DeltaStream for tests and library callers
// that already hold the delta sequence.
type MemoryStream struct {
	mu     sync.Mutex
	chunks []*Chunk
	pos    int
	err    error
	closed bool
}

// NewMemoryStream creates a stream that yields the given chunks in order,
// then io.EOF.
func NewMemoryStream(chunks ...*Chunk) *MemoryStream {
	return &MemoryStream{chunks: chunks}
}

// NewTextStream creates a stream of plain text deltas terminated by a Done
// chunk carrying the finish reason and usage.
func NewTextStream(deltas []string, reason genai.FinishReason, usage genai.Usage, meta genai.ResponseMeta) *MemoryStream {
	chunks := make([]*Chunk, 0, len(deltas)+1)
	for _, d := range deltas {
		chunks = append(chunks, &Chunk{Delta: d})
	}
	chunks = append(chunks, &Chunk{
		Done:         true,
		FinishReason: reason,
		Usage:        &usage,
		Response:     &meta,
	})
	return &MemoryStream{chunks: chunks}
}

// FailWith makes the stream return err once its chunks are exhausted,
// instead of io.EOF. Used to simulate a transport failure mid-stream.
func (s *MemoryStream) FailWith(err error) *MemoryStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

func (s *MemoryStream) Next(ctx context.Context) (*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *MemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
