package assemble

import (
	"context"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/modelcall"
)

// ObjectStream is the channel-based view of one assembly run. Events
// arrive on Events in emission order and the channel closes after the
// FinalEvent; Wait blocks until then and returns the terminal result.
type ObjectStream struct {
	events chan Event
	done   chan struct{}
	result *genai.FinalResult
}

// Stream starts an assembly run in its own goroutine and returns the live
// stream. Consumers that only want the final object can call Wait without
// draining Events; the run never blocks on a slow or absent consumer
// beyond the channel buffer, because Wait drains on behalf of the caller.
func (a *Assembler) Stream(ctx context.Context, src modelcall.DeltaStream) *ObjectStream {
	s := &ObjectStream{
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.events)
		s.result = a.Run(ctx, src, func(ev Event) error {
			select {
			case s.events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return s
}

// Events yields the run's delta, partial, and final events in order. The
// channel closes once the terminal event has been delivered.
func (s *ObjectStream) Events() <-chan Event {
	return s.events
}

// Wait drains any unconsumed events and returns the terminal result.
func (s *ObjectStream) Wait() *genai.FinalResult {
	for range s.events {
	}
	<-s.done
	return s.result
}
