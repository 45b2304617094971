package sdk

import (
	"context"
	"sync"
)

// Stream is an iterator over the events of one session.
// Usage:
//
//	stream, err := opener.Open(ctx, prompt, opts)
//	if err != nil {
//	    // handle error
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    event := stream.Current()
//	    // handle event
//	}
//	if err := stream.Err(); err != nil {
//	    // handle error
//	}
type Stream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

// Opener starts sessions.
type Opener interface {
	Open(ctx context.Context, prompt string, opts Options) (Stream, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, prompt string, opts Options) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, prompt string, opts Options) (Stream, error) {
	return f(ctx, prompt, opts)
}

// DefaultBufferSize is the channel buffer size used by Produce.
const DefaultBufferSize = 64

// EventStream is a channel-backed Stream fed by a producer goroutine.
type EventStream struct {
	events  chan Event
	current Event
	done    bool
	cancel  context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// Produce runs produce in a new goroutine and returns a stream over the
// events it emits. emit blocks while the buffer is full and returns false
// once the stream has been closed, at which point produce should return.
// The error returned by produce is reported by Err.
func Produce(ctx context.Context, bufSize int, produce func(ctx context.Context, emit func(Event) bool) error) *EventStream {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &EventStream{
		events: make(chan Event, bufSize),
		cancel: cancel,
	}

	emit := func(e Event) bool {
		select {
		case s.events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(s.events)
		if err := produce(ctx, emit); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	return s
}

// Next advances to the next event. Returns false when the stream is exhausted.
func (s *EventStream) Next() bool {
	if s.done {
		return false
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		return false
	}
	s.current = event
	return true
}

// Current returns the most recent event returned by Next.
func (s *EventStream) Current() Event {
	return s.current
}

// Err returns the error the producer finished with, if any. It is only
// meaningful after Next has returned false.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer and waits for it to finish. Events not yet read
// are discarded.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.events {
		}
		s.done = true
	})
	return nil
}
