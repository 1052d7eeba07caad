package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/rickgao/cryptodash/internal/model"
)

// ErrUpstreamUnavailable wraps fetch and dial failures. It is retried
// inside the source and only surfaces to clients as a stale marker.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Stream is one running upstream task for a single key.
type Stream interface {
	// Events returns the event channel. It is closed once the producer exits.
	Events() <-chan model.Event

	// Stop cancels the producer and blocks until it has exited.
	// Safe to call more than once.
	Stop()
}

// Source starts streams.
type Source interface {
	Start(ctx context.Context, key model.ChannelKey) (Stream, error)
}

// EmitFunc hands an event to the stream consumer. It blocks while the
// buffer is full and returns false once the stream is stopping.
type EmitFunc func(ev model.Event) bool

// producerStream runs a producer function in its own goroutine.
type producerStream struct {
	events   chan model.Event
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewStream runs produce in its own goroutine and returns its stream.
// The events channel is closed after produce returns.
func NewStream(ctx context.Context, bufferSize int, produce func(ctx context.Context, emit EmitFunc)) Stream {
	return startProducer(ctx, bufferSize, produce)
}

func startProducer(ctx context.Context, bufferSize int, produce func(ctx context.Context, emit EmitFunc)) *producerStream {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &producerStream{
		events: make(chan model.Event, bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	emit := func(ev model.Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(s.done)
		defer close(s.events)
		produce(ctx, emit)
	}()

	return s
}

func (s *producerStream) Events() <-chan model.Event {
	return s.events
}

func (s *producerStream) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}
