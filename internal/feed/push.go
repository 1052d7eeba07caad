package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/cryptodash/internal/model"
)

// PushSource is an in-process broker for events produced by asynchronous
// collaborators such as a strategy engine or an order service.
type PushSource struct {
	bufferSize int
	logger     *slog.Logger

	mu      sync.RWMutex
	streams map[model.ChannelKey]map[*pushStream]struct{}
}

type pushStream struct {
	*producerStream
	inbox chan model.Event
}

// NewPushSource creates an empty push broker.
func NewPushSource(bufferSize int, logger *slog.Logger) *PushSource {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &PushSource{
		bufferSize: bufferSize,
		logger:     logger,
		streams:    make(map[model.ChannelKey]map[*pushStream]struct{}),
	}
}

// Start registers a stream that receives every event published for key.
func (p *PushSource) Start(ctx context.Context, key model.ChannelKey) (Stream, error) {
	ps := &pushStream{inbox: make(chan model.Event, p.bufferSize)}

	// Registration completes before the producer can deregister.
	p.mu.Lock()
	defer p.mu.Unlock()

	ps.producerStream = startProducer(ctx, p.bufferSize, func(ctx context.Context, emit EmitFunc) {
		defer p.remove(key, ps)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ps.inbox:
				if !emit(ev) {
					return
				}
			}
		}
	})

	set, ok := p.streams[key]
	if !ok {
		set = make(map[*pushStream]struct{})
		p.streams[key] = set
	}
	set[ps] = struct{}{}

	return ps, nil
}

// Publish delivers ev to every running stream for its key. It returns the
// number of streams that accepted the event; zero means nobody subscribed.
// Publish blocks while a stream's inbox is full.
func (p *PushSource) Publish(ctx context.Context, ev model.Event) int {
	key := ev.Key()

	p.mu.RLock()
	targets := make([]*pushStream, 0, len(p.streams[key]))
	for ps := range p.streams[key] {
		targets = append(targets, ps)
	}
	p.mu.RUnlock()

	delivered := 0
	for _, ps := range targets {
		select {
		case ps.inbox <- ev:
			delivered++
		case <-ps.done:
		case <-ctx.Done():
			return delivered
		}
	}
	return delivered
}

// Active reports whether any stream is running for key.
func (p *PushSource) Active(key model.ChannelKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.streams[key]) > 0
}

func (p *PushSource) remove(key model.ChannelKey, ps *pushStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.streams[key]
	delete(set, ps)
	if len(set) == 0 {
		delete(p.streams, key)
	}
}
