package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Envelope carries a frame to a participant connected to another instance.
type Envelope struct {
	Target string `json:"target"`
	From   string `json:"from,omitempty"`
	CallID string `json:"callId,omitempty"`
	Origin string `json:"origin"` // instance id of the publisher
	Frame  Frame  `json:"frame"`
}

// Broker fans envelopes out to every relay instance.
// Consume blocks until ctx is done or the broker is closed.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Consume(ctx context.Context, handle func(Envelope)) error
	Close() error
}

// Presence tells which participants are connected to any instance.
type Presence interface {
	Mark(ctx context.Context, participantID string) error
	Clear(ctx context.Context, participantID string) error
	Online(ctx context.Context, participantID string) (bool, error)
}

// ChannelBroker is an in-process Broker: every consumer receives every envelope.
// It lets several relays in one process reach each other without Kafka.
type ChannelBroker struct {
	mu      sync.RWMutex
	subs    map[int]chan Envelope
	next    int
	closed  bool
	bufSize int
}

func NewChannelBroker(bufSize int) *ChannelBroker {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &ChannelBroker{subs: make(map[int]chan Envelope), bufSize: bufSize}
}

// Publish never blocks: a consumer whose buffer is full misses the envelope.
func (b *ChannelBroker) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return context.Canceled
	}
	for id, ch := range b.subs {
		select {
		case ch <- env:
		default:
			zap.L().Warn("channel broker consumer full, dropping envelope",
				zap.Int("consumer", id), zap.String("target", env.Target), zap.String("event", env.Frame.Event))
		}
	}
	return ctx.Err()
}

func (b *ChannelBroker) Consume(ctx context.Context, handle func(Envelope)) error {
	ch, unsubscribe := b.subscribe()
	if ch == nil {
		return nil
	}
	defer unsubscribe()
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			handle(env)
		case <-ctx.Done():
			return nil
		}
	}
}

// Subscribers is the number of running consumers.
func (b *ChannelBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *ChannelBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	return nil
}

func (b *ChannelBroker) subscribe() (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil
	}
	id := b.next
	b.next++
	ch := make(chan Envelope, b.bufSize)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}
