package syncbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/cartsync/pkg/logger"
)

// Channel carries envelopes between instances. Subscribers also receive
// envelopes published through the same channel; the Bus filters those by origin.
type Channel interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe streams envelopes until ctx is done or the channel is closed.
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	Close() error
}

const subscriberBuffer = 128

// Hub is an in-process Channel shared by instances in the same process.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Envelope
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Envelope)}
}

// Publish never blocks; a subscriber with a full buffer misses the envelope.
func (h *Hub) Publish(ctx context.Context, env Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("hub closed")
	}
	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("hub closed")
	}
	ch := make(chan Envelope, subscriberBuffer)
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}()
	return ch, nil
}

// Close ends every subscription. Subscription goroutines still exit on their
// own ctx.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}

type redisPubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// RedisChannel broadcasts envelopes over a redis pub/sub channel so instances
// in separate processes on the same device converge.
type RedisChannel struct {
	client redisPubSub
	name   string
	logg   *logger.Logger
}

func NewRedisChannel(client redisPubSub, name string, logg *logger.Logger) (*RedisChannel, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if name == "" {
		return nil, fmt.Errorf("channel name required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisChannel{client: client, name: name, logg: logg}, nil
}

func (r *RedisChannel) Publish(ctx context.Context, env Envelope) error {
	raw, err := encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.name, raw); err != nil {
		return fmt.Errorf("publish %s: %w", r.name, err)
	}
	return nil
}

func (r *RedisChannel) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	messages, closeFn, err := r.client.Subscribe(ctx, r.name)
	if err != nil {
		return nil, err
	}
	out := make(chan Envelope, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := closeFn(); err != nil {
				r.logg.WarnErr(ctx, "close redis subscription", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-messages:
				if !ok {
					return
				}
				env, err := decode(raw)
				if err != nil {
					r.logg.WarnErr(ctx, "discarding malformed envelope", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the redis client is owned by the caller.
func (r *RedisChannel) Close() error { return nil }
