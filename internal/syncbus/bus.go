package syncbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Drop reasons reported to metrics.
const (
	dropOwnOrigin  = "own_origin"
	dropStale      = "stale"
	dropDuplicate  = "duplicate"
	dropNoHandler  = "no_handler"
	dropHandlerErr = "handler_error"
)

// Handler applies an envelope from another instance to local state.
type Handler func(ctx context.Context, env Envelope) error

// Publisher is the narrow surface stores use to broadcast their mutations.
type Publisher interface {
	Publish(ctx context.Context, domain Domain, action Action, payload any) error
}

// BusParams configure a Bus.
type BusParams struct {
	Channels []Channel
	Logger   *logger.Logger
	Metrics  *metrics.SyncMetrics
	OriginID string
	Now      func() time.Time
}

// Bus publishes local mutations and merges envelopes from other instances with
// last-writer-wins per domain: an envelope older than the newest one already
// applied or published for its domain is dropped. Ordering beyond wall-clock
// timestamps is not provided.
type Bus struct {
	channels []Channel
	logg     *logger.Logger
	metrics  *metrics.SyncMetrics
	originID string
	now      func() time.Time

	mu       sync.Mutex
	handlers map[Domain][]Handler
	latest   map[Domain]stamp
}

type stamp struct {
	timestamp int64
	originID  string
}

func NewBus(params BusParams) (*Bus, error) {
	if len(params.Channels) == 0 {
		return nil, fmt.Errorf("at least one channel required")
	}
	for _, ch := range params.Channels {
		if ch == nil {
			return nil, fmt.Errorf("nil channel")
		}
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	origin := params.OriginID
	if origin == "" {
		origin = uuid.NewString()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Bus{
		channels: params.Channels,
		logg:     logg,
		metrics:  params.Metrics,
		originID: origin,
		now:      now,
		handlers: make(map[Domain][]Handler),
		latest:   make(map[Domain]stamp),
	}, nil
}

// OriginID identifies this instance on the wire.
func (b *Bus) OriginID() string {
	return b.originID
}

// Handle registers handler for envelopes of domain.
func (b *Bus) Handle(domain Domain, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[domain] = append(b.handlers[domain], handler)
	b.mu.Unlock()
}

// Publish stamps and broadcasts a local mutation on every channel.
func (b *Bus) Publish(ctx context.Context, domain Domain, action Action, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", domain, err)
		}
		raw = encoded
	}
	env := Envelope{
		Domain:    domain,
		Action:    action,
		Payload:   raw,
		Timestamp: b.now().UnixMilli(),
		OriginID:  b.originID,
	}
	if err := env.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	if cur, ok := b.latest[domain]; !ok || env.Timestamp >= cur.timestamp {
		b.latest[domain] = stamp{timestamp: env.Timestamp, originID: env.OriginID}
	}
	b.mu.Unlock()

	var errs error
	for _, ch := range b.channels {
		errs = multierr.Append(errs, ch.Publish(ctx, env))
	}
	if errs != nil {
		return errs
	}
	b.metrics.IncPublished(string(domain))
	return nil
}

// Run subscribes to every channel and dispatches envelopes until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	streams := make([]<-chan Envelope, 0, len(b.channels))
	for _, ch := range b.channels {
		stream, err := ch.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		streams = append(streams, stream)
	}

	var wg sync.WaitGroup
	for _, stream := range streams {
		wg.Add(1)
		go func(stream <-chan Envelope) {
			defer wg.Done()
			for env := range stream {
				b.Deliver(ctx, env)
			}
		}(stream)
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Deliver merges one received envelope. It reports whether handlers ran.
func (b *Bus) Deliver(ctx context.Context, env Envelope) bool {
	if env.OriginID == b.originID {
		b.drop(ctx, env, dropOwnOrigin)
		return false
	}

	b.mu.Lock()
	cur, seen := b.latest[env.Domain]
	switch {
	case seen && env.Timestamp < cur.timestamp:
		b.mu.Unlock()
		b.drop(ctx, env, dropStale)
		return false
	case seen && env.Timestamp == cur.timestamp && env.OriginID == cur.originID:
		b.mu.Unlock()
		b.drop(ctx, env, dropDuplicate)
		return false
	}
	b.latest[env.Domain] = stamp{timestamp: env.Timestamp, originID: env.OriginID}
	handlers := append([]Handler(nil), b.handlers[env.Domain]...)
	b.mu.Unlock()

	if len(handlers) == 0 {
		b.drop(ctx, env, dropNoHandler)
		return false
	}

	logCtx := b.logg.WithDomain(ctx, string(env.Domain))
	logCtx = b.logg.WithOriginID(logCtx, env.OriginID)
	var errs error
	for _, handler := range handlers {
		errs = multierr.Append(errs, handler(logCtx, env))
	}
	if err := errs; err != nil {
		b.logg.Error(logCtx, "apply envelope failed", err)
		b.metrics.IncDropped(dropHandlerErr)
		return false
	}
	b.metrics.IncApplied(string(env.Domain))
	return true
}

func (b *Bus) drop(ctx context.Context, env Envelope, reason string) {
	b.metrics.IncDropped(reason)
	if reason == dropOwnOrigin {
		return
	}
	logCtx := b.logg.WithFields(ctx, map[string]any{
		"domain":    string(env.Domain),
		"origin_id": env.OriginID,
		"reason":    reason,
	})
	b.logg.Debug(logCtx, "envelope dropped")
}
