package syncbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/cartsync/internal/persist"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/google/uuid"
)

const (
	// RelayKeyPrefix marks the short-lived keys the relay writes.
	RelayKeyPrefix  = "device_sync:"
	defaultRelayTTL = 5 * time.Second
)

type relayStore interface {
	persist.Store
	persist.Watcher
}

// Relay carries envelopes through a shared persisted store. Each publish writes
// a fresh key that the store removes after the TTL; watchers of the same store
// decode the write and pass it on.
type Relay struct {
	store relayStore
	ttl   time.Duration
	logg  *logger.Logger
}

// RelayParams configure a Relay.
type RelayParams struct {
	Store  relayStore
	TTL    time.Duration
	Logger *logger.Logger
}

func NewRelay(params RelayParams) (*Relay, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("watchable store required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultRelayTTL
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Relay{store: params.Store, ttl: ttl, logg: logg}, nil
}

func (r *Relay) Publish(ctx context.Context, env Envelope) error {
	raw, err := encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	key := RelayKeyPrefix + uuid.NewString()
	if err := r.store.Set(ctx, key, raw, r.ttl); err != nil {
		return fmt.Errorf("write relay key: %w", err)
	}
	return nil
}

func (r *Relay) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	changes, err := r.store.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch relay store: %w", err)
	}
	out := make(chan Envelope, subscriberBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				if change.Deleted || !strings.HasPrefix(change.Key, RelayKeyPrefix) {
					continue
				}
				env, err := decode(change.Value)
				if err != nil {
					r.logg.WarnErr(ctx, "discarding malformed relay entry", err)
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

// Close is a no-op; pending keys expire on their own.
func (r *Relay) Close() error { return nil }
