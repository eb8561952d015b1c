package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/shopspring/decimal"
)

// EventAddToCart is emitted after a successful cart add.
const EventAddToCart = "add_to_cart"

// Event is a storefront analytics event.
type Event struct {
	Name       string          `json:"name"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Value      decimal.Decimal `json:"value"`
	SessionID  string          `json:"session_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Emitter records events. Failures never affect the calling operation.
type Emitter interface {
	Track(ctx context.Context, event Event)
}

// LogEmitter writes events to the structured log.
type LogEmitter struct {
	logg *logger.Logger
}

func NewLogEmitter(logg *logger.Logger) *LogEmitter {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogEmitter{logg: logg}
}

func (e *LogEmitter) Track(ctx context.Context, event Event) {
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"event":      event.Name,
		"product_id": event.ProductID,
		"quantity":   event.Quantity,
		"value":      event.Value.StringFixed(2),
	})
	e.logg.Info(logCtx, "analytics event")
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// PubSubEmitter publishes events as JSON messages on a Pub/Sub topic.
type PubSubEmitter struct {
	pub     publisher
	logg    *logger.Logger
	timeout time.Duration
}

const defaultPublishTimeout = 5 * time.Second

func NewPubSubEmitter(p *gcppubsub.Publisher, logg *logger.Logger) (*PubSubEmitter, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return newPubSubEmitter(&gcpPublisher{Publisher: p}, logg), nil
}

func newPubSubEmitter(pub publisher, logg *logger.Logger) *PubSubEmitter {
	if logg == nil {
		logg = logger.Nop()
	}
	return &PubSubEmitter{pub: pub, logg: logg, timeout: defaultPublishTimeout}
}

func (e *PubSubEmitter) Track(ctx context.Context, event Event) {
	if err := e.publish(ctx, event); err != nil {
		logCtx := e.logg.WithField(ctx, "event", event.Name)
		e.logg.WarnErr(logCtx, "analytics publish failed", err)
	}
}

func (e *PubSubEmitter) publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	result := e.pub.Publish(ctx, &gcppubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": event.Name},
	})
	if result == nil {
		return errors.New("publish result is nil")
	}
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", event.Name, err)
	}
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}

// Nop discards events.
type Nop struct{}

func (Nop) Track(context.Context, Event) {}
