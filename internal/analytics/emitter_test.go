package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return "msg-1", r.err }

type fakePublisher struct {
	msgs []*gcppubsub.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.msgs = append(f.msgs, msg)
	return fakeResult{err: f.err}
}

func TestPubSubEmitterPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	emitter := newPubSubEmitter(pub, nil)
	emitter.Track(context.Background(), Event{
		Name:       EventAddToCart,
		ProductID:  "p1",
		Quantity:   2,
		UnitPrice:  decimal.NewFromInt(20),
		Value:      decimal.NewFromInt(40),
		OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if len(pub.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Attributes["event"] != EventAddToCart {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	var decoded map[string]any
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["product_id"] != "p1" || decoded["value"] != "40" {
		t.Fatalf("unexpected payload %v", decoded)
	}
}

func TestPubSubEmitterSwallowsFailures(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: &buf})
	emitter := newPubSubEmitter(&fakePublisher{err: errors.New("topic gone")}, logg)
	emitter.Track(context.Background(), Event{Name: EventAddToCart})
	if !strings.Contains(buf.String(), "analytics publish failed") {
		t.Fatalf("expected warning log, got %s", buf.String())
	}
}

func TestLogEmitterWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	NewLogEmitter(logg).Track(context.Background(), Event{Name: EventAddToCart, ProductID: "p9", Value: decimal.RequireFromString("12.5")})
	out := buf.String()
	if !strings.Contains(out, `"product_id":"p9"`) || !strings.Contains(out, `"value":"12.50"`) {
		t.Fatalf("unexpected log line %s", out)
	}
}

func TestNewPubSubEmitterRequiresPublisher(t *testing.T) {
	if _, err := NewPubSubEmitter(nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
