package syncbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type capturePublisher struct {
	domain  Domain
	action  Action
	payload any
}

func (c *capturePublisher) Publish(_ context.Context, domain Domain, action Action, payload any) error {
	c.domain, c.action, c.payload = domain, action, payload
	return nil
}

func TestValueMirrorSetAndApply(t *testing.T) {
	pub := &capturePublisher{}
	history := NewValueMirror[[]string](DomainHistory, pub)
	ctx := context.Background()

	if _, ok := history.Value(); ok {
		t.Fatal("expected unset mirror")
	}
	if err := history.Set(ctx, []string{"p1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if pub.domain != DomainHistory || pub.action != ActionUpdate {
		t.Fatalf("unexpected publish %s/%s", pub.domain, pub.action)
	}

	err := history.Apply(ctx, Envelope{
		Domain:   DomainHistory,
		Action:   ActionUpdate,
		Payload:  json.RawMessage(`["p2","p3"]`),
		OriginID: "tab-b",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, ok := history.Value()
	if !ok {
		t.Fatal("expected value")
	}
	if diff := cmp.Diff([]string{"p2", "p3"}, got); diff != "" {
		t.Fatalf("value mismatch (-want +got):\n%s", diff)
	}

	if err := history.Apply(ctx, Envelope{Domain: DomainHistory, Action: ActionClear, OriginID: "tab-b"}); err != nil {
		t.Fatalf("apply clear: %v", err)
	}
	if _, ok := history.Value(); ok {
		t.Fatal("expected cleared mirror")
	}
}

func TestValueMirrorResetPublishesClear(t *testing.T) {
	pub := &capturePublisher{}
	prefs := NewValueMirror[map[string]string](DomainPreferences, pub)
	if err := prefs.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if pub.action != ActionClear || pub.payload != nil {
		t.Fatalf("unexpected publish %s %v", pub.action, pub.payload)
	}
}
