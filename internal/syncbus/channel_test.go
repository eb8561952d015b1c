package syncbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePubSub struct {
	published [][]byte
	stream    chan []byte
	closed    chan struct{}
	subErr    error
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{stream: make(chan []byte, 4), closed: make(chan struct{})}
}

func (f *fakePubSub) Publish(_ context.Context, channel string, payload []byte) error {
	if channel != "cartsync-sync" {
		return errors.New("wrong channel")
	}
	f.published = append(f.published, payload)
	return nil
}

func (f *fakePubSub) Subscribe(context.Context, string) (<-chan []byte, func() error, error) {
	if f.subErr != nil {
		return nil, nil, f.subErr
	}
	return f.stream, func() error { close(f.closed); return nil }, nil
}

func TestRedisChannelRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := newFakePubSub()
	ch, err := NewRedisChannel(fake, "cartsync-sync", nil)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	env := Envelope{Domain: DomainPreferences, Action: ActionUpdate, OriginID: "tab-x", Timestamp: 9}
	if err := ch.Publish(ctx, env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fake.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fake.published))
	}

	stream, err := ch.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fake.stream <- []byte("garbage")
	fake.stream <- fake.published[0]

	select {
	case got := <-stream:
		if got.OriginID != "tab-x" || got.Domain != DomainPreferences {
			t.Fatalf("unexpected envelope %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}

	cancel()
	select {
	case <-fake.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed on cancel")
	}
	for range stream {
	}
}

func TestRedisChannelSubscribeError(t *testing.T) {
	fake := newFakePubSub()
	fake.subErr = errors.New("dial tcp: refused")
	ch, err := NewRedisChannel(fake, "cartsync-sync", nil)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if _, err := ch.Subscribe(context.Background()); err == nil {
		t.Fatal("expected subscribe error")
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	stream, err := hub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := hub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-stream; ok {
		t.Fatal("expected closed stream")
	}
	if err := hub.Publish(ctx, Envelope{}); err == nil {
		t.Fatal("publish after close should fail")
	}
}
