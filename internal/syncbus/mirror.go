package syncbus

import (
	"context"
	"sync"
)

// ValueMirror keeps the latest whole-value state for a domain that has no
// dedicated store, such as preferences or browsing history.
type ValueMirror[T any] struct {
	domain Domain
	pub    Publisher

	mu    sync.RWMutex
	value T
	set   bool
}

func NewValueMirror[T any](domain Domain, pub Publisher) *ValueMirror[T] {
	return &ValueMirror[T]{domain: domain, pub: pub}
}

// Value returns the current value and whether one has been set.
func (m *ValueMirror[T]) Value() (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, m.set
}

// Set records a local change and broadcasts it.
func (m *ValueMirror[T]) Set(ctx context.Context, value T) error {
	m.mu.Lock()
	m.value = value
	m.set = true
	m.mu.Unlock()
	if m.pub == nil {
		return nil
	}
	return m.pub.Publish(ctx, m.domain, ActionUpdate, value)
}

// Reset clears the value locally and on other instances.
func (m *ValueMirror[T]) Reset(ctx context.Context) error {
	m.clear()
	if m.pub == nil {
		return nil
	}
	return m.pub.Publish(ctx, m.domain, ActionClear, nil)
}

// Apply is a Handler for envelopes of the mirrored domain.
func (m *ValueMirror[T]) Apply(ctx context.Context, env Envelope) error {
	if env.Action == ActionClear {
		m.clear()
		return nil
	}
	var next T
	if err := env.DecodePayload(&next); err != nil {
		return err
	}
	m.mu.Lock()
	m.value = next
	m.set = true
	m.mu.Unlock()
	return nil
}

func (m *ValueMirror[T]) clear() {
	var zero T
	m.mu.Lock()
	m.value = zero
	m.set = false
	m.mu.Unlock()
}
