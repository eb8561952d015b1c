package persist

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("persist: key not found")

// Store is a durable key/value snapshot store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value; a positive ttl removes the key once it elapses.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
}

// Change describes a write observed by a Watcher.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Watcher streams changes made to the store by any writer, including this one.
// The channel closes when ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

const watchBuffer = 64

// MemoryStore keeps snapshots in process memory. Instances that share one
// MemoryStore observe each other's writes through Watch.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string]memoryEntry
	timers   map[string]*time.Timer
	watchers map[int]*memoryWatch
	nextID   int
	now      func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]memoryEntry),
		timers:   make(map[string]*time.Timer),
		watchers: make(map[int]*memoryWatch),
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.data, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	copied := append([]byte(nil), value...)
	m.mu.Lock()
	entry := memoryEntry{value: copied}
	if timer, ok := m.timers[key]; ok {
		timer.Stop()
		delete(m.timers, key)
	}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
		m.timers[key] = time.AfterFunc(ttl, func() { m.expire(key) })
	}
	m.data[key] = entry
	m.notifyLocked(Change{Key: key, Value: copied})
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.data[key]
	delete(m.data, key)
	if timer, ok := m.timers[key]; ok {
		timer.Stop()
		delete(m.timers, key)
	}
	if existed {
		m.notifyLocked(Change{Key: key, Deleted: true})
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) expire(key string) {
	m.mu.Lock()
	_, existed := m.data[key]
	delete(m.data, key)
	delete(m.timers, key)
	if existed {
		m.notifyLocked(Change{Key: key, Deleted: true})
	}
	m.mu.Unlock()
}

// Watch never loses the latest value of a key: while the reader is behind,
// changes to the same key collapse into the newest one.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	w := &memoryWatch{pending: make(map[string]Change), wake: make(chan struct{}, 1)}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = w
	m.mu.Unlock()

	out := make(chan Change)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			}
			for {
				change, ok := w.pop()
				if !ok {
					break
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops pending expiry timers.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, timer := range m.timers {
		timer.Stop()
		delete(m.timers, key)
	}
	return nil
}

// notifyLocked never blocks. Must be called with mu held.
func (m *MemoryStore) notifyLocked(change Change) {
	for _, w := range m.watchers {
		w.push(change)
	}
}

// memoryWatch queues pending changes in first-seen key order, keeping only
// the newest change per key.
type memoryWatch struct {
	mu      sync.Mutex
	pending map[string]Change
	order   []string
	wake    chan struct{}
}

func (w *memoryWatch) push(change Change) {
	w.mu.Lock()
	if _, queued := w.pending[change.Key]; !queued {
		w.order = append(w.order, change.Key)
	}
	w.pending[change.Key] = change
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memoryWatch) pop() (Change, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return Change{}, false
	}
	key := w.order[0]
	w.order = w.order[1:]
	change := w.pending[key]
	delete(w.pending, key)
	return change, true
}
