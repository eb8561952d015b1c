package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrFutureVersion means the stored snapshot was written by a newer schema.
var ErrFutureVersion = errors.New("persist: snapshot version is newer than supported")

// Migration rewrites the raw state object from version N to N+1.
type Migration func(state json.RawMessage) (json.RawMessage, error)

// NoopMigration keeps the state unchanged.
func NoopMigration(state json.RawMessage) (json.RawMessage, error) {
	return state, nil
}

type document struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
	Writer  string          `json:"writer,omitempty"`
}

type itemsState[T any] struct {
	Items []T `json:"items"`
}

// Snapshot persists a versioned {state: {items}, version} document under one key.
// Only items are stored; transient UI flags never reach the store. Each
// Snapshot stamps its writes with its own writer id so watchers can tell them
// apart from writes made by other instances.
type Snapshot[T any] struct {
	store      Store
	key        string
	version    int
	migrations map[int]Migration
	writer     string
}

// NewSnapshot binds a snapshot to key at the current schema version. migrations
// is keyed by the version a step migrates from.
func NewSnapshot[T any](store Store, key string, version int, migrations map[int]Migration) *Snapshot[T] {
	if migrations == nil {
		migrations = map[int]Migration{}
	}
	return &Snapshot[T]{store: store, key: key, version: version, migrations: migrations, writer: uuid.NewString()}
}

func (s *Snapshot[T]) Key() string {
	return s.key
}

func (s *Snapshot[T]) Version() int {
	return s.version
}

// Load returns the stored items, migrating older documents first. A missing key
// yields an empty list.
func (s *Snapshot[T]) Load(ctx context.Context) ([]T, error) {
	raw, err := s.store.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []T{}, nil
		}
		return nil, err
	}
	return s.Decode(raw)
}

// WrittenBySelf reports whether raw was stored by this Snapshot's Save.
func (s *Snapshot[T]) WrittenBySelf(raw []byte) bool {
	var doc struct {
		Writer string `json:"writer"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	return doc.Writer == s.writer
}

// Decode parses and migrates a raw document, e.g. one delivered by a Watcher.
func (s *Snapshot[T]) Decode(raw []byte) ([]T, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.key, err)
	}
	if doc.Version > s.version {
		return nil, fmt.Errorf("%w: %s at v%d, supported v%d", ErrFutureVersion, s.key, doc.Version, s.version)
	}

	state := doc.State
	for v := doc.Version; v < s.version; v++ {
		migrate, ok := s.migrations[v]
		if !ok {
			continue
		}
		next, err := migrate(state)
		if err != nil {
			return nil, fmt.Errorf("migrate snapshot %s from v%d: %w", s.key, v, err)
		}
		state = next
	}

	parsed := itemsState[T]{}
	if len(state) > 0 && string(state) != "null" {
		if err := json.Unmarshal(state, &parsed); err != nil {
			return nil, fmt.Errorf("decode snapshot %s state: %w", s.key, err)
		}
	}
	if parsed.Items == nil {
		parsed.Items = []T{}
	}
	return parsed.Items, nil
}

// Save writes items at the current version.
func (s *Snapshot[T]) Save(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	state, err := json.Marshal(itemsState[T]{Items: items})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", s.key, err)
	}
	raw, err := json.Marshal(document{State: state, Version: s.version, Writer: s.writer})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", s.key, err)
	}
	return s.store.Set(ctx, s.key, raw, 0)
}

// Clear removes the stored document.
func (s *Snapshot[T]) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, s.key)
}
