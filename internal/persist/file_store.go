package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	fileSuffix = ".json"
	tmpSuffix  = ".tmp"
)

// FileStore keeps one file per key under a directory. Processes sharing the
// directory see each other's writes through Watch, the way browser tabs see
// storage events.
type FileStore struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

type fileEntry struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Dir returns the backing directory.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	var entry fileEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if entry.ExpiresAt != nil && !f.now().Before(*entry.ExpiresAt) {
		_ = f.Delete(ctx, key)
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

func (f *FileStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := fileEntry{Value: value}
	if ttl > 0 {
		expiresAt := f.now().Add(ttl)
		entry.ExpiresAt = &expiresAt
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	target := f.path(key)
	tmp, err := os.CreateTemp(f.dir, "."+filepath.Base(target)+"-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit %s: %w", key, err)
	}

	f.mu.Lock()
	if timer, ok := f.timers[key]; ok {
		timer.Stop()
		delete(f.timers, key)
	}
	if ttl > 0 {
		f.timers[key] = time.AfterFunc(ttl, func() {
			f.mu.Lock()
			delete(f.timers, key)
			f.mu.Unlock()
			_ = os.Remove(target)
		})
	}
	f.mu.Unlock()
	return nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	if timer, ok := f.timers[key]; ok {
		timer.Stop()
		delete(f.timers, key)
	}
	f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Watch reports changes to any key in the directory, made by this or another process.
func (f *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", f.dir, err)
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				change, ok := f.changeFor(event)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops pending expiry timers; expired files are still dropped lazily on Get.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, timer := range f.timers {
		timer.Stop()
		delete(f.timers, key)
	}
	return nil
}

func (f *FileStore) changeFor(event fsnotify.Event) (Change, bool) {
	key, ok := keyFromPath(event.Name)
	if !ok {
		return Change{}, false
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return Change{Key: key, Deleted: true}, true
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		value, err := f.Get(context.Background(), key)
		if err != nil {
			return Change{}, false
		}
		return Change{Key: key, Value: value}, true
	default:
		return Change{}, false
	}
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, url.QueryEscape(key)+fileSuffix)
}

func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	key, err := url.QueryUnescape(strings.TrimSuffix(name, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}
