package smartrack

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type PendingQueueFactory func(dsn string, capacity int, log zerolog.Logger) (PendingQueue, error)
type SnapshotCacheFactory func(dsn string, log zerolog.Logger) (SnapshotCache, error)

var storeFactoryRegistry = struct {
	mu             sync.RWMutex
	queueFactories map[string]PendingQueueFactory
	cacheFactories map[string]SnapshotCacheFactory
}{
	queueFactories: map[string]PendingQueueFactory{},
	cacheFactories: map[string]SnapshotCacheFactory{},
}

func RegisterPendingQueueFactory(scheme string, factory PendingQueueFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.queueFactories[scheme] = factory
}

func RegisterSnapshotCacheFactory(scheme string, factory SnapshotCacheFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.cacheFactories[scheme] = factory
}

func lookupPendingQueueFactory(scheme string) (PendingQueueFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.queueFactories[scheme]
	return factory, ok
}

func lookupSnapshotCacheFactory(scheme string) (SnapshotCacheFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.cacheFactories[scheme]
	return factory, ok
}

func BuildPendingQueueFromDSN(dsn string, capacity int, log zerolog.Logger) (PendingQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupPendingQueueFactory(scheme); ok {
		return factory(dsn, capacity, log)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFilePendingQueue(path, capacity, log)
	case "memory", "mem", "inmem":
		return NewMemoryPendingQueue(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresPendingQueue(dsn, capacity)
	case "redis", "rediss", "nats", "sqs":
		return nil, fmt.Errorf("%w: pending queue backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported pending queue scheme: %s", scheme)
	}
}

func BuildSnapshotCacheFromDSN(dsn string, log zerolog.Logger) (SnapshotCache, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupSnapshotCacheFactory(scheme); ok {
		return factory(dsn, log)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileSnapshotCache(path)
	case "memory", "mem", "inmem":
		return NewMemorySnapshotCache(), nil
	case "badger":
		dir, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewBadgerSnapshotCache(dir, log)
	default:
		return nil, fmt.Errorf("unsupported snapshot cache scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if host := strings.TrimSpace(parsed.Host); host != "" {
		// url.Parse reads the first segment of a relative path as the
		// host; stitch it back so file://.smartrack/queue.json resolves
		// to .smartrack/queue.json rather than /queue.json.
		path = host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

// QueueFilePath reports the on-disk file a queue DSN resolves to, so callers
// (e.g. an fsnotify watcher) observe the same file the queue writes. The
// second return is false for non-file backends.
func QueueFilePath(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", false
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", false
	}
	switch normalizeStoreScheme(parsed.Scheme) {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return "", false
		}
		return path, true
	default:
		return "", false
	}
}

func normalizeStoreScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
