package smartrack

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultQueueCapacity = 100

// PendingQueue is the durable store for buffered save operations. Drain is
// read-only; removal happens through Replace, which carries the version token
// returned by the paired Drain and fails with ErrQueueStale if the store
// changed in between. A stale Replace loses nothing: the caller drops its
// result and the next cycle re-drains.
type PendingQueue interface {
	Enqueue(op PendingSave) error
	Drain() ([]PendingSave, uint64, error)
	Replace(remaining []PendingSave, version uint64) error
	Depth() int
	Capacity() int
	Close() error
}

type memoryPendingQueue struct {
	mu       sync.Mutex
	capacity int
	version  uint64
	items    []PendingSave
}

func NewMemoryPendingQueue(capacity int) PendingQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &memoryPendingQueue{capacity: capacity}
}

func (q *memoryPendingQueue) Enqueue(op PendingSave) error {
	if strings.TrimSpace(op.Payload.URL) == "" {
		return ErrInvalidInput
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, op)
	q.version++
	return nil
}

func (q *memoryPendingQueue) Drain() ([]PendingSave, uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingSave(nil), q.items...), q.version, nil
}

func (q *memoryPendingQueue) Replace(remaining []PendingSave, version uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if version != q.version {
		return ErrQueueStale
	}
	q.items = append([]PendingSave(nil), remaining...)
	q.version++
	return nil
}

func (q *memoryPendingQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *memoryPendingQueue) Capacity() int {
	return q.capacity
}

func (q *memoryPendingQueue) Close() error {
	return nil
}

type filePendingQueue struct {
	path     string
	capacity int
	mu       sync.Mutex
	log      zerolog.Logger
}

type filePendingQueueState struct {
	Version uint64        `json:"version"`
	Items   []PendingSave `json:"items"`
}

// NewFilePendingQueue opens (or creates) a JSON-file-backed queue. The file
// is re-read on every operation so enqueues from another process (the capture
// CLI) and drains from the agent see one consistent store; the persisted
// version number is the compare-and-swap token.
func NewFilePendingQueue(path string, capacity int, log zerolog.Logger) (PendingQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &filePendingQueue{path: path, capacity: capacity, log: log}
	if _, err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *filePendingQueue) Enqueue(op PendingSave) error {
	if strings.TrimSpace(op.Payload.URL) == "" {
		return ErrInvalidInput
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load()
	if err != nil {
		return err
	}
	if len(state.Items) >= q.capacity {
		state.Items = state.Items[1:]
	}
	state.Items = append(state.Items, op)
	state.Version++
	return q.save(state)
}

func (q *filePendingQueue) Drain() ([]PendingSave, uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load()
	if err != nil {
		return nil, 0, err
	}
	return state.Items, state.Version, nil
}

func (q *filePendingQueue) Replace(remaining []PendingSave, version uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load()
	if err != nil {
		return err
	}
	if state.Version != version {
		return ErrQueueStale
	}
	state.Items = append([]PendingSave(nil), remaining...)
	state.Version++
	return q.save(state)
}

func (q *filePendingQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load()
	if err != nil {
		return 0
	}
	return len(state.Items)
}

func (q *filePendingQueue) Capacity() int {
	return q.capacity
}

func (q *filePendingQueue) Close() error {
	return nil
}

func (q *filePendingQueue) load() (filePendingQueueState, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return filePendingQueueState{Items: []PendingSave{}}, nil
		}
		return filePendingQueueState{}, err
	}
	if err := ValidateQueueFile(data); err != nil {
		// A corrupt queue file must not take the background agent down.
		// Reset to a safe empty store and keep going.
		q.log.Error().Err(err).Str("path", q.path).Msg("pending queue file failed validation, resetting")
		reset := filePendingQueueState{Items: []PendingSave{}}
		if saveErr := q.save(reset); saveErr != nil {
			return filePendingQueueState{}, saveErr
		}
		return reset, nil
	}
	var state filePendingQueueState
	if err := json.Unmarshal(data, &state); err != nil {
		q.log.Error().Err(err).Str("path", q.path).Msg("pending queue file unreadable, resetting")
		reset := filePendingQueueState{Items: []PendingSave{}}
		if saveErr := q.save(reset); saveErr != nil {
			return filePendingQueueState{}, saveErr
		}
		return reset, nil
	}
	if state.Items == nil {
		state.Items = []PendingSave{}
	}
	if len(state.Items) > q.capacity {
		state.Items = append([]PendingSave(nil), state.Items[len(state.Items)-q.capacity:]...)
		state.Version++
		if err := q.save(state); err != nil {
			return filePendingQueueState{}, err
		}
	}
	return state, nil
}

func (q *filePendingQueue) save(state filePendingQueueState) error {
	if state.Items == nil {
		state.Items = []PendingSave{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
