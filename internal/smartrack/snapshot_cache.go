package smartrack

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SnapshotCache holds the last-known per-user links and collections. It has
// no TTL and no explicit invalidation: every successful full fetch overwrites
// it. Readers use it to paint immediately, never to decide correctness.
type SnapshotCache interface {
	Links(userID string) ([]Link, bool, error)
	SaveLinks(userID string, links []Link) error
	Collections(userID string) ([]Collection, bool, error)
	SaveCollections(userID string, collections []Collection) error
	Close() error
}

type memorySnapshotCache struct {
	mu        sync.Mutex
	snapshots map[string]*CachedSnapshot
}

func NewMemorySnapshotCache() SnapshotCache {
	return &memorySnapshotCache{snapshots: map[string]*CachedSnapshot{}}
}

func (c *memorySnapshotCache) Links(userID string) ([]Link, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[userID]
	if !ok || snap.Links == nil {
		return nil, false, nil
	}
	return append([]Link(nil), snap.Links...), true, nil
}

func (c *memorySnapshotCache) SaveLinks(userID string, links []Link) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.ensureLocked(userID)
	snap.Links = append([]Link(nil), links...)
	snap.FetchedAt = time.Now().UTC()
	return nil
}

func (c *memorySnapshotCache) Collections(userID string) ([]Collection, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[userID]
	if !ok || snap.Collections == nil {
		return nil, false, nil
	}
	return append([]Collection(nil), snap.Collections...), true, nil
}

func (c *memorySnapshotCache) SaveCollections(userID string, collections []Collection) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.ensureLocked(userID)
	snap.Collections = append([]Collection(nil), collections...)
	snap.FetchedAt = time.Now().UTC()
	return nil
}

func (c *memorySnapshotCache) ensureLocked(userID string) *CachedSnapshot {
	snap, ok := c.snapshots[userID]
	if !ok {
		snap = &CachedSnapshot{}
		c.snapshots[userID] = snap
	}
	return snap
}

func (c *memorySnapshotCache) Close() error {
	return nil
}

type fileSnapshotCache struct {
	path string
	mu   sync.Mutex
}

type fileSnapshotCacheState struct {
	Users map[string]CachedSnapshot `json:"users"`
}

func NewFileSnapshotCache(path string) (SnapshotCache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	c := &fileSnapshotCache{path: path}
	if _, err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *fileSnapshotCache) Links(userID string) ([]Link, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.load()
	if err != nil {
		return nil, false, err
	}
	snap, ok := state.Users[userID]
	if !ok || snap.Links == nil {
		return nil, false, nil
	}
	return snap.Links, true, nil
}

func (c *fileSnapshotCache) SaveLinks(userID string, links []Link) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.load()
	if err != nil {
		return err
	}
	snap := state.Users[userID]
	snap.Links = append([]Link(nil), links...)
	snap.FetchedAt = time.Now().UTC()
	state.Users[userID] = snap
	return c.save(state)
}

func (c *fileSnapshotCache) Collections(userID string) ([]Collection, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.load()
	if err != nil {
		return nil, false, err
	}
	snap, ok := state.Users[userID]
	if !ok || snap.Collections == nil {
		return nil, false, nil
	}
	return snap.Collections, true, nil
}

func (c *fileSnapshotCache) SaveCollections(userID string, collections []Collection) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.load()
	if err != nil {
		return err
	}
	snap := state.Users[userID]
	snap.Collections = append([]Collection(nil), collections...)
	snap.FetchedAt = time.Now().UTC()
	state.Users[userID] = snap
	return c.save(state)
}

func (c *fileSnapshotCache) Close() error {
	return nil
}

func (c *fileSnapshotCache) load() (fileSnapshotCacheState, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSnapshotCacheState{Users: map[string]CachedSnapshot{}}, nil
		}
		return fileSnapshotCacheState{}, err
	}
	var state fileSnapshotCacheState
	if err := json.Unmarshal(data, &state); err != nil {
		// The cache is a latency hint, not a source of truth. A corrupt
		// file is discarded wholesale.
		return fileSnapshotCacheState{Users: map[string]CachedSnapshot{}}, nil
	}
	if state.Users == nil {
		state.Users = map[string]CachedSnapshot{}
	}
	return state, nil
}

func (c *fileSnapshotCache) save(state fileSnapshotCacheState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
