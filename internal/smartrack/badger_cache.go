package smartrack

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

type badgerSnapshotCache struct {
	db  *badger.DB
	log zerolog.Logger
}

// NewBadgerSnapshotCache opens an embedded badger store at dir. Keys follow
// user:{id}:links / user:{id}:collections so one store serves many users.
func NewBadgerSnapshotCache(dir string, log zerolog.Logger) (SnapshotCache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = &badgerLogAdapter{log: log}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache at %s: %w", dir, err)
	}
	return &badgerSnapshotCache{db: db, log: log}, nil
}

func badgerLinksKey(userID string) []byte {
	return []byte(fmt.Sprintf("user:%s:links", userID))
}

func badgerCollectionsKey(userID string) []byte {
	return []byte(fmt.Sprintf("user:%s:collections", userID))
}

type badgerSnapshotValue[T any] struct {
	Items     []T       `json:"items"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func (c *badgerSnapshotCache) Links(userID string) ([]Link, bool, error) {
	return badgerRead[Link](c, badgerLinksKey(userID))
}

func (c *badgerSnapshotCache) SaveLinks(userID string, links []Link) error {
	return badgerWrite(c, userID, badgerLinksKey(userID), links)
}

func (c *badgerSnapshotCache) Collections(userID string) ([]Collection, bool, error) {
	return badgerRead[Collection](c, badgerCollectionsKey(userID))
}

func (c *badgerSnapshotCache) SaveCollections(userID string, collections []Collection) error {
	return badgerWrite(c, userID, badgerCollectionsKey(userID), collections)
}

func (c *badgerSnapshotCache) Close() error {
	return c.db.Close()
}

func badgerRead[T any](c *badgerSnapshotCache, key []byte) ([]T, bool, error) {
	var value badgerSnapshotValue[T]
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &value); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return value.Items, true, nil
}

func badgerWrite[T any](c *badgerSnapshotCache, userID string, key []byte, items []T) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	value := badgerSnapshotValue[T]{
		Items:     append([]T(nil), items...),
		FetchedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

type badgerLogAdapter struct {
	log zerolog.Logger
}

func (a *badgerLogAdapter) Errorf(f string, v ...interface{}) {
	a.log.Error().Msgf(strings.TrimSpace(f), v...)
}

func (a *badgerLogAdapter) Warningf(f string, v ...interface{}) {
	a.log.Warn().Msgf(strings.TrimSpace(f), v...)
}

func (a *badgerLogAdapter) Infof(f string, v ...interface{}) {
	a.log.Debug().Msgf(strings.TrimSpace(f), v...)
}

func (a *badgerLogAdapter) Debugf(f string, v ...interface{}) {
	a.log.Debug().Msgf(strings.TrimSpace(f), v...)
}
