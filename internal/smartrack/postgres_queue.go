package smartrack

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresQueueTableName = "smartrack_pending_saves"
	postgresQueueMetaTable = "smartrack_pending_saves_meta"
	postgresQueueKey       = "default"
	postgresOpTimeout      = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type postgresPendingQueue struct {
	dsn      string
	queueKey string
	capacity int
	openDB   sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresPendingQueue(dsn string, capacity int) (PendingQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &postgresPendingQueue{
		dsn:      dsn,
		queueKey: postgresQueueKey,
		capacity: capacity,
		openDB:   sql.Open,
	}, nil
}

func (q *postgresPendingQueue) ensureReady() error {
	if q == nil {
		return ErrInvalidInput
	}
	q.initOnce.Do(func() {
		db, err := q.openDB("postgres", q.dsn)
		if err != nil {
			q.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOpTimeout)
		defer cancel()

		itemsTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				queue_key TEXT NOT NULL,
				payload TEXT NOT NULL,
				enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(postgresQueueTableName))
		if _, err := db.ExecContext(ctx, itemsTable); err != nil {
			_ = db.Close()
			q.initErr = err
			return
		}
		metaTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				queue_key TEXT PRIMARY KEY,
				version BIGINT NOT NULL DEFAULT 0
			)`, postgresQuoteIdentifier(postgresQueueMetaTable))
		if _, err := db.ExecContext(ctx, metaTable); err != nil {
			_ = db.Close()
			q.initErr = err
			return
		}
		seed := fmt.Sprintf(`
			INSERT INTO %s (queue_key, version) VALUES ($1, 0)
			ON CONFLICT (queue_key) DO NOTHING`, postgresQuoteIdentifier(postgresQueueMetaTable))
		if _, err := db.ExecContext(ctx, seed, q.queueKey); err != nil {
			_ = db.Close()
			q.initErr = err
			return
		}
		q.db = db
	})
	return q.initErr
}

func (q *postgresPendingQueue) Enqueue(op PendingSave) error {
	if strings.TrimSpace(op.Payload.URL) == "" {
		return ErrInvalidInput
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	if err := q.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOpTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"SELECT version FROM %s WHERE queue_key = $1 FOR UPDATE",
		postgresQuoteIdentifier(postgresQueueMetaTable)), q.queueKey); err != nil {
		return err
	}
	insert := fmt.Sprintf(
		"INSERT INTO %s (queue_key, payload, enqueued_at) VALUES ($1, $2, $3)",
		postgresQuoteIdentifier(postgresQueueTableName))
	if _, err := tx.ExecContext(ctx, insert, q.queueKey, string(payload), op.EnqueuedAt); err != nil {
		return err
	}
	// Drop-oldest when over capacity.
	trim := fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE queue_key = $1 AND id NOT IN (
			SELECT id FROM %[1]s WHERE queue_key = $1 ORDER BY id DESC LIMIT $2
		)`, postgresQuoteIdentifier(postgresQueueTableName))
	if _, err := tx.ExecContext(ctx, trim, q.queueKey, q.capacity); err != nil {
		return err
	}
	bump := fmt.Sprintf(
		"UPDATE %s SET version = version + 1 WHERE queue_key = $1",
		postgresQuoteIdentifier(postgresQueueMetaTable))
	if _, err := tx.ExecContext(ctx, bump, q.queueKey); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *postgresPendingQueue) Drain() ([]PendingSave, uint64, error) {
	if err := q.ensureReady(); err != nil {
		return nil, 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOpTimeout)
	defer cancel()

	var version uint64
	versionQuery := fmt.Sprintf(
		"SELECT version FROM %s WHERE queue_key = $1",
		postgresQuoteIdentifier(postgresQueueMetaTable))
	if err := q.db.QueryRowContext(ctx, versionQuery, q.queueKey).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []PendingSave{}, 0, nil
		}
		return nil, 0, err
	}

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT payload FROM %s WHERE queue_key = $1 ORDER BY id ASC",
		postgresQuoteIdentifier(postgresQueueTableName)), q.queueKey)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []PendingSave{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}
		var op PendingSave
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			return nil, 0, err
		}
		items = append(items, op)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, version, nil
}

func (q *postgresPendingQueue) Replace(remaining []PendingSave, version uint64) error {
	if err := q.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOpTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current uint64
	versionQuery := fmt.Sprintf(
		"SELECT version FROM %s WHERE queue_key = $1 FOR UPDATE",
		postgresQuoteIdentifier(postgresQueueMetaTable))
	if err := tx.QueryRowContext(ctx, versionQuery, q.queueKey).Scan(&current); err != nil {
		return err
	}
	if current != version {
		return ErrQueueStale
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE queue_key = $1",
		postgresQuoteIdentifier(postgresQueueTableName)), q.queueKey); err != nil {
		return err
	}
	insert := fmt.Sprintf(
		"INSERT INTO %s (queue_key, payload, enqueued_at) VALUES ($1, $2, $3)",
		postgresQuoteIdentifier(postgresQueueTableName))
	for _, op := range remaining {
		payload, err := json.Marshal(op)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert, q.queueKey, string(payload), op.EnqueuedAt); err != nil {
			return err
		}
	}
	bump := fmt.Sprintf(
		"UPDATE %s SET version = version + 1 WHERE queue_key = $1",
		postgresQuoteIdentifier(postgresQueueMetaTable))
	if _, err := tx.ExecContext(ctx, bump, q.queueKey); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *postgresPendingQueue) Depth() int {
	if err := q.ensureReady(); err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOpTimeout)
	defer cancel()

	var count int
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE queue_key = $1",
		postgresQuoteIdentifier(postgresQueueTableName))
	if err := q.db.QueryRowContext(ctx, query, q.queueKey).Scan(&count); err != nil {
		return 0
	}
	return count
}

func (q *postgresPendingQueue) Capacity() int {
	return q.capacity
}

func (q *postgresPendingQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
