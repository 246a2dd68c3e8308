package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-listening-tracker/internal/kv"
)

// changeChannel is the LISTEN/NOTIFY channel used for the change feed.
const changeChannel = "kv_changes"

type changeNotice struct {
	Key     string `json:"key"`
	Writer  string `json:"writer"`
	Deleted bool   `json:"deleted,omitempty"`
}

// KVRepository stores key-value documents in the kv_entries table. It
// implements kv.Backend and kv.Watcher.
type KVRepository struct {
	db     *DB
	pool   *pgxpool.Pool
	writer string
	logger *slog.Logger
}

func newKVRepository(db *DB) *KVRepository {
	return &KVRepository{
		db:     db,
		pool:   db.pool,
		writer: uuid.NewString(),
		logger: db.logger,
	}
}

// Get returns the stored document or kv.ErrNotFound.
func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", key, err)
	}
	return value, nil
}

// SetMany upserts all entries in one transaction and announces each key.
func (r *KVRepository) SetMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	for key, value := range entries {
		if _, err := tx.Exec(ctx, query, key, string(value)); err != nil {
			return fmt.Errorf("upserting %q: %w", key, err)
		}
		if err := r.notify(ctx, tx, changeNotice{Key: key, Writer: r.writer}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *KVRepository) Delete(ctx context.Context, key string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	if err := r.notify(ctx, tx, changeNotice{Key: key, Writer: r.writer, Deleted: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *KVRepository) Close() error {
	r.db.Close()
	return nil
}

// Watch listens for changes committed by other writers. The listening
// connection is released when ctx is done.
func (r *KVRepository) Watch(ctx context.Context, fn kv.ChangeFunc) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		return fmt.Errorf("listening on %s: %w", changeChannel, err)
	}

	go func() {
		defer conn.Release()
		r.listen(ctx, conn.Conn().WaitForNotification, fn)
	}()
	return nil
}

// listen delivers notifications until wait fails. A failure other than ctx
// being done ends the change feed and is logged.
func (r *KVRepository) listen(ctx context.Context, wait func(context.Context) (*pgconn.Notification, error), fn kv.ChangeFunc) {
	for {
		n, err := wait(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("change feed stopped", "channel", changeChannel, "error", err)
			}
			return
		}

		var notice changeNotice
		if err := json.Unmarshal([]byte(n.Payload), &notice); err != nil {
			r.logger.Warn("ignoring malformed change notice", "payload", n.Payload, "error", err)
			continue
		}
		if notice.Writer == r.writer {
			continue
		}

		if notice.Deleted {
			fn(notice.Key, nil, true)
			continue
		}
		value, err := r.Get(ctx, notice.Key)
		if errors.Is(err, kv.ErrNotFound) {
			fn(notice.Key, nil, true)
			continue
		}
		if err != nil {
			r.logger.Warn("reading changed key", "key", notice.Key, "error", err)
			continue
		}
		fn(notice.Key, value, false)
	}
}

func (r *KVRepository) notify(ctx context.Context, tx pgx.Tx, notice changeNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("encoding change notice: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, string(payload)); err != nil {
		return fmt.Errorf("notifying change of %q: %w", notice.Key, err)
	}
	return nil
}
