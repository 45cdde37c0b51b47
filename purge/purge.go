// Package purge retries object deletions that failed. Keys are queued in
// SQLite; a claimed key stays invisible for a visibility window, so a worker
// that dies mid-delete leaves the key to be claimed again later.
//
// Expected schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS purge_queue (
//	    key         TEXT PRIMARY KEY,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- milliseconds since epoch
//	    created_at  INTEGER NOT NULL,
//	    attempts    INTEGER NOT NULL DEFAULT 0,
//	    last_error  TEXT NOT NULL DEFAULT ''
//	);
package purge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Deleter removes one object. objstore backends satisfy it.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Job is one queued key.
type Job struct {
	Key       string
	Attempts  int
	CreatedAt time.Time
	LastError string
}

// Options configures a Queue.
type Options struct {
	// Visibility is how long a claimed key stays hidden. Default: 1m.
	Visibility time.Duration
	// Backoff delays a failed key by Backoff*attempts. Default: 30s.
	Backoff time.Duration
	// PollInterval is the delay between passes in Run. Default: 30s.
	PollInterval time.Duration
	// BatchSize bounds the keys claimed per pass. Default: 100.
	BatchSize int
	// MaxAttempts drops a key after that many failed deletes. 0 keeps
	// retrying forever.
	MaxAttempts int
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = time.Minute
	}
	if o.Backoff <= 0 {
		o.Backoff = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the purge queue handle.
type Queue struct {
	db   *sql.DB
	opts Options
	now  func() time.Time
}

// New creates a queue on db. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts, now: time.Now}
}

// EnsureTable creates purge_queue if it does not exist.
func (q *Queue) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS purge_queue (
			key         TEXT PRIMARY KEY,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_purge_visible ON purge_queue (visible_at);
	`)
	return err
}

// Enqueue records a key whose delete failed with cause. Queuing a key twice
// keeps one row and refreshes its error.
func (q *Queue) Enqueue(ctx context.Context, key string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := q.now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO purge_queue (key, visible_at, created_at, last_error) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET last_error = excluded.last_error`,
		key, now, now, msg)
	if err != nil {
		return fmt.Errorf("purge: enqueue %s: %w", key, err)
	}
	return nil
}

// Claim hides up to n visible keys for the visibility window and returns
// them, oldest first. It returns an empty slice when nothing is due.
func (q *Queue) Claim(ctx context.Context, n int) ([]Job, error) {
	now := q.now()
	rows, err := q.db.QueryContext(ctx, `
		UPDATE purge_queue
		SET visible_at = ?, attempts = attempts + 1
		WHERE key IN (
			SELECT key FROM purge_queue
			WHERE visible_at <= ?
			ORDER BY visible_at ASC, key ASC
			LIMIT ?
		)
		RETURNING key, attempts, created_at, last_error`,
		now.Add(q.opts.Visibility).UnixMilli(), now.UnixMilli(), n)
	if err != nil {
		return nil, fmt.Errorf("purge: claim: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		var (
			j       Job
			created int64
		)
		if err := rows.Scan(&j.Key, &j.Attempts, &created, &j.LastError); err != nil {
			return nil, fmt.Errorf("purge: scan: %w", err)
		}
		j.CreatedAt = time.UnixMilli(created)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Ack forgets a key.
func (q *Queue) Ack(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM purge_queue WHERE key = ?`, key)
	return err
}

// Retry makes a claimed key visible again after Backoff*attempts.
func (q *Queue) Retry(ctx context.Context, j Job, cause error) error {
	at := q.now().Add(q.opts.Backoff * time.Duration(j.Attempts)).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE purge_queue SET visible_at = ?, last_error = ? WHERE key = ?`,
		at, cause.Error(), j.Key)
	return err
}

// Len returns the number of queued keys, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM purge_queue`).Scan(&n)
	return n, err
}

// Drain runs one pass: every due key is deleted through d. It returns the
// number of keys removed from the queue.
func (q *Queue) Drain(ctx context.Context, d Deleter) (int, error) {
	jobs, err := q.Claim(ctx, q.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	log := q.opts.Logger
	done := 0
	for _, j := range jobs {
		if err := d.Delete(ctx, j.Key); err != nil {
			if q.opts.MaxAttempts > 0 && j.Attempts >= q.opts.MaxAttempts {
				log.Error("purge: giving up on object", "key", j.Key, "attempts", j.Attempts, "error", err)
				if ackErr := q.Ack(ctx, j.Key); ackErr == nil {
					done++
				}
				continue
			}
			log.Warn("purge: delete failed, retrying later", "key", j.Key, "attempts", j.Attempts, "error", err)
			if err := q.Retry(ctx, j, err); err != nil {
				log.Warn("purge: reschedule failed", "key", j.Key, "error", err)
			}
			continue
		}
		if err := q.Ack(ctx, j.Key); err != nil {
			log.Warn("purge: ack failed", "key", j.Key, "error", err)
			continue
		}
		done++
	}
	if done > 0 {
		log.Info("purge: orphaned objects removed", "count", done)
	}
	return done, nil
}

// Run drains the queue every PollInterval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, d Deleter) {
	log := q.opts.Logger
	log.Info("purge: worker started", "poll", q.opts.PollInterval, "visibility", q.opts.Visibility)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("purge: worker stopped")
			return
		case <-ticker.C:
			if _, err := q.Drain(ctx, d); err != nil && ctx.Err() == nil {
				log.Warn("purge: pass failed", "error", err)
			}
		}
	}
}
