// Package audit keeps a trail of upload operations in SQLite. Entries are
// buffered and written in batches; Close flushes what is pending.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/folio/idgen"
	"github.com/hazyhaar/folio/kit"
)

// Schema creates the audit table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS upload_audit (
    entry_id    TEXT PRIMARY KEY,
    timestamp   INTEGER NOT NULL,             -- milliseconds since epoch
    operation   TEXT NOT NULL,
    upload_id   TEXT NOT NULL DEFAULT '',
    book_id     TEXT NOT NULL DEFAULT '',
    request_id  TEXT NOT NULL DEFAULT '',
    transport   TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    images      INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_upload ON upload_audit(upload_id, timestamp);
`

// Operations recorded by the upload service.
const (
	OpIngest = "ingest"
	OpDelete = "delete"
)

// Entry is one audited operation.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation"`
	UploadID   string    `json:"upload_id,omitempty"`
	BookID     string    `json:"book_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Transport  string    `json:"transport,omitempty"`
	Status     string    `json:"status"` // success or error
	Error      string    `json:"error,omitempty"`
	Images     int       `json:"images"`
	DurationMs int64     `json:"duration_ms"`
}

// Logger persists entries asynchronously.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *Entry
	stop  chan struct{}
	done  chan struct{}
	flush time.Duration
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator overrides the entry id generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// WithFlushInterval sets how often buffered entries are written. Default: 2s.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Logger) { l.flush = d }
}

// New starts a logger writing to db, which must carry Schema.
func New(db *sql.DB, bufferSize int, opts ...Option) *Logger {
	l := &Logger{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.UUIDv7()),
		ch:    make(chan *Entry, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		flush: 2 * time.Second,
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Record queues an entry for op, filling the request id and transport from
// ctx. A full buffer falls back to a synchronous insert.
func (l *Logger) Record(ctx context.Context, op, uploadID, bookID string, images int, err error, took time.Duration) {
	e := &Entry{
		ID:         l.newID(),
		Timestamp:  time.Now(),
		Operation:  op,
		UploadID:   uploadID,
		BookID:     bookID,
		RequestID:  kit.GetRequestID(ctx),
		Transport:  kit.GetTransport(ctx),
		Status:     "success",
		Images:     images,
		DurationMs: took.Milliseconds(),
	}
	if err != nil {
		e.Status = "error"
		e.Error = err.Error()
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("audit buffer full, sync fallback", "operation", op)
		if err := l.insert(context.WithoutCancel(ctx), l.db, e); err != nil {
			slog.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// ForUpload returns the entries of one upload, oldest first.
func (l *Logger) ForUpload(ctx context.Context, uploadID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT entry_id, timestamp, operation, upload_id, book_id, request_id,
		       transport, status, error, images, duration_ms
		FROM upload_audit WHERE upload_id = ? ORDER BY timestamp, entry_id`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Operation, &e.UploadID, &e.BookID, &e.RequestID,
			&e.Transport, &e.Status, &e.Error, &e.Images, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retention.
func (l *Logger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM upload_audit WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (l *Logger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *Logger) insert(ctx context.Context, db execer, e *Entry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO upload_audit
		(entry_id, timestamp, operation, upload_id, book_id, request_id,
		 transport, status, error, images, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.UnixMilli(), e.Operation, e.UploadID, e.BookID, e.RequestID,
		e.Transport, e.Status, e.Error, e.Images, e.DurationMs)
	return err
}

func (l *Logger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.flush)
	defer ticker.Stop()
	batch := make([]*Entry, 0, 100)

	write := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("audit: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := l.insert(ctx, tx, e); err != nil {
				slog.Error("audit: insert", "error", err, "entry_id", e.ID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					write()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				write()
			}
		case <-ticker.C:
			write()
		}
	}
}
