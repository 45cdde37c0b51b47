package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/folio/dbopen"
)

// Schema creates the upload tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS content_uploads (
    id                TEXT PRIMARY KEY,
    book_id           TEXT,
    original_filename TEXT NOT NULL,
    format            TEXT NOT NULL,
    html_content      TEXT NOT NULL,
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS uploaded_images (
    id            TEXT PRIMARY KEY,
    upload_id     TEXT NOT NULL REFERENCES content_uploads(id) ON DELETE CASCADE,
    position      INTEGER NOT NULL,
    original_path TEXT NOT NULL,
    cdn_url       TEXT NOT NULL,
    storage_key   TEXT NOT NULL,
    content_type  TEXT NOT NULL,
    size          INTEGER NOT NULL,
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uploads_book   ON content_uploads(book_id);
CREATE INDEX IF NOT EXISTS idx_images_upload  ON uploaded_images(upload_id, position);
`

// Upload is a persisted extraction.
type Upload struct {
	ID               string
	BookID           string // empty when the upload is not tied to a book
	OriginalFilename string
	Format           string
	HTML             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Images           []Image // in archive order
}

// Image is one relocated image of an upload.
type Image struct {
	ID           string
	OriginalPath string
	URL          string
	StorageKey   string
	ContentType  string
	Size         int64
}

// Summary is an upload without its content, for listings.
type Summary struct {
	ID               string    `json:"id"`
	BookID           string    `json:"book_id,omitempty"`
	OriginalFilename string    `json:"original_filename"`
	Format           string    `json:"format"`
	ImageCount       int       `json:"image_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store persists uploads in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the database at path and applies Schema.
func OpenStore(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps a database that already carries Schema.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle so other tables, such as the purge queue, can live
// in the same file.
func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Insert writes an upload and its images in one transaction.
func (s *Store) Insert(ctx context.Context, u *Upload) error {
	created := formatTime(u.CreatedAt)
	updated := formatTime(u.UpdatedAt)
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO content_uploads (id, book_id, original_filename, format, html_content, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, nullable(u.BookID), u.OriginalFilename, u.Format, u.HTML, created, updated)
		if err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}
		for i, img := range u.Images {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO uploaded_images (id, upload_id, position, original_path, cdn_url, storage_key, content_type, size, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				img.ID, u.ID, i, img.OriginalPath, img.URL, img.StorageKey, img.ContentType, img.Size, created)
			if err != nil {
				return fmt.Errorf("insert image %s: %w", img.OriginalPath, err)
			}
		}
		return nil
	})
}

// Get loads an upload with its images. Missing ids return ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Upload, error) {
	var (
		u                Upload
		bookID           sql.NullString
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, original_filename, format, html_content, created_at, updated_at
		FROM content_uploads WHERE id = ?`, id).
		Scan(&u.ID, &bookID, &u.OriginalFilename, &u.Format, &u.HTML, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	u.BookID = bookID.String
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)

	u.Images, err = s.images(ctx, id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) images(ctx context.Context, uploadID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_path, cdn_url, storage_key, content_type, size
		FROM uploaded_images WHERE upload_id = ? ORDER BY position`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := []Image{}
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.OriginalPath, &img.URL, &img.StorageKey, &img.ContentType, &img.Size); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// Delete removes an upload; its image rows go with it (ON DELETE CASCADE).
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content_uploads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns the newest uploads first, optionally restricted to a book.
func (s *Store) List(ctx context.Context, bookID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.book_id, u.original_filename, u.format, u.created_at,
		       (SELECT COUNT(*) FROM uploaded_images i WHERE i.upload_id = u.id)
		FROM content_uploads u
		WHERE (? = '' OR u.book_id = ?)
		ORDER BY u.created_at DESC, u.id DESC
		LIMIT ?`, bookID, bookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			book    sql.NullString
			created string
		)
		if err := rows.Scan(&sum.ID, &book, &sum.OriginalFilename, &sum.Format, &created, &sum.ImageCount); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		sum.BookID = book.String
		sum.CreatedAt = parseTime(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
