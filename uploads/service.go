// Package uploads turns manuscript uploads into stored, addressable records:
// it runs the extraction, persists the result and cleans up relocated
// images when an upload is deleted or cannot be recorded.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/folio/audit"
	"github.com/hazyhaar/folio/idgen"
	"github.com/hazyhaar/folio/manuscript"
	"github.com/hazyhaar/folio/purge"
)

// ErrNotFound is returned for an unknown upload id.
var ErrNotFound = errors.New("uploads: not found")

// ErrNoFile is returned when an ingest request carries no bytes.
var ErrNoFile = errors.New("uploads: no file provided")

// IngestRequest is one manuscript to extract and record.
type IngestRequest struct {
	Filename string
	BookID   string // optional; also the image namespace when set
	Data     []byte
}

// Service coordinates extraction, persistence and object cleanup.
type Service struct {
	store     *Store
	extractor *manuscript.Extractor
	objects   manuscript.Store
	newID     idgen.Generator
	newImgID  idgen.Generator
	now       func() time.Time
	logger    *slog.Logger
	purge     *purge.Queue
	audit     *audit.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerators overrides the upload and image id generators.
func WithIDGenerators(upload, image idgen.Generator) Option {
	return func(s *Service) { s.newID, s.newImgID = upload, image }
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPurgeQueue queues image deletes that fail so a background worker can
// retry them. Without it failures are only logged.
func WithPurgeQueue(q *purge.Queue) Option {
	return func(s *Service) { s.purge = q }
}

// WithAudit records every ingest and delete in an audit trail.
func WithAudit(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// NewService wires a Service. objects must be the store the extractor
// relocates into.
func NewService(store *Store, extractor *manuscript.Extractor, objects manuscript.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		extractor: extractor,
		objects:   objects,
		newID:     idgen.Prefixed("upl_", idgen.UUIDv7()),
		newImgID:  idgen.Prefixed("img_", idgen.UUIDv7()),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest extracts req and records the result. Images are stored under the
// book id when one is given, otherwise under the new upload id. Every
// attempt, rejected ones included, lands in the audit trail under that id.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*Upload, error) {
	id := s.newID()
	start := time.Now()
	u, err := s.ingest(ctx, id, req)
	if s.audit != nil {
		images := 0
		if u != nil {
			images = len(u.Images)
		}
		s.audit.Record(ctx, audit.OpIngest, id, req.BookID, images, err, time.Since(start))
	}
	return u, err
}

func (s *Service) ingest(ctx context.Context, id string, req IngestRequest) (*Upload, error) {
	if len(req.Data) == 0 {
		return nil, ErrNoFile
	}
	if manuscript.Detect(req.Data) == manuscript.FormatUnknown {
		return nil, manuscript.ErrUnsupportedFormat
	}

	namespace := req.BookID
	if namespace == "" {
		namespace = id
	}
	filename := req.Filename
	if filename == "" {
		filename = "unknown"
	}

	content, err := s.extractor.Extract(ctx, req.Data, namespace)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &Upload{
		ID:               id,
		BookID:           req.BookID,
		OriginalFilename: filename,
		Format:           string(content.Format),
		HTML:             content.HTML,
		CreatedAt:        now,
		UpdatedAt:        now,
		Images:           make([]Image, len(content.Images)),
	}
	for i, img := range content.Images {
		u.Images[i] = Image{
			ID:           s.newImgID(),
			OriginalPath: img.OriginalPath,
			URL:          img.URL,
			StorageKey:   img.StorageKey,
			ContentType:  img.ContentType,
			Size:         img.SizeBytes,
		}
	}

	if err := s.store.Insert(ctx, u); err != nil {
		s.removeObjects(ctx, u.Images)
		return nil, fmt.Errorf("record upload: %w", err)
	}

	s.logger.Info("content uploaded",
		"upload_id", id,
		"book_id", req.BookID,
		"format", u.Format,
		"images", len(u.Images),
	)
	return u, nil
}

// Get returns a recorded upload.
func (s *Service) Get(ctx context.Context, id string) (*Upload, error) {
	return s.store.Get(ctx, id)
}

// List returns recent uploads, newest first.
func (s *Service) List(ctx context.Context, bookID string, limit int) ([]Summary, error) {
	return s.store.List(ctx, bookID, limit)
}

// Delete removes the stored images of an upload, best effort, then the
// record itself.
func (s *Service) Delete(ctx context.Context, id string) error {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	start := time.Now()
	s.removeObjects(ctx, u.Images)
	err = s.store.Delete(ctx, id)
	if s.audit != nil {
		s.audit.Record(ctx, audit.OpDelete, id, u.BookID, len(u.Images), err, time.Since(start))
	}
	if err != nil {
		return err
	}
	s.logger.Info("upload deleted", "upload_id", id, "images", len(u.Images))
	return nil
}

// History returns the audit trail of an upload. It is empty when no audit
// trail is configured.
func (s *Service) History(ctx context.Context, id string) ([]audit.Entry, error) {
	if s.audit == nil {
		return []audit.Entry{}, nil
	}
	return s.audit.ForUpload(ctx, id)
}

func (s *Service) removeObjects(ctx context.Context, images []Image) {
	ctx = context.WithoutCancel(ctx)
	for _, img := range images {
		err := s.objects.Delete(ctx, img.StorageKey)
		if err == nil {
			continue
		}
		s.logger.Warn("failed to delete image", "key", img.StorageKey, "error", err)
		if s.purge != nil {
			if qerr := s.purge.Enqueue(ctx, img.StorageKey, err); qerr != nil {
				s.logger.Error("image left orphaned", "key", img.StorageKey, "error", qerr)
			}
		}
	}
}

// Ping reports whether the record store is reachable.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
