package manuscript

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Store is the object store images are relocated to. Implementations must be
// safe for concurrent use.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// imageTypes maps the accepted image extensions to their content type.
var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// imageContentType reports whether name is an image and its content type,
// judged by extension only.
func imageContentType(name string) (string, bool) {
	ct, ok := imageTypes[strings.ToLower(path.Ext(name))]
	return ct, ok
}

// pendingImage is an image read out of the archive but not yet uploaded.
type pendingImage struct {
	archivePath string
	data        []byte
	contentType string
	sizeBytes   int64
}

// collectImages is phase 1: it reads every qualifying image while the
// archive is open. DOCX images only count under word/media/.
func collectImages(a *Archive, format Format) ([]pendingImage, error) {
	var pending []pendingImage
	for i, name := range a.Members() {
		if format == FormatDocx && !strings.HasPrefix(name, "word/media/") {
			continue
		}
		ct, ok := imageContentType(name)
		if !ok {
			continue
		}
		data, err := a.ReadIndex(i)
		if err != nil {
			return nil, err
		}
		pending = append(pending, pendingImage{
			archivePath: name,
			data:        data,
			contentType: ct,
			sizeBytes:   int64(len(data)),
		})
	}
	return pending, nil
}

// relocator is phase 2: it uploads collected images and builds the
// PathURLMap used to rewrite references.
type relocator struct {
	store       Store
	folder      string
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// newRelocator creates a relocator. Zero Config fields take their defaults.
func newRelocator(store Store, cfg Config) *relocator {
	cfg.defaults()
	return &relocator{
		store:       store,
		folder:      cfg.ImageFolder,
		concurrency: cfg.UploadConcurrency,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
}

// relocate uploads every pending image under {folder}/{namespace}/.
// Images come back in the order they were collected. If any upload fails
// or ctx is cancelled, the images already stored by this call are deleted
// and an ErrStorageFailure is returned.
func (r *relocator) relocate(ctx context.Context, namespace string, pending []pendingImage) ([]ExtractedImage, PathURLMap, error) {
	images := make([]ExtractedImage, len(pending))
	urls := make(PathURLMap, 2*len(pending))
	if len(pending) == 0 {
		return images, urls, nil
	}

	keys := r.storageKeys(namespace, pending)
	stored := make([]bool, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, p := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			url, err := r.store.Upload(gctx, keys[i], p.data, p.contentType)
			if err != nil {
				return fmt.Errorf("upload %s: %w", p.archivePath, err)
			}
			images[i] = ExtractedImage{
				OriginalPath: p.archivePath,
				URL:          url,
				ContentType:  p.contentType,
				SizeBytes:    p.sizeBytes,
				StorageKey:   keys[i],
			}
			stored[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var done []ExtractedImage
		for i, ok := range stored {
			if ok {
				done = append(done, images[i])
			}
		}
		r.discard(ctx, done)
		return nil, nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	// Filled in archive order so the last image owns a shared basename.
	for _, img := range images {
		urls.add(img.OriginalPath, img.URL)
	}
	r.logger.Debug("images relocated", "namespace", namespace, "count", len(images))
	return images, urls, nil
}

// discard deletes relocated images, best effort. It runs even when ctx is
// already cancelled.
func (r *relocator) discard(ctx context.Context, images []ExtractedImage) {
	ctx = context.WithoutCancel(ctx)
	for _, img := range images {
		if err := r.store.Delete(ctx, img.StorageKey); err != nil {
			r.logger.Warn("discard relocated image", "key", img.StorageKey, "error", err)
		}
	}
}

// storageKeys derives one key per image from a single extraction timestamp.
// Basenames repeated within the archive get a counter so keys stay unique.
func (r *relocator) storageKeys(namespace string, pending []pendingImage) []string {
	ts := strconv.FormatInt(r.now().UnixMilli(), 10)
	used := make(map[string]bool, len(pending))
	keys := make([]string, len(pending))
	for i, p := range pending {
		name := strings.ReplaceAll(baseName(p.archivePath), " ", "_")
		filename := ts + "_" + name
		for n := 2; used[filename]; n++ {
			filename = ts + "_" + strconv.Itoa(n) + "_" + name
		}
		used[filename] = true
		keys[i] = r.folder + "/" + namespace + "/" + filename
	}
	return keys
}
