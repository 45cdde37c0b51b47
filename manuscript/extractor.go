// Package manuscript turns uploaded manuscripts into storage-backed HTML.
//
// Supported containers (sniffed from the bytes, never the file name):
//   - EPUB: every XHTML content document except navigation, joined with a
//     chapter break marker
//   - DOCX: word/document.xml rendered as paragraphs with bold/italic
//
// Embedded images are collected while the archive is open, uploaded to a
// Store once it is released, and every reference in the output points at
// the relocated URL.
//
// Usage:
//
//	ex := manuscript.New(store, manuscript.Config{Sanitize: true})
//	content, err := ex.Extract(ctx, data, bookID)
//	fmt.Println(len(content.Images), "images")
package manuscript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ChapterBreak separates EPUB content documents in ExtractedContent.HTML.
const ChapterBreak = "\n\n<!-- Chapter Break -->\n\n"

// Extractor is the manuscript extraction engine. One Extractor serves any
// number of concurrent Extract calls.
type Extractor struct {
	cfg       Config
	logger    *slog.Logger
	relocator *relocator
	rewriter  *Rewriter
	converter *Converter
	sanitizer *Sanitizer
}

// New creates an Extractor that relocates images to store.
func New(store Store, cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{
		cfg:       cfg,
		logger:    cfg.Logger,
		relocator: newRelocator(store, cfg),
		rewriter:  NewRewriter(),
		converter: NewConverter(),
		sanitizer: NewSanitizer(),
	}
}

// Extract detects the container format of data, relocates its images under
// namespace and returns the rewritten HTML. On error nothing is returned and
// no relocated image is left behind.
func (e *Extractor) Extract(ctx context.Context, data []byte, namespace string) (*ExtractedContent, error) {
	if int64(len(data)) > e.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), e.cfg.MaxFileSize)
	}
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	start := time.Now()
	format := Detect(data)
	e.logger.Debug("extracting manuscript", "format", format, "size", len(data), "namespace", namespace)

	var content *ExtractedContent
	var err error
	switch format {
	case FormatEpub:
		content, err = e.extractEpub(ctx, data, namespace)
	case FormatDocx:
		content, err = e.extractDocx(ctx, data, namespace)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", format, err)
	}

	e.logger.Info("manuscript extracted",
		"format", format,
		"namespace", namespace,
		"images", len(content.Images),
		"html_bytes", len(content.HTML),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

// relocateImages runs phase 1 on its own archive view and phase 2 once that
// view is out of scope.
func (e *Extractor) relocateImages(ctx context.Context, data []byte, format Format, namespace string) ([]ExtractedImage, PathURLMap, error) {
	pending, err := e.collect(data, format)
	if err != nil {
		return nil, nil, err
	}
	return e.relocator.relocate(ctx, namespace, pending)
}

func (e *Extractor) collect(data []byte, format Format) ([]pendingImage, error) {
	a, err := OpenArchive(data)
	if err != nil {
		return nil, err
	}
	return collectImages(a, format)
}

func (e *Extractor) extractEpub(ctx context.Context, data []byte, namespace string) (*ExtractedContent, error) {
	images, urls, err := e.relocateImages(ctx, data, FormatEpub, namespace)
	if err != nil {
		return nil, err
	}

	a, err := OpenArchive(data)
	if err != nil {
		e.relocator.discard(ctx, images)
		return nil, err
	}

	var parts []string
	for i, name := range a.Members() {
		if !isContentDocument(name) {
			continue
		}
		markup, err := a.ReadTextIndex(i)
		if err != nil {
			e.relocator.discard(ctx, images)
			return nil, err
		}
		part := e.rewriter.RewriteDocument(name, markup, urls)
		if e.cfg.Sanitize {
			part = e.sanitizer.Sanitize(part)
		}
		parts = append(parts, part)
	}

	content := &ExtractedContent{
		Format: FormatEpub,
		HTML:   strings.Join(parts, ChapterBreak),
		Images: images,
	}
	if md, err := ReadEpubMetadata(data); err == nil {
		content.Metadata = md
	} else {
		e.logger.Debug("epub metadata unavailable", "namespace", namespace, "error", err)
	}
	return content, nil
}

func (e *Extractor) extractDocx(ctx context.Context, data []byte, namespace string) (*ExtractedContent, error) {
	images, urls, err := e.relocateImages(ctx, data, FormatDocx, namespace)
	if err != nil {
		return nil, err
	}

	a, err := OpenArchive(data)
	if err != nil {
		e.relocator.discard(ctx, images)
		return nil, err
	}

	documentXML, err := a.ReadText(docxDocumentPath)
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		e.relocator.discard(ctx, images)
		return nil, err
	}

	var rels map[string]string
	if raw, err := a.Read(docxRelsPath); err == nil {
		if rels, err = parseRelationships(raw); err != nil {
			e.logger.Debug("docx relationships unreadable, using id heuristic", "error", err)
		}
	}

	out := e.converter.Convert(documentXML, NewImageIndex(images, urls, rels))
	if e.cfg.Sanitize {
		out = e.sanitizer.Sanitize(out)
	}

	return &ExtractedContent{
		Format: FormatDocx,
		HTML:   out,
		Images: images,
	}, nil
}

// isContentDocument reports whether an EPUB member is part of the rendered
// body. Navigation and table-of-contents documents are left out.
func isContentDocument(name string) bool {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".html") && !strings.HasSuffix(lower, ".xhtml") && !strings.HasSuffix(lower, ".htm") {
		return false
	}
	return !strings.Contains(lower, "toc") && !strings.Contains(lower, "nav")
}

// validateNamespace accepts identifiers safe for a storage key segment:
// alphanumerics, underscore, hyphen and dot, at most 256 bytes.
func validateNamespace(ns string) error {
	if ns == "" || ns == "." || ns == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	if len(ns) > 256 {
		return fmt.Errorf("%w: longer than 256 bytes", ErrInvalidNamespace)
	}
	for _, r := range ns {
		if !isIdentChar(r) {
			return fmt.Errorf("%w: invalid character %q", ErrInvalidNamespace, r)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
