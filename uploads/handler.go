package uploads

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/folio/manuscript"
	"github.com/hazyhaar/folio/shield"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temp files.
const multipartMemory = 32 << 20

// ImageInfo is the wire form of a stored image.
type ImageInfo struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// UploadResponse is returned by POST and GET /api/upload.
type UploadResponse struct {
	ID          string      `json:"id"`
	BookID      string      `json:"book_id,omitempty"`
	HTMLContent string      `json:"html_content"`
	Images      []ImageInfo `json:"images"`
	Format      string      `json:"format"`
	CreatedAt   time.Time   `json:"created_at"`
}

func newUploadResponse(u *Upload) UploadResponse {
	images := make([]ImageInfo, len(u.Images))
	for i, img := range u.Images {
		images[i] = ImageInfo{
			Filename:    path.Base(img.OriginalPath),
			URL:         img.URL,
			ContentType: img.ContentType,
			Size:        img.Size,
		}
	}
	return UploadResponse{
		ID:          u.ID,
		BookID:      u.BookID,
		HTMLContent: u.HTML,
		Images:      images,
		Format:      u.Format,
		CreatedAt:   u.CreatedAt,
	}
}

// Handler exposes a Service over HTTP.
type Handler struct {
	svc       *Service
	maxUpload int64
	markdown  *converter.Converter
}

// NewHandler creates a Handler accepting request bodies up to maxUpload
// bytes of file content.
func NewHandler(svc *Service, maxUpload int64) *Handler {
	return &Handler{
		svc:       svc,
		maxUpload: maxUpload,
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Routes mounts the upload API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/upload", func(r chi.Router) {
		// Room for the multipart envelope and the book_id field.
		r.With(shield.MaxBody(h.maxUpload+1<<20)).Post("/", h.handleUpload)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/audit", h.handleHistory)
		r.Delete("/{id}", h.handleDelete)
	})
	r.Get("/api/uploads", h.handleList)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to parse multipart: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrNoFile)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read file: %w", err))
		return
	}

	u, err := h.svc.Ingest(r.Context(), IngestRequest{
		Filename: header.Filename,
		BookID:   r.FormValue("book_id"),
		Data:     data,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUploadResponse(u))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		md, err := h.markdown.ConvertString(u.HTML)
		if err != nil {
			h.fail(w, r, fmt.Errorf("render markdown: %w", err))
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, md)
		return
	}
	writeJSON(w, http.StatusOK, newUploadResponse(u))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.List(r.Context(), r.URL.Query().Get("book_id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": list})
}

// fail maps service errors to HTTP statuses. Server-side failures are
// logged with the request logger; client errors are not.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= 500 {
		shield.GetLogger(r.Context()).Error("upload request failed", "error", err, "status", status)
	}
	if errors.Is(err, manuscript.ErrUnsupportedFormat) {
		err = errors.New("unsupported file format: only EPUB and DOCX are supported")
	}
	writeError(w, status, err)
}

// StatusFor returns the HTTP status for an error from Service.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manuscript.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNoFile),
		errors.Is(err, manuscript.ErrUnsupportedFormat),
		errors.Is(err, manuscript.ErrInvalidArchive),
		errors.Is(err, manuscript.ErrReadFailure),
		errors.Is(err, manuscript.ErrInvalidNamespace):
		return http.StatusBadRequest
	case errors.Is(err, manuscript.ErrStorageFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
