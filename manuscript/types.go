package manuscript

import "strings"

// Format identifies a manuscript container. It is always derived from the
// archive bytes, never from a file name or a declared MIME type.
type Format string

const (
	FormatEpub    Format = "epub"
	FormatDocx    Format = "docx"
	FormatUnknown Format = "unknown"
)

// ExtractedImage is an embedded image after relocation to the object store.
type ExtractedImage struct {
	OriginalPath string `json:"original_path"` // archive-relative path
	URL          string `json:"url"`           // public URL returned by the store
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	StorageKey   string `json:"storage_key"`
}

// Filename returns the basename of the image inside the archive.
func (img ExtractedImage) Filename() string {
	return baseName(img.OriginalPath)
}

// ExtractedContent is the result of one extraction call.
type ExtractedContent struct {
	Format Format           `json:"format"`
	HTML   string           `json:"html_content"`
	Images []ExtractedImage `json:"images"` // archive enumeration order

	// Metadata is set for EPUBs whose package document parses.
	Metadata *BookMetadata `json:"metadata,omitempty"`
}

// PathURLMap maps archive paths, and redundantly their basenames, to
// relocated URLs. When two images share a basename the later one in archive
// order owns the basename key.
type PathURLMap map[string]string

func (m PathURLMap) add(archivePath, url string) {
	m[archivePath] = url
	m[baseName(archivePath)] = url
}

// baseName returns everything after the last slash, or p itself.
func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
