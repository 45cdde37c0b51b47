package manuscript

import (
	"bytes"
	"fmt"
	"path"

	"github.com/taylorskalyo/goreader/epub"
)

// BookMetadata is what the EPUB package document says about the book.
type BookMetadata struct {
	Title    string   `json:"title,omitempty"`
	Creator  string   `json:"creator,omitempty"`
	Language string   `json:"language,omitempty"`
	Spine    []string `json:"spine,omitempty"` // content documents in reading order
}

// ReadEpubMetadata parses the container and the first package document.
// Archives without a usable container.xml return an ErrInvalidArchive error.
func ReadEpubMetadata(data []byte) (*BookMetadata, error) {
	r, err := epub.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	if len(r.Rootfiles) == 0 {
		return nil, fmt.Errorf("%w: no package document", ErrInvalidArchive)
	}
	book := r.Rootfiles[0]
	dir := path.Dir(book.FullPath)

	md := &BookMetadata{
		Title:    book.Title,
		Creator:  book.Creator,
		Language: book.Language,
	}
	for _, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		md.Spine = append(md.Spine, path.Join(dir, ref.HREF))
	}
	return md, nil
}
