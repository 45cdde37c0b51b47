package uploads

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/folio/dbopen"
	"github.com/hazyhaar/folio/idgen"
	"github.com/hazyhaar/folio/manuscript"
	"github.com/hazyhaar/folio/objstore"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func buildZip(t *testing.T, files ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f[0])
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(f[1]))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// epubWithImage is a one-chapter EPUB referencing images/cover.png.
func epubWithImage(t *testing.T) []byte {
	return buildZip(t,
		[2]string{"mimetype", "application/epub+zip"},
		[2]string{"META-INF/container.xml", `<container/>`},
		[2]string{"OEBPS/images/cover.png", "\x89PNG\r\n\x1a\nfake"},
		[2]string{"OEBPS/chapter1.xhtml", `<html><body><h1>One</h1><img src="images/cover.png"/></body></html>`},
	)
}

func docxText(t *testing.T, text string) []byte {
	return buildZip(t,
		[2]string{"[Content_Types].xml", `<Types/>`},
		[2]string{"word/document.xml", `<w:document><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`},
	)
}

// recordingStore remembers every deleted key. With failDelete set deletes
// are refused.
type recordingStore struct {
	*objstore.Memory
	mu         sync.Mutex
	deleted    []string
	failDelete bool
}

var errDeleteRefused = errors.New("delete refused")

func (s *recordingStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, key)
	fail := s.failDelete
	s.mu.Unlock()
	if fail {
		return errDeleteRefused
	}
	return s.Memory.Delete(ctx, key)
}

type fixture struct {
	svc     *Service
	store   *Store
	objects *recordingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	store := NewStore(db)
	objects := &recordingStore{Memory: objstore.NewMemory("https://cdn.test")}
	ext := manuscript.New(objects, manuscript.Config{
		Sanitize: true,
		Now:      func() time.Time { return testTime },
	})
	svc := NewService(store, ext, objects,
		WithIDGenerators(idgen.Sequence("upl_"), idgen.Sequence("img_")),
		WithClock(func() time.Time { return testTime }),
	)
	return &fixture{svc: svc, store: store, objects: objects}
}
