package manuscript

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// member is one archive entry, written in slice order.
type member struct {
	name string
	body string
}

func buildZip(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, m := range members {
		f, err := w.Create(m.name)
		if err != nil {
			t.Fatalf("create %s: %v", m.name, err)
		}
		if _, err := f.Write([]byte(m.body)); err != nil {
			t.Fatalf("write %s: %v", m.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func buildEpub(t *testing.T, extra ...member) []byte {
	t.Helper()
	base := []member{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", `<?xml version="1.0"?><container/>`},
	}
	return buildZip(t, append(base, extra...)...)
}

func buildDocx(t *testing.T, documentXML string, extra ...member) []byte {
	t.Helper()
	base := []member{
		{"[Content_Types].xml", `<?xml version="1.0"?><Types/>`},
		{"word/document.xml", documentXML},
	}
	return buildZip(t, append(base, extra...)...)
}

// fakeStore records uploads in memory. failOn makes Upload fail for a key
// suffix; delay slows every upload down.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
	failOn  string
	delay   time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

var errUploadRefused = errors.New("upload refused")

func (s *fakeStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.failOn != "" && len(key) >= len(s.failOn) && key[len(key)-len(s.failOn):] == s.failOn {
		return "", errUploadRefused
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return "https://cdn.test/" + key, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func testConfig() Config {
	return Config{Now: fixedClock}
}
