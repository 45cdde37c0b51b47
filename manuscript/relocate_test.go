package manuscript

import (
	"context"
	"errors"
	"testing"
	"time"
)

func pendingOf(paths ...string) []pendingImage {
	out := make([]pendingImage, len(paths))
	for i, p := range paths {
		ct, _ := imageContentType(p)
		out[i] = pendingImage{archivePath: p, data: []byte(p), contentType: ct, sizeBytes: int64(len(p))}
	}
	return out
}

func TestImageContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"a.jpg", "image/jpeg", true},
		{"a.JPEG", "image/jpeg", true},
		{"a.png", "image/png", true},
		{"a.gif", "image/gif", true},
		{"a.webp", "image/webp", true},
		{"a.svg", "image/svg+xml", true},
		{"a.tiff", "", false},
		{"png", "", false},
	}
	for _, tt := range tests {
		got, ok := imageContentType(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("imageContentType(%q) = %q, %v", tt.name, got, ok)
		}
	}
}

func TestCollectImages_DocxMediaOnly(t *testing.T) {
	data := buildDocx(t, "<w:document/>",
		member{"docProps/thumbnail.jpeg", "thumb"},
		member{"word/media/image1.png", "img1"},
		member{"word/media/notes.txt", "txt"},
	)
	a, err := OpenArchive(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := collectImages(a, FormatDocx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].archivePath != "word/media/image1.png" {
		t.Fatalf("collected %+v", got)
	}
	if got[0].sizeBytes != 4 || got[0].contentType != "image/png" {
		t.Errorf("image = %+v", got[0])
	}
}

func TestCollectImages_EpubAnywhere(t *testing.T) {
	data := buildEpub(t,
		member{"cover.jpg", "c"},
		member{"OEBPS/images/fig.svg", "<svg/>"},
		member{"OEBPS/ch1.xhtml", "<p/>"},
	)
	a, _ := OpenArchive(data)
	got, err := collectImages(a, FormatEpub)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].archivePath != "cover.jpg" || got[1].archivePath != "OEBPS/images/fig.svg" {
		t.Fatalf("collected %+v", got)
	}
}

func TestRelocate_KeysAndOrder(t *testing.T) {
	store := newFakeStore()
	r := newRelocator(store, testConfig())

	images, urls, err := r.relocate(context.Background(), "book1", pendingOf(
		"OEBPS/images/my pic.png",
		"OEBPS/images/b.jpg",
		"OEBPS/images/c.gif",
	))
	if err != nil {
		t.Fatal(err)
	}

	wantKeys := []string{
		"content-images/book1/1700000000000_my_pic.png",
		"content-images/book1/1700000000000_b.jpg",
		"content-images/book1/1700000000000_c.gif",
	}
	if len(images) != len(wantKeys) {
		t.Fatalf("got %d images", len(images))
	}
	for i, img := range images {
		if img.StorageKey != wantKeys[i] {
			t.Errorf("images[%d].StorageKey = %q, want %q", i, img.StorageKey, wantKeys[i])
		}
		if img.URL != "https://cdn.test/"+wantKeys[i] {
			t.Errorf("images[%d].URL = %q", i, img.URL)
		}
	}
	if images[0].OriginalPath != "OEBPS/images/my pic.png" || images[0].Filename() != "my pic.png" {
		t.Errorf("images[0] = %+v", images[0])
	}
	if urls["OEBPS/images/b.jpg"] != images[1].URL || urls["b.jpg"] != images[1].URL {
		t.Errorf("url map missing path or basename: %v", urls)
	}
	if ct := store.types[wantKeys[2]]; ct != "image/gif" {
		t.Errorf("content type = %q", ct)
	}
}

func TestRelocate_DuplicateBasenames(t *testing.T) {
	store := newFakeStore()
	r := newRelocator(store, testConfig())

	images, urls, err := r.relocate(context.Background(), "book1", pendingOf(
		"OEBPS/a/cover.png",
		"OEBPS/b/cover.png",
	))
	if err != nil {
		t.Fatal(err)
	}
	if images[0].StorageKey == images[1].StorageKey {
		t.Fatalf("keys collide: %q", images[0].StorageKey)
	}
	if images[1].StorageKey != "content-images/book1/1700000000000_2_cover.png" {
		t.Errorf("second key = %q", images[1].StorageKey)
	}
	if len(store.keys()) != 2 {
		t.Errorf("store holds %d objects, want 2", len(store.keys()))
	}
	if urls["cover.png"] != images[1].URL {
		t.Errorf("basename owner = %q, want the later image", urls["cover.png"])
	}
	if urls["OEBPS/a/cover.png"] != images[0].URL {
		t.Errorf("full path lost: %q", urls["OEBPS/a/cover.png"])
	}
}

func TestRelocate_Empty(t *testing.T) {
	r := newRelocator(newFakeStore(), testConfig())
	images, urls, err := r.relocate(context.Background(), "book1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if images == nil || len(images) != 0 || urls == nil || len(urls) != 0 {
		t.Errorf("images=%v urls=%v", images, urls)
	}
}

func TestRelocate_FailureRollsBack(t *testing.T) {
	store := newFakeStore()
	store.failOn = "_b.png"
	cfg := testConfig()
	cfg.UploadConcurrency = 1
	r := newRelocator(store, cfg)

	images, urls, err := r.relocate(context.Background(), "book1", pendingOf("a.png", "b.png", "c.png"))
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("err = %v, want ErrStorageFailure", err)
	}
	if !errors.Is(err, errUploadRefused) {
		t.Errorf("cause lost: %v", err)
	}
	if images != nil || urls != nil {
		t.Errorf("partial result returned: %v %v", images, urls)
	}
	if left := store.keys(); len(left) != 0 {
		t.Errorf("orphans left in store: %v", left)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "content-images/book1/1700000000000_a.png" {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestRelocate_Cancelled(t *testing.T) {
	store := newFakeStore()
	store.delay = time.Second
	r := newRelocator(store, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := r.relocate(ctx, "book1", pendingOf("a.png", "b.png"))
	if !errors.Is(err, ErrStorageFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if left := store.keys(); len(left) != 0 {
		t.Errorf("orphans left in store: %v", left)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrStorageFailure) {
		t.Error("storage failure should be retryable")
	}
	if IsRetryable(ErrUnsupportedFormat) {
		t.Error("unsupported format should not be retryable")
	}
}
