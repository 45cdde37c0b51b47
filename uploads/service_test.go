package uploads

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/folio/audit"
	"github.com/hazyhaar/folio/kit"
	"github.com/hazyhaar/folio/manuscript"
	"github.com/hazyhaar/folio/purge"
)

func TestIngest_EpubWithBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Ingest(ctx, IngestRequest{Filename: "novel.epub", BookID: "book1", Data: epubWithImage(t)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if u.ID != "upl_1" || u.Format != "epub" || u.BookID != "book1" {
		t.Errorf("upload = %+v", u)
	}
	wantKey := "content-images/book1/1709294400000_cover.png"
	if len(u.Images) != 1 || u.Images[0].StorageKey != wantKey || u.Images[0].ID != "img_1" {
		t.Fatalf("images = %+v", u.Images)
	}
	if !strings.Contains(u.HTML, `src="https://cdn.test/`+wantKey+`"`) {
		t.Errorf("html not rewritten: %s", u.HTML)
	}
	if _, err := f.objects.Get(ctx, wantKey); err != nil {
		t.Errorf("object not stored: %v", err)
	}

	got, err := f.svc.Get(ctx, "upl_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.HTML != u.HTML || len(got.Images) != 1 {
		t.Errorf("stored = %+v", got)
	}
}

func TestIngest_NamespaceDefaultsToUploadID(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Ingest(context.Background(), IngestRequest{Data: epubWithImage(t)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(u.Images[0].StorageKey, "content-images/upl_1/") {
		t.Errorf("key = %q", u.Images[0].StorageKey)
	}
	if u.OriginalFilename != "unknown" {
		t.Errorf("filename = %q", u.OriginalFilename)
	}
}

func TestIngest_Docx(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Ingest(context.Background(), IngestRequest{Filename: "m.docx", Data: docxText(t, "Hello")})
	if err != nil {
		t.Fatal(err)
	}
	if u.Format != "docx" || !strings.Contains(u.HTML, "<p>Hello</p>") {
		t.Errorf("upload = %+v", u)
	}
}

func TestIngest_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Ingest(ctx, IngestRequest{}); !errors.Is(err, ErrNoFile) {
		t.Errorf("empty: %v", err)
	}
	if _, err := f.svc.Ingest(ctx, IngestRequest{Data: []byte("%PDF-1.7")}); !errors.Is(err, manuscript.ErrUnsupportedFormat) {
		t.Errorf("pdf: %v", err)
	}
	if _, err := f.svc.Ingest(ctx, IngestRequest{BookID: "../etc", Data: epubWithImage(t)}); !errors.Is(err, manuscript.ErrInvalidNamespace) {
		t.Errorf("bad book id: %v", err)
	}
	if list, _ := f.svc.List(ctx, "", 0); len(list) != 0 {
		t.Errorf("rejected uploads recorded: %+v", list)
	}
}

func TestIngest_RecordFailureRemovesObjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A clashing upload id makes the insert fail after relocation.
	f.svc.newID = func() string { return "upl_fixed" }
	if _, err := f.svc.Ingest(ctx, IngestRequest{BookID: "b1", Data: epubWithImage(t)}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Ingest(ctx, IngestRequest{BookID: "b2", Data: epubWithImage(t)}); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if len(f.objects.deleted) != 1 || !strings.HasPrefix(f.objects.deleted[0], "content-images/b2/") {
		t.Errorf("deleted = %v", f.objects.deleted)
	}
	if keys := f.objects.Keys(); len(keys) != 1 {
		t.Errorf("stored keys = %v", keys)
	}
}

func TestDelete_RemovesObjectsAndRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Ingest(ctx, IngestRequest{BookID: "book1", Data: epubWithImage(t)})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.objects.Keys()) != 0 {
		t.Errorf("objects left: %v", f.objects.Keys())
	}
	if _, err := f.svc.Get(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("record left: %v", err)
	}
	if err := f.svc.Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestDelete_QueuesFailedObjectDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := purge.New(f.store.DB(), purge.Options{})
	if err := q.EnsureTable(ctx); err != nil {
		t.Fatal(err)
	}
	f.svc.purge = q

	u, err := f.svc.Ingest(ctx, IngestRequest{BookID: "book1", Data: epubWithImage(t)})
	if err != nil {
		t.Fatal(err)
	}
	f.objects.failDelete = true
	if err := f.svc.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("queued = %d, want 1", n)
	}

	f.objects.failDelete = false
	if done, err := q.Drain(ctx, f.objects); err != nil || done != 1 {
		t.Fatalf("drain: done=%d err=%v", done, err)
	}
	if keys := f.objects.Keys(); len(keys) != 0 {
		t.Errorf("objects left: %v", keys)
	}
}

func TestService_AuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := kit.WithRequestID(context.Background(), "req-9")

	db := f.store.DB()
	if _, err := db.Exec(audit.Schema); err != nil {
		t.Fatal(err)
	}
	trail := audit.New(db, 10)
	f.svc.audit = trail

	u, err := f.svc.Ingest(ctx, IngestRequest{BookID: "book1", Data: epubWithImage(t)})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	trail.Close()

	entries, err := f.svc.History(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Operation != audit.OpIngest || entries[0].Images != 1 || entries[0].RequestID != "req-9" {
		t.Errorf("ingest entry = %+v", entries[0])
	}
	if entries[1].Operation != audit.OpDelete || entries[1].Status != "success" {
		t.Errorf("delete entry = %+v", entries[1])
	}
}

func TestService_AuditsRejectedIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	db := f.store.DB()
	if _, err := db.Exec(audit.Schema); err != nil {
		t.Fatal(err)
	}
	trail := audit.New(db, 10)
	f.svc.audit = trail

	if _, err := f.svc.Ingest(ctx, IngestRequest{BookID: "book1", Data: []byte("%PDF-1.7")}); !errors.Is(err, manuscript.ErrUnsupportedFormat) {
		t.Fatalf("pdf: %v", err)
	}
	if _, err := f.svc.Ingest(ctx, IngestRequest{}); !errors.Is(err, ErrNoFile) {
		t.Fatalf("empty: %v", err)
	}
	trail.Close()

	for _, id := range []string{"upl_1", "upl_2"} {
		entries, err := f.svc.History(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Operation != audit.OpIngest || entries[0].Status != "error" {
			t.Errorf("%s entries = %+v", id, entries)
		}
	}
	if list, _ := f.svc.List(ctx, "", 0); len(list) != 0 {
		t.Errorf("rejected uploads recorded: %+v", list)
	}
}
