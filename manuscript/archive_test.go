package manuscript

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

func TestOpenArchive_Invalid(t *testing.T) {
	_, err := OpenArchive([]byte("not a zip"))
	if !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("err = %v, want ErrInvalidArchive", err)
	}
}

func TestArchive_MembersInOrder(t *testing.T) {
	a, err := OpenArchive(buildZip(t, member{"b.txt", "b"}, member{"a.txt", "a"}))
	if err != nil {
		t.Fatal(err)
	}
	got := a.Members()
	if len(got) != 2 || got[0] != "b.txt" || got[1] != "a.txt" {
		t.Errorf("Members = %v", got)
	}
}

func TestArchive_ReadCaseInsensitive(t *testing.T) {
	a, err := OpenArchive(buildZip(t, member{"Word/Document.xml", "<doc/>"}))
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.ReadText("word/document.xml")
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if got != "<doc/>" {
		t.Errorf("got %q", got)
	}
}

func TestArchive_ReadExactWins(t *testing.T) {
	a, err := OpenArchive(buildZip(t, member{"A.txt", "upper"}, member{"a.txt", "lower"}))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := a.ReadText("a.txt")
	if got != "lower" {
		t.Errorf("got %q, want exact match", got)
	}
}

func TestArchive_NotFound(t *testing.T) {
	a, err := OpenArchive(buildZip(t, member{"a.txt", "a"}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Read("missing.txt"); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("Read err = %v, want ErrMemberNotFound", err)
	}
	if _, err := a.ReadIndex(5); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("ReadIndex err = %v, want ErrMemberNotFound", err)
	}
}

func TestArchive_StripsBOM(t *testing.T) {
	a, err := OpenArchive(buildZip(t, member{"ch.xhtml", "\xEF\xBB\xBF<p>hi</p>"}))
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.ReadTextIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != "<p>hi</p>" {
		t.Errorf("got %q", got)
	}
}

func TestArchive_InvalidUTF8(t *testing.T) {
	a, err := OpenArchive(buildZip(t, member{"ch.xhtml", "<p>\xff\xfe</p>"}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.ReadText("ch.xhtml")
	if !errors.Is(err, ErrDecode) || !errors.Is(err, ErrReadFailure) {
		t.Errorf("err = %v, want ErrDecode and ErrReadFailure", err)
	}

	// Raw reads are unaffected.
	if _, err := a.Read("ch.xhtml"); err != nil {
		t.Errorf("Read: %v", err)
	}
}

func TestArchive_UnsafePath(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("../escape.png")
	f.Write([]byte("x"))
	w.Close()

	a, err := OpenArchive(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.ReadIndex(0); !errors.Is(err, ErrReadFailure) {
		t.Errorf("err = %v, want ErrReadFailure", err)
	}
}

func TestArchive_MemberLimit(t *testing.T) {
	a, err := OpenArchive(buildZip(t, member{"big.bin", "0123456789"}))
	if err != nil {
		t.Fatal(err)
	}
	a.limit = 4
	if _, err := a.ReadIndex(0); !errors.Is(err, ErrReadFailure) {
		t.Errorf("err = %v, want ErrReadFailure", err)
	}
}

func TestIsSafePath(t *testing.T) {
	tests := map[string]bool{
		"OEBPS/ch1.xhtml":  true,
		"word/media/a.png": true,
		"a/../b.png":       true,
		"../b.png":         false,
		"/etc/passwd":      false,
		"..":               false,
		"a/../../b.png":    false,
	}
	for p, want := range tests {
		if got := isSafePath(p); got != want {
			t.Errorf("isSafePath(%q) = %v, want %v", p, got, want)
		}
	}
}
