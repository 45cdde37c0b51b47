package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/folio/manuscript"
)

func writeEpub(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range [][2]string{
		{"mimetype", "application/epub+zip"},
		{"OEBPS/img/a.png", "\x89PNG\r\n\x1a\n"},
		{"OEBPS/ch1.xhtml", `<html><body><p>Hi</p><img src="img/a.png"/></body></html>`},
	} {
		fw, _ := w.Create(f[0])
		fw.Write([]byte(f[1]))
	}
	w.Close()
	path := filepath.Join(t.TempDir(), "book.epub")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDetectCommand(t *testing.T) {
	out, err := execute(t, "detect", writeEpub(t))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "epub" {
		t.Errorf("out = %q", out)
	}
}

func TestExtractCommand_DryRun(t *testing.T) {
	out, err := execute(t, "extract", writeEpub(t), "--namespace", "book1", "--dry-run")
	if err != nil {
		t.Fatal(err)
	}
	var content manuscript.ExtractedContent
	if err := json.Unmarshal([]byte(out), &content); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if content.Format != manuscript.FormatEpub || len(content.Images) != 1 {
		t.Fatalf("content = %+v", content)
	}
	url := content.Images[0].URL
	if !strings.HasPrefix(url, dryRunURL+"/content-images/book1/") {
		t.Errorf("url = %q", url)
	}
	if !strings.Contains(content.HTML, `src="`+url+`"`) {
		t.Errorf("sanitized html lost the rewritten src: %s", content.HTML)
	}
}

func TestServePrefix(t *testing.T) {
	if p, err := servePrefix("http://localhost:8080/files/"); err != nil || p != "/files" {
		t.Errorf("prefix = %q, err = %v", p, err)
	}
	if _, err := servePrefix("https://cdn.example.com"); err == nil {
		t.Error("root public url accepted for dir driver")
	}
}
