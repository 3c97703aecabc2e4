package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIngestRejectsNonPDF(t *testing.T) {
	ing := New(t.TempDir())
	_, err := ing.Ingest(context.Background(), "report.txt", []byte("hello"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIngestRejectsEmptyFile(t *testing.T) {
	ing := New(t.TempDir())
	_, err := ing.Ingest(context.Background(), "report.pdf", nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIngestRejectsTraversalName(t *testing.T) {
	ing := New(t.TempDir())
	_, err := ing.Ingest(context.Background(), "../../escape.pdf", []byte("x"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIngestWritesAndRemoves(t *testing.T) {
	dir := t.TempDir()
	ing := New(dir)

	data := []byte("%PDF-1.4 fake body")
	up, err := ing.Ingest(context.Background(), "Q2 Report.PDF", data)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if up.Size != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), up.Size)
	}
	if len(up.Hash) != 64 {
		t.Fatalf("expected sha256 hex hash, got %q", up.Hash)
	}
	if !strings.HasPrefix(filepath.Base(up.Path), "financial_document_") {
		t.Fatalf("unexpected scratch name %s", up.Path)
	}

	got, err := os.ReadFile(up.Path)
	if err != nil {
		t.Fatalf("read scratch file: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("scratch content mismatch")
	}

	up.Remove()
	if _, err := os.Stat(up.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected scratch file removed, stat err=%v", err)
	}
	// Second Remove is a no-op.
	up.Remove()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty work dir, found %d entries", len(entries))
	}
}

func TestIngestUniqueNamesPerRequest(t *testing.T) {
	ing := New(t.TempDir())
	a, err := ing.Ingest(context.Background(), "a.pdf", []byte("same"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	b, err := ing.Ingest(context.Background(), "a.pdf", []byte("same"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	t.Cleanup(func() { a.Remove(); b.Remove() })
	if a.Path == b.Path {
		t.Fatalf("expected unique scratch paths, both %s", a.Path)
	}
	if a.Hash != b.Hash {
		t.Fatalf("expected identical content to hash identically")
	}
}
