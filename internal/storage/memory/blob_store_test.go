package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sitegrab/sitegrab/internal/storage"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.Put(context.Background(), "jobs/a/doc.pdf", "application/pdf", bytes.NewReader([]byte("payload")))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if uri != "memory://jobs/a/doc.pdf" {
		t.Fatalf("unexpected uri %s", uri)
	}

	r, err := store.Open(context.Background(), "jobs/a/doc.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "payload" {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestBlobStoreOpenMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.Open(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlobStoreDelete(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.Put(context.Background(), "x", "", bytes.NewReader([]byte("1")))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(context.Background(), "x"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, have %d objects", store.Len())
	}
	if err := store.Delete(context.Background(), "x"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}
