package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPersistSniffsContentType(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	// Minimal PNG header plus padding.
	data := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 32)...)
	art, err := store.Persist(context.Background(), PersistInput{
		Data:      data,
		Direction: DirectionInbound,
		MaxBytes:  1024,
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if art.ContentType != "image/png" {
		t.Fatalf("unexpected content type: %s", art.ContentType)
	}
	if !strings.HasSuffix(art.Path, ".png") {
		t.Fatalf("unexpected extension: %s", art.Path)
	}
	if filepath.Base(filepath.Dir(art.Path)) != "inbound" {
		t.Fatalf("unexpected direction dir: %s", art.Path)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
}

func TestPersistRejectsOversize(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	_, err := store.Persist(context.Background(), PersistInput{
		Data:     make([]byte, 100),
		MaxBytes: 10,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "artifact too large") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPersistRejectsEmpty(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	if _, err := store.Persist(context.Background(), PersistInput{}); err != ErrEmptyArtifact {
		t.Fatalf("unexpected error: %v", err)
	}
}
