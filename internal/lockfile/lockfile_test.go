package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, os.Getpid())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.Create("a"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !r.Has("a") {
		t.Fatal("Has(a) = false after Create")
	}

	path := filepath.Join(dir, "a.lock")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("lock file is empty, want PID text")
	}

	r.Remove("a")
	if r.Has("a") {
		t.Fatal("Has(a) = true after Remove")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file still exists after Remove (sole holder should unlink): %v", err)
	}
}

func TestRemoveUnknownNameIsNoop(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, os.Getpid())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Remove("never-created")
}
