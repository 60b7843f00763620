package module

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckModuleFileMissing(t *testing.T) {
	dir := t.TempDir()
	err := checkModuleFile(filepath.Join(dir, "nope.so"))
	if err == nil {
		t.Fatal("expected an error for a missing module file")
	}
}

func TestCheckModuleFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	err := checkModuleFile(dir)
	if err == nil {
		t.Fatal("expected an error when the module path is a directory")
	}
}

func TestCheckModuleFileRejectsWorldWritable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.so")
	if err := os.WriteFile(path, []byte("not a real plugin"), 0666); err != nil {
		t.Fatal(err)
	}
	// WriteFile's mode is filtered by the umask; set it explicitly.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	err := checkModuleFile(path)
	if err == nil {
		t.Fatal("expected an error for a world-writable module file")
	}
}

func TestCheckModuleFileAcceptsOwnedNonWritable(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires running as the file owner to exercise the root-owned path")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.so")
	if err := os.WriteFile(path, []byte("not a real plugin"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := checkModuleFile(path); err != nil {
		t.Fatalf("checkModuleFile: %v", err)
	}
}
