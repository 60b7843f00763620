package builtin

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewMiscCreatesRealPath(t *testing.T) {
	realBase := filepath.Join(t.TempDir(), "misc")
	m, err := NewMisc("realpath="+realBase+",level=0,owner=root,group=root", "/autofs")
	if err != nil {
		t.Fatalf("NewMisc: %v", err)
	}
	if _, err := os.Stat(realBase); err != nil {
		t.Fatalf("expected realpath to be created: %v", err)
	}
	if m.Name() != "misc" {
		t.Fatalf("Name() = %q, want misc", m.Name())
	}
}

func TestNewMiscRejectsSameAsAutofsPath(t *testing.T) {
	realBase := filepath.Join(t.TempDir(), "misc")
	_, err := NewMisc("realpath="+realBase+",owner=root,group=root", realBase)
	if err == nil {
		t.Fatal("expected an error when the misc dir equals the autofs dir")
	}
}

func TestMiscDoWorkMaterializesDirectory(t *testing.T) {
	realBase := filepath.Join(t.TempDir(), "misc")
	m, err := NewMisc("realpath="+realBase+",level=0,owner=root,group=root,mode=0750", "/autofs")
	if err != nil {
		t.Fatalf("NewMisc: %v", err)
	}

	realDir, ok := m.DoWork("shared", "/autofs")
	if !ok {
		t.Fatal("DoWork returned ok=false")
	}
	want := filepath.Join(realBase, "shared")
	if realDir != want {
		t.Fatalf("realDir = %q, want %q", realDir, want)
	}
	st, err := os.Stat(realDir)
	if err != nil {
		t.Fatalf("expected the directory to exist: %v", err)
	}
	if !st.IsDir() {
		t.Fatal("expected a directory")
	}
	if st.Mode().Perm() != 0750 {
		t.Fatalf("mode = %o, want 0750", st.Mode().Perm())
	}

	if got := m.RealDir("/autofs", "shared"); got != want {
		t.Fatalf("RealDir = %q, want %q", got, want)
	}
}

func TestMiscDoWorkRejectsOverlongName(t *testing.T) {
	realBase := filepath.Join(t.TempDir(), "misc")
	m, err := NewMisc("realpath="+realBase+",owner=root,group=root", "/autofs")
	if err != nil {
		t.Fatalf("NewMisc: %v", err)
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if _, ok := m.DoWork(string(long), "/autofs"); ok {
		t.Fatal("expected DoWork to reject a name longer than NAME_MAX")
	}
}

func TestMiscFastModeSkipsRecheck(t *testing.T) {
	realBase := filepath.Join(t.TempDir(), "misc")
	m, err := NewMisc("realpath="+realBase+",level=0,owner=root,group=root,fastmode", "/autofs")
	if err != nil {
		t.Fatalf("NewMisc: %v", err)
	}

	want := filepath.Join(realBase, "cached")
	if err := os.MkdirAll(want, 0755); err != nil {
		t.Fatal(err)
	}

	got, ok := m.DoWork("cached", "/autofs")
	if !ok || got != want {
		t.Fatalf("DoWork = (%q, %v), want (%q, true)", got, ok, want)
	}
}
