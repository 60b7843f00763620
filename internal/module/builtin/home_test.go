package builtin

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"
)

func currentUsername(t *testing.T) string {
	t.Helper()
	u, err := user.Current()
	if err != nil {
		t.Skipf("user.Current: %v", err)
	}
	return u.Username
}

func TestNewHomeCreatesRealPath(t *testing.T) {
	realBase := filepath.Join(t.TempDir(), "home")
	h, err := NewHome("realpath="+realBase+",noskel,nohomecheck", "/autofs")
	if err != nil {
		t.Fatalf("NewHome: %v", err)
	}
	if _, err := os.Stat(realBase); err != nil {
		t.Fatalf("expected realpath to be created: %v", err)
	}
	if h.Name() != "home" {
		t.Fatalf("Name() = %q, want home", h.Name())
	}
}

func TestNewHomeRejectsSameAsAutofsPath(t *testing.T) {
	realBase := filepath.Join(t.TempDir(), "home")
	_, err := NewHome("realpath="+realBase, realBase)
	if err == nil {
		t.Fatal("expected an error when home base equals realpath")
	}
}

func TestHomeDoWorkCreatesDirectoryWithoutSkel(t *testing.T) {
	name := currentUsername(t)
	realBase := filepath.Join(t.TempDir(), "home")
	h, err := NewHome("realpath="+realBase+",level=0,noskel,nohomecheck,mode=0755", "/autofs")
	if err != nil {
		t.Fatalf("NewHome: %v", err)
	}

	realDir, ok := h.DoWork(name, "/autofs")
	if !ok {
		t.Fatal("DoWork returned ok=false")
	}
	want := filepath.Join(realBase, name)
	if realDir != want {
		t.Fatalf("realDir = %q, want %q", realDir, want)
	}
	st, err := os.Stat(realDir)
	if err != nil {
		t.Fatalf("expected the home directory to exist: %v", err)
	}
	if !st.IsDir() {
		t.Fatal("expected a directory")
	}
	if st.Mode().Perm() != 0755 {
		t.Fatalf("mode = %o, want 0755", st.Mode().Perm())
	}
	if _, err := os.Stat(filepath.Join(realDir, homeStampFile)); !os.IsNotExist(err) {
		t.Fatal("noskel must not drop a stamp file")
	}
}

func TestHomeDoWorkCopiesSkelAndStamps(t *testing.T) {
	name := currentUsername(t)
	skel := t.TempDir()
	if err := os.WriteFile(filepath.Join(skel, "bashrc"), []byte("# skeleton"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(skel, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skel, "sub", "nested"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	realBase := filepath.Join(t.TempDir(), "home")
	h, err := NewHome("realpath="+realBase+",level=0,skel="+skel+",nohomecheck", "/autofs")
	if err != nil {
		t.Fatalf("NewHome: %v", err)
	}

	realDir, ok := h.DoWork(name, "/autofs")
	if !ok {
		t.Fatal("DoWork returned ok=false")
	}
	if _, err := os.Stat(filepath.Join(realDir, homeStampFile)); err != nil {
		t.Fatalf("expected a stamp file after skel copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(realDir, "bashrc")); err != nil {
		t.Fatalf("expected bashrc copied from skel: %v", err)
	}
	if _, err := os.Stat(filepath.Join(realDir, "sub", "nested")); err != nil {
		t.Fatalf("expected nested skel file copied: %v", err)
	}

	// Calling DoWork again must not error or re-copy now that the
	// stamp file is present.
	if _, ok := h.DoWork(name, "/autofs"); !ok {
		t.Fatal("second DoWork call should still succeed")
	}
}

func TestHomeDoWorkRejectsHomeBaseMismatch(t *testing.T) {
	name := currentUsername(t)
	realBase := filepath.Join(t.TempDir(), "home")
	h, err := NewHome("realpath="+realBase+",noskel", "/some/other/base")

	if err != nil {
		t.Fatalf("NewHome: %v", err)
	}
	if _, ok := h.DoWork(name, "/some/other/base"); ok {
		t.Fatal("expected DoWork to fail when the passwd home dir does not match autofsPath/name")
	}
}
