package argvtemplate

import (
	"testing"
	"time"
)

func TestExpandStaticAndDynamicTokens(t *testing.T) {
	tpl := New("/usr/local/bin/backup --name=%N --path=%L")
	argv := tpl.Expand("alice", "/home/alice", time.Now())

	want := []string{"/usr/local/bin/backup", "--name=alice", "--path=/home/alice"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestExpandFallsThroughToStrftime(t *testing.T) {
	tpl := New("/bin/backup --stamp=%Y%m%d-%N")
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	argv := tpl.Expand("bob", "/home/bob", now)

	if argv[1] != "--stamp=20260102-bob" {
		t.Fatalf("argv[1] = %q, want %q", argv[1], "--stamp=20260102-bob")
	}
}

func TestEmptyTemplate(t *testing.T) {
	tpl := New("   ")
	if !tpl.Empty() {
		t.Fatal("Empty() = false for blank template")
	}
}
