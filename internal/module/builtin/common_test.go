package builtin

import "testing"

func TestSubopts(t *testing.T) {
	got := subopts("realpath=/x,noskel,level=1")
	want := map[string]string{"realpath": "/x", "noskel": "", "level": "1"}
	if len(got) != len(want) {
		t.Fatalf("subopts = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("subopts[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestParseLevelRejectsAboveTwo(t *testing.T) {
	if _, err := parseLevel("3", 2); err == nil {
		t.Fatal("expected an error for level > 2")
	}
}

func TestParseModeRejectsOutOfRange(t *testing.T) {
	if _, err := parseMode("9999", 0700); err == nil {
		t.Fatal("expected an error for an out-of-range octal mode")
	}
	if _, err := parseMode("77777777", 0700); err == nil {
		t.Fatal("expected an error for an overlong mode string")
	}
}

func TestParseModeDefaultOnEmpty(t *testing.T) {
	m, err := parseMode("", 0711)
	if err != nil {
		t.Fatal(err)
	}
	if m != 0711 {
		t.Fatalf("mode = %o, want 0711", m)
	}
}

func TestShardedPathLevels(t *testing.T) {
	cases := []struct {
		level int
		name  string
		want  string
	}{
		{0, "Alice", "/base/Alice"},
		{1, "Alice", "/base/a/Alice"},
		{2, "Alice", "/base/a/al/Alice"},
		{2, "X", "/base/x/xx/X"},
	}
	for _, c := range cases {
		got := shardedPath("/base", c.level, c.name)
		if got != c.want {
			t.Fatalf("shardedPath(level=%d, %q) = %q, want %q", c.level, c.name, got, c.want)
		}
	}
}
