package multipath

import "testing"

func TestIncrementDecrement(t *testing.T) {
	c := New()
	c.Increment("u")
	c.Increment("u")
	if got := c.Count("u"); got != 2 {
		t.Fatalf("Count(u) = %d, want 2", got)
	}
	if got := c.Decrement("u"); got != 1 {
		t.Fatalf("first Decrement = %d, want 1", got)
	}
	if got := c.Decrement("u"); got != 0 {
		t.Fatalf("second Decrement = %d, want 0", got)
	}
	if got := c.Count("u"); got != 0 {
		t.Fatalf("Count(u) after last decrement = %d, want 0 (entry removed)", got)
	}
}

func TestDecrementMissingIsProtocolViolation(t *testing.T) {
	c := New()
	if got := c.Decrement("never-seen"); got != -1 {
		t.Fatalf("Decrement(never-seen) = %d, want -1", got)
	}
}
