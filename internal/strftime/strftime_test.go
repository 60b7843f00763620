package strftime

import (
	"testing"
	"time"
)

func TestExpand(t *testing.T) {
	tm := time.Date(2026, 7, 30, 14, 5, 9, 0, time.UTC)
	got := Expand("backup-%Y-%m-%d_%H%M%S", tm)
	want := "backup-2026-07-30_140509"
	if got != want {
		t.Fatalf("Expand() = %q, want %q", got, want)
	}
}

func TestExpandLiteralPercent(t *testing.T) {
	tm := time.Now()
	if got := Expand("100%%done", tm); got != "100%done" {
		t.Fatalf("Expand() = %q, want %q", got, "100%done")
	}
}

func TestExpandUnknownConversionPassesThrough(t *testing.T) {
	tm := time.Now()
	if got := Expand("%Q", tm); got != "%Q" {
		t.Fatalf("Expand() = %q, want %q (unknown conversions pass through)", got, "%Q")
	}
}
