package config

import (
	"flag"
	"testing"
	"time"
)

func TestParseRequiresDirectory(t *testing.T) {
	if _, err := Parse("autodird", []string{"-m", "/opt/mod.so"}); err == nil {
		t.Fatal("expected an error when -d/--directory is missing")
	}
}

func TestParseRequiresModule(t *testing.T) {
	if _, err := Parse("autodird", []string{"-d", "/autofs"}); err == nil {
		t.Fatal("expected an error when -m/--module is missing")
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("autodird", []string{"-d", "/autofs", "-m", "/opt/mod.so"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Timeout != 300*time.Second {
		t.Fatalf("Timeout = %v, want 300s", cfg.Timeout)
	}
	if cfg.MaxBackups != defaultMaxBackups {
		t.Fatalf("MaxBackups = %d, want %d", cfg.MaxBackups, defaultMaxBackups)
	}
	if cfg.Prefix != '.' {
		t.Fatalf("Prefix = %q, want '.'", cfg.Prefix)
	}
	if cfg.HasPriority {
		t.Fatal("HasPriority should be false when -p was not passed")
	}
}

func TestParseRejectsWaitAboveMax(t *testing.T) {
	_, err := Parse("autodird", []string{"-d", "/autofs", "-m", "/opt/mod.so", "-w", "86401"})
	if err == nil {
		t.Fatal("expected an error for -w above the one-day maximum")
	}
}

func TestParsePriorityMapping(t *testing.T) {
	cfg, err := Parse("autodird", []string{"-d", "/autofs", "-m", "/opt/mod.so", "-p", "1"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.HasPriority || cfg.Priority != -20 {
		t.Fatalf("Priority = %d (has=%v), want -20", cfg.Priority, cfg.HasPriority)
	}

	cfg, err = Parse("autodird", []string{"-d", "/autofs", "-m", "/opt/mod.so", "-p", "40"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Priority != 19 {
		t.Fatalf("Priority = %d, want 19", cfg.Priority)
	}
}

func TestParsePriorityOutOfRange(t *testing.T) {
	if _, err := Parse("autodird", []string{"-d", "/autofs", "-m", "/opt/mod.so", "-p", "41"}); err == nil {
		t.Fatal("expected an error for an out-of-range priority")
	}
}

func TestParseLockDirDefaultsToModuleName(t *testing.T) {
	cfg, err := Parse("autodird", []string{"-d", "/autofs", "-m", "/opt/lib/home.so", "-k"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := "/var/lock/home.so"
	if cfg.LockDir != want {
		t.Fatalf("LockDir = %q, want %q", cfg.LockDir, want)
	}
}

func TestParseHelpReturnsErrHelp(t *testing.T) {
	_, err := Parse("autodird", []string{"-h"})
	if err != flag.ErrHelp {
		t.Fatalf("Parse(-h) = %v, want flag.ErrHelp", err)
	}
}

func TestParseRejectsRelativeDirectory(t *testing.T) {
	if _, err := Parse("autodird", []string{"-d", "autofs", "-m", "/opt/mod.so"}); err == nil {
		t.Fatal("expected an error for a relative -d/--directory")
	}
}
