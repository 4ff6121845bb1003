package tracker

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("tracker", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.DBPath != "taskmirror.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if got := cfg.ListenAddr(); got != ":8080" {
		t.Fatalf("listen addr = %q, want :8080", got)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("TASKMIRROR_PORT", "9000")
	t.Setenv("TASKMIRROR_DB_PATH", "/tmp/env.db")

	fs := flag.NewFlagSet("tracker", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-db", "/tmp/flag.db"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port = %d, want env value 9000", cfg.Port)
	}
	if cfg.DBPath != "/tmp/flag.db" {
		t.Fatalf("db path = %q, want flag value", cfg.DBPath)
	}
}

func TestListenAddrPrefersExplicitAddr(t *testing.T) {
	cfg := Config{Port: 8080, Addr: "127.0.0.1:7000"}
	if got := cfg.ListenAddr(); got != "127.0.0.1:7000" {
		t.Fatalf("listen addr = %q", got)
	}
}
