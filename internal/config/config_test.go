package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadScheme(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint = "http://127.0.0.1:8791/ws/chat"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

func TestValidateRejectsUnknownApprovalMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApprovalMode = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown approval mode")
	}
}

func TestValidateRejectsInvertedBackoffBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectBaseDelay = 5 * time.Second
	cfg.ReconnectMaxDelay = time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max delay below base delay")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultConfig()
	if cfg.Endpoint != def.Endpoint || cfg.MaxReconnectAttempts != def.MaxReconnectAttempts {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inferbridge.yaml")
	body := "endpoint: wss://infer.example:9000/ws/chat\nmax_reconnect_attempts: 2\napproval_mode: per_tool\napproved_tools:\n  - search\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "wss://infer.example:9000/ws/chat" {
		t.Fatalf("endpoint not overridden: %q", cfg.Endpoint)
	}
	if cfg.MaxReconnectAttempts != 2 {
		t.Fatalf("attempts not overridden: %d", cfg.MaxReconnectAttempts)
	}
	if cfg.ApprovalMode != ApprovalPerTool {
		t.Fatalf("approval mode not overridden: %q", cfg.ApprovalMode)
	}
	if len(cfg.ApprovedTools) != 1 || cfg.ApprovedTools[0] != "search" {
		t.Fatalf("unexpected per-tool list %+v", cfg.ApprovedTools)
	}
	// Untouched keys keep defaults.
	if cfg.PingInterval != DefaultConfig().PingInterval {
		t.Fatalf("ping interval should default, got %v", cfg.PingInterval)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inferbridge.yaml")
	if err := os.WriteFile(path, []byte("approval_mode: maybe\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
