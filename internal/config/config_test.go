package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flashflow/internal/config"
)

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClaimTTLMinutes() != 120 {
		t.Fatalf("default ttl = %d, want 120", cfg.ClaimTTLMinutes())
	}
	if cfg.Auth.AllowActorHeader {
		t.Fatal("actor header auth must be off by default")
	}
	if cfg.IsAdmin("anyone") {
		t.Fatal("default admin allowlist must be empty")
	}
}

func TestLoadParsesWorkspaceFile(t *testing.T) {
	workspace := t.TempDir()
	doc := strings.Join([]string{
		"defaults:",
		"  claim_ttl_minutes: 45",
		"admins:",
		"  - boss",
		"auth:",
		"  allow_actor_header: true",
		"notify:",
		"  ntfy_topic: https://ntfy.example/flashflow",
		"webhooks:",
		"  - url: https://hooks.example/flashflow",
		"    events: [handoff]",
	}, "\n")
	if err := os.WriteFile(filepath.Join(workspace, "flashflow.yml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClaimTTLMinutes() != 45 {
		t.Fatalf("ttl = %d, want 45", cfg.ClaimTTLMinutes())
	}
	if !cfg.IsAdmin("boss") || cfg.IsAdmin("alice") {
		t.Fatalf("admins = %v", cfg.Admins)
	}
	if !cfg.Auth.AllowActorHeader {
		t.Fatal("allow_actor_header not parsed")
	}
	if cfg.Notify.NtfyTopic != "https://ntfy.example/flashflow" {
		t.Fatalf("ntfy topic = %q", cfg.Notify.NtfyTopic)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://hooks.example/flashflow" {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"zero ttl", "defaults:\n  claim_ttl_minutes: 0"},
		{"negative ttl", "defaults:\n  claim_ttl_minutes: -5"},
		{"empty admin", "admins:\n  - \"\""},
		{"webhook without url", "webhooks:\n  - events: [claim]"},
		{"negative notify timeout", "notify:\n  timeout_seconds: -1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := config.FromYAML([]byte(tc.doc)); err == nil {
				t.Fatalf("expected validation error for %q", tc.doc)
			}
		})
	}
}
