package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.Tasks.AssigneeFields; len(got) != 2 || got[0] != "status" || got[1] != "comments" {
		t.Fatalf("unexpected assignee fields %v", got)
	}
	if cfg.Audit.WriteRetries != 1 {
		t.Fatalf("expected one audit retry, got %d", cfg.Audit.WriteRetries)
	}
	ttl, err := cfg.AccessTTL()
	if err != nil || ttl != 15*time.Minute {
		t.Fatalf("access ttl = %v, %v", ttl, err)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
auth:
  allow_anonymous_task_read: true
  admins: [root]
tasks:
  due_soon_days: 5
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Auth.AllowAnonymousTaskRead {
		t.Fatalf("expected anonymous task read enabled")
	}
	if !cfg.IsAdmin("root") || cfg.IsAdmin("bob") {
		t.Fatalf("admin list not applied: %v", cfg.Auth.Admins)
	}
	if cfg.Tasks.DueSoonDays != 5 {
		t.Fatalf("due soon days = %d", cfg.Tasks.DueSoonDays)
	}
	if cfg.Audit.WriteRetries != 1 {
		t.Fatalf("expected default audit retries preserved")
	}
}

func TestFromYAMLRejectsUnknownKeys(t *testing.T) {
	_, err := FromYAML([]byte("auth:\n  allow_everything: true\n"))
	if err == nil {
		t.Fatalf("expected schema error")
	}
	if !strings.Contains(err.Error(), "config.auth") {
		t.Fatalf("expected error to point at config.auth, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad ttl":            "auth:\n  access_token_ttl: soon\n",
		"negative retries":   "audit:\n  write_retries: -1\n",
		"unknown field":      "tasks:\n  assignee_fields: [budget]\n",
		"bad log level":      "log:\n  level: chatty\n",
		"bad role name":      "roles:\n  Admin Team:\n    description: x\n",
		"non-positive ttl":   "auth:\n  refresh_token_ttl: 0s\n",
		"empty admin actor":  "auth:\n  admins: [\"\"]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %q", doc)
			}
		})
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.HasRole("admin") {
		t.Fatalf("expected default roles")
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("audit:\n  write_retries: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audit.WriteRetries != 2 {
		t.Fatalf("write retries = %d", cfg.Audit.WriteRetries)
	}
}
