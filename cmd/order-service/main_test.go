package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() { log.SetLevel(log.InfoLevel) })

	if err := setupLogger("debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}

	if err := setupLogger("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected fallback to info, got %s", log.GetLevel())
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("POD_TEST_DOTENV=from-file\nPOD_TEST_PRESET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("POD_TEST_PRESET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("POD_TEST_DOTENV") })

	if err := loadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	if got := os.Getenv("POD_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("expected value from .env, got %q", got)
	}
	if got := os.Getenv("POD_TEST_PRESET"); got != "from-env" {
		t.Fatalf("existing variable must win, got %q", got)
	}
}

func TestLoadDotEnvWithoutFiles(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env must be ignored: %v", err)
	}
}
