package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"explode", "-env-file", filepath.Join(t.TempDir(), "none.env")})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("run() error = %v, want unknown command", err)
	}
}

func TestRunInitThenMigrate(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	envFile := filepath.Join(dir, "none.env")
	t.Setenv("INIT_ADMIN_PASSWORD", "correct horse")
	t.Setenv("DB_CONNECTION", "")

	args := []string{"init", "-config", configPath, "-env-file", envFile, "-db-path", filepath.Join(dir, "q.db")}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("init error = %v", err)
	}
	if err := run(context.Background(), []string{"migrate", "-config", configPath, "-env-file", envFile}); err != nil {
		t.Fatalf("migrate error = %v", err)
	}
}
