package app

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/router-for-me/QuotaLedger/internal/config"
	"github.com/router-for-me/QuotaLedger/internal/security"
)

func TestBuildDSN(t *testing.T) {
	dsn, err := BuildDSN(InitRequest{
		DatabaseType:     "postgres",
		DatabaseHost:     "db",
		DatabasePort:     5432,
		DatabaseUser:     "ledger",
		DatabasePassword: "secret",
		DatabaseName:     "quota",
	})
	if err != nil {
		t.Fatalf("BuildDSN() error = %v", err)
	}
	if dsn != "postgres://ledger:secret@db:5432/quota?sslmode=disable" {
		t.Fatalf("BuildDSN() = %q", dsn)
	}

	dsn, err = BuildDSN(InitRequest{DatabaseType: "sqlite", DatabasePath: "data/q.db"})
	if err != nil || dsn != "file:data/q.db" {
		t.Fatalf("BuildDSN(sqlite) = %q, %v", dsn, err)
	}
	if _, err = BuildDSN(InitRequest{DatabaseType: "mysql"}); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}

func TestValidateInitRequest(t *testing.T) {
	req := InitRequest{AdminUsername: " root ", AdminPassword: "long-enough", Port: 8318}
	if err := validateInitRequest(&req); err != nil {
		t.Fatalf("validateInitRequest() error = %v", err)
	}
	if req.DatabaseType != "sqlite" || req.DatabasePath != defaultSQLitePath || req.AdminUsername != "root" {
		t.Fatalf("unexpected normalization: %+v", req)
	}

	short := InitRequest{AdminUsername: "root", AdminPassword: "short", Port: 8318}
	if err := validateInitRequest(&short); err == nil {
		t.Fatalf("expected short password error")
	}
	pg := InitRequest{DatabaseType: "postgres", AdminUsername: "root", AdminPassword: "long-enough", Port: 8318}
	if err := validateInitRequest(&pg); err == nil || !strings.Contains(err.Error(), "host") {
		t.Fatalf("expected missing host error, got %v", err)
	}
}

func TestInitializeWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	req := InitRequest{
		DatabaseType:  "sqlite",
		DatabasePath:  filepath.Join(dir, "ledger.db"),
		AdminUsername: "root",
		AdminPassword: "correct horse",
		Port:          9000,
	}
	if err := Initialize(configPath, req); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Setenv(config.EnvDBConnection, "")

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Admin.Username != "root" || cfg.JWT.Secret == "" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !strings.HasPrefix(cfg.DatabaseDSN, "file:") {
		t.Fatalf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}

	tokens := security.NewTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, nil)
	if _, _, errLogin := tokens.Login("root", "correct horse", cfg.Admin.Username, cfg.Admin.PasswordHash); errLogin != nil {
		t.Fatalf("Login() error = %v", errLogin)
	}

	if err := Initialize(configPath, req); err == nil {
		t.Fatalf("expected existing config error")
	}
}
