package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/QuotaLedger/internal/config"
	"github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/security"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// InitRequest contains parameters for initial setup.
type InitRequest struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	AdminUsername    string
	AdminPassword    string
	Port             int
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "quotaledger.db"

const minAdminPasswordLen = 8

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// BuildDSN builds a database DSN from the init request.
func BuildDSN(req InitRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.DatabaseType)) {
	case "", "postgres":
		sslMode := req.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			req.DatabaseUser,
			req.DatabasePassword,
			req.DatabaseHost,
			req.DatabasePort,
			req.DatabaseName,
			sslMode,
		), nil
	case "sqlite":
		path := strings.TrimSpace(req.DatabasePath)
		if path == "" {
			path = defaultSQLitePath
		}
		if strings.HasPrefix(strings.ToLower(path), "file:") {
			return path, nil
		}
		return "file:" + path, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", req.DatabaseType)
	}
}

// validateInitRequest normalizes and validates init input data.
func validateInitRequest(req *InitRequest) error {
	dbType := strings.ToLower(strings.TrimSpace(req.DatabaseType))
	if dbType == "" {
		dbType = "sqlite"
	}
	req.DatabaseType = dbType

	switch dbType {
	case "postgres":
		if strings.TrimSpace(req.DatabaseHost) == "" {
			return fmt.Errorf("database host is required")
		}
		if req.DatabasePort <= 0 {
			return fmt.Errorf("invalid database port")
		}
		if strings.TrimSpace(req.DatabaseUser) == "" {
			return fmt.Errorf("database username is required")
		}
		if strings.TrimSpace(req.DatabaseName) == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if strings.TrimSpace(req.DatabasePath) == "" {
			req.DatabasePath = defaultSQLitePath
		}
	default:
		return fmt.Errorf("unsupported database type %q", req.DatabaseType)
	}

	req.AdminUsername = strings.TrimSpace(req.AdminUsername)
	if req.AdminUsername == "" {
		return fmt.Errorf("admin username is required")
	}
	if len(req.AdminPassword) < minAdminPasswordLen {
		return fmt.Errorf("admin password must be at least %d characters", minAdminPasswordLen)
	}
	if req.Port <= 0 || req.Port > 65535 {
		return fmt.Errorf("invalid port: %d", req.Port)
	}
	return nil
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	DatabaseDSN string              `yaml:"database-dsn"`
	Server      serverCfg           `yaml:"server"`
	JWT         jwtCfg              `yaml:"jwt"`
	Admin       adminCfg            `yaml:"admin"`
	Ledger      config.LedgerConfig `yaml:"ledger"`
}

type serverCfg struct {
	Port int `yaml:"port"`
}

// jwtCfg holds JWT settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type adminCfg struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password-hash"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() (string, error) {
	return security.GenerateRandomString(32)
}

// WriteConfigFile writes the initial config file to disk.
func WriteConfigFile(configPath, dsn string, port int, adminUsername, passwordHash string) error {
	secret, errSecret := generateJWTSecret()
	if errSecret != nil {
		return fmt.Errorf("generate jwt secret: %w", errSecret)
	}
	defaults := config.Default()
	cfg := configFile{
		DatabaseDSN: dsn,
		Server:      serverCfg{Port: port},
		JWT: jwtCfg{
			Secret: secret,
			Expiry: defaults.JWT.Expiry.String(),
		},
		Admin:  adminCfg{Username: adminUsername, PasswordHash: passwordHash},
		Ledger: defaults.Ledger,
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}

	return nil
}

// Initialize validates req, prepares the database and writes the config file.
// An existing config file is never overwritten.
func Initialize(configPath string, req InitRequest) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("config %s already exists", configPath)
	}
	if errValidate := validateInitRequest(&req); errValidate != nil {
		return errValidate
	}
	dsn, errBuild := BuildDSN(req)
	if errBuild != nil {
		return errBuild
	}

	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("failed to connect to database: %w", errOpen)
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return fmt.Errorf("migrate database: %w", errMigrate)
	}

	hash, errHash := security.HashPassword(req.AdminPassword)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}
	return WriteConfigFile(configPath, dsn, req.Port, req.AdminUsername, hash)
}
