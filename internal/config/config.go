package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath        = "CONFIG_PATH"
	EnvDBConnection      = "DB_CONNECTION"
	EnvJWTSecret         = "JWT_SECRET"
	EnvJWTExpiry         = "JWT_EXPIRY"
	EnvPaywallEnabled    = "PAYWALL_ENABLED"
	EnvAdminAccountIDs   = "ADMIN_ACCOUNT_IDS"
	EnvPremiumAccountIDs = "PREMIUM_ACCOUNT_IDS"
	EnvUsageTZOffset     = "USAGE_TZ_OFFSET"
	EnvRedisAddr         = "REDIS_ADDR"
	EnvLogLevel          = "LOG_LEVEL"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, errStat := os.Stat(p); errStat != nil {
			continue
		}
		if errLoad := godotenv.Load(p); errLoad != nil {
			return fmt.Errorf("load %s: %w", p, errLoad)
		}
	}
	return nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// Config is the full service configuration.
type Config struct {
	DatabaseDSN string          `yaml:"database-dsn"`
	Database    DatabaseConfig  `yaml:"database"`
	Server      ServerConfig    `yaml:"server"`
	Log         LogConfig       `yaml:"log"`
	JWT         JWTConfig       `yaml:"jwt"`
	Admin       AdminConfig     `yaml:"admin"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Access      AccessConfig    `yaml:"access"`
	Allowances  []Allowance     `yaml:"allowances"`
	Cache       CacheConfig     `yaml:"cache"`
	RateLimit   RateLimitConfig `yaml:"rate-limit"`
	Redis       RedisConfig     `yaml:"redis"`
}

// DatabaseConfig is the nested form of the DSN setting.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level string `yaml:"level"`
}

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// AdminConfig holds the admin console login.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password-hash"`
}

// LedgerConfig configures entitlement cycles and usage days.
type LedgerConfig struct {
	DefaultPlan   string `yaml:"default-plan"`
	UsageTZOffset string `yaml:"usage-tz-offset"`
	TrialDays     int    `yaml:"trial-days"`
}

// AccessConfig configures the paywall policy.
type AccessConfig struct {
	PaywallEnabled    bool     `yaml:"paywall-enabled"`
	AdminAccountIDs   []uint64 `yaml:"admin-account-ids"`
	PremiumAccountIDs []uint64 `yaml:"premium-account-ids"`
}

// Allowance is a named free allowance counted per usage window.
type Allowance struct {
	Name       string `yaml:"name"`
	Window     string `yaml:"window"`
	Limit      int64  `yaml:"limit"`
	TrialLimit *int64 `yaml:"trial-limit"`
}

// CacheConfig configures the balance read-through cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// RateLimitConfig configures the per-account request throttle.
type RateLimitConfig struct {
	Limit        int  `yaml:"limit"`
	RedisEnabled bool `yaml:"redis-enabled"`
}

// RedisConfig is shared by the cache and the throttle.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

const (
	defaultPort      = 8318
	defaultTrialDays = 5
	defaultLogLevel  = "info"
)

// Default returns the configuration used for keys the file omits.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: defaultPort},
		Log:    LogConfig{Level: defaultLogLevel},
		JWT:    JWTConfig{Expiry: defaultJWTExpiry},
		Ledger: LedgerConfig{
			DefaultPlan:   "free",
			UsageTZOffset: "+09:00",
			TrialDays:     defaultTrialDays,
		},
		Access: AccessConfig{PaywallEnabled: false},
		Allowances: []Allowance{
			{Name: "general_chat", Window: "day", Limit: 0, TrialLimit: ptr(int64(2))},
			{Name: "one_oracle", Window: "day", Limit: 1, TrialLimit: ptr(int64(2))},
		},
		Cache: CacheConfig{TTL: 30 * time.Second},
	}
}

// Load reads the YAML file at configPath on top of Default and applies the
// environment overrides. A missing file is not an error; a missing DSN is.
func Load(configPath string) (Config, error) {
	cfg := Default()

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case !errors.Is(errRead, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	if errEnv := applyEnv(&cfg); errEnv != nil {
		return Config{}, errEnv
	}

	cfg.DatabaseDSN = strings.TrimSpace(cfg.DatabaseDSN)
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.DatabaseDSN == "" {
		return Config{}, ErrMissingDatabaseDSN
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}
	if _, errLoc := cfg.Ledger.Location(); errLoc != nil {
		return Config{}, errLoc
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
	if raw, ok := os.LookupEnv(EnvPaywallEnabled); ok {
		cfg.Access.PaywallEnabled = parseBool(raw)
	}
	if raw, ok := os.LookupEnv(EnvAdminAccountIDs); ok {
		cfg.Access.AdminAccountIDs = parseIDList(raw)
	}
	if raw, ok := os.LookupEnv(EnvPremiumAccountIDs); ok {
		cfg.Access.PremiumAccountIDs = parseIDList(raw)
	}
	if offset := strings.TrimSpace(os.Getenv(EnvUsageTZOffset)); offset != "" {
		cfg.Ledger.UsageTZOffset = offset
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.Log.Level = level
	}
	return nil
}

// Location returns the fixed usage timezone described by UsageTZOffset, which is
// either "+HH:MM"/"-HH:MM" or a whole number of hours.
func (c LedgerConfig) Location() (*time.Location, error) {
	raw := strings.TrimSpace(c.UsageTZOffset)
	if raw == "" {
		raw = "+09:00"
	}
	seconds, errParse := parseOffset(raw)
	if errParse != nil {
		return nil, fmt.Errorf("parse usage-tz-offset %q: %w", raw, errParse)
	}
	if seconds == 9*60*60 {
		return time.FixedZone("JST", seconds), nil
	}
	return time.FixedZone("UTC"+raw, seconds), nil
}

func parseOffset(raw string) (int, error) {
	if hours, errAtoi := strconv.Atoi(raw); errAtoi == nil {
		if hours < -14 || hours > 14 {
			return 0, errors.New("offset out of range")
		}
		return hours * 60 * 60, nil
	}
	parsed, errParse := time.Parse("-07:00", raw)
	if errParse != nil {
		return 0, errParse
	}
	_, seconds := parsed.Zone()
	return seconds, nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// parseIDList reads a comma-separated id list, skipping malformed entries.
func parseIDList(raw string) []uint64 {
	var ids []uint64
	for _, part := range strings.Split(raw, ",") {
		candidate := strings.TrimSpace(part)
		if candidate == "" {
			continue
		}
		id, errParse := strconv.ParseUint(candidate, 10, 64)
		if errParse != nil || id == 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func ptr[T any](v T) *T { return &v }

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 12 * time.Hour
