package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/QuotaLedger/internal/app"
	"github.com/router-for-me/QuotaLedger/internal/config"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run dispatches to serve (default), migrate or init.
func run(ctx context.Context, args []string) error {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	port := fs.Int("port", 8318, "server port written by init")
	dbType := fs.String("db-type", "sqlite", "init: sqlite or postgres")
	dbPath := fs.String("db-path", "", "init: sqlite database file")
	dbHost := fs.String("db-host", "", "init: postgres host")
	dbPort := fs.Int("db-port", 5432, "init: postgres port")
	dbUser := fs.String("db-user", "", "init: postgres user")
	dbName := fs.String("db-name", "", "init: postgres database")
	dbSSLMode := fs.String("db-sslmode", "", "init: postgres sslmode")
	adminUser := fs.String("admin-user", "admin", "init: admin username")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errEnv := config.LoadDotEnv(*envFile); errEnv != nil {
		return errEnv
	}
	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	switch command {
	case "serve":
		return app.RunServer(ctx, appCfg)
	case "migrate":
		return app.Migrate(ctx, appCfg)
	case "init":
		return app.Initialize(config.ResolveConfigPath(appCfg.ConfigPath), app.InitRequest{
			DatabaseType:     *dbType,
			DatabaseHost:     *dbHost,
			DatabasePort:     *dbPort,
			DatabaseUser:     *dbUser,
			DatabasePassword: os.Getenv("INIT_DB_PASSWORD"),
			DatabaseName:     *dbName,
			DatabasePath:     *dbPath,
			DatabaseSSLMode:  *dbSSLMode,
			AdminUsername:    *adminUser,
			AdminPassword:    os.Getenv("INIT_ADMIN_PASSWORD"),
			Port:             *port,
		})
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate or init)", command)
	}
}
