package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/QuotaLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// migrationLockKey serializes concurrent migrators on PostgreSQL.
const migrationLockKey = 7_263_001

// Migrate applies every pending migration in order. Each script runs in its own
// transaction together with its schema_migrations row, so a script is applied at
// most once.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	replacer, errDialect := dialectReplacer(DialectName(conn))
	if errDialect != nil {
		return errDialect
	}
	if errLedger := ensureMigrationTable(conn, replacer); errLedger != nil {
		return errLedger
	}

	applied, errApplied := appliedVersions(conn)
	if errApplied != nil {
		return errApplied
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		item := m
		skipped := false
		errTx := conn.Transaction(func(tx *gorm.DB) error {
			if !IsSQLite(tx) {
				if errLock := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error; errLock != nil {
					return fmt.Errorf("lock: %w", errLock)
				}
				var count int64
				if errCount := tx.Model(&models.SchemaMigration{}).Where("version = ?", item.version).Count(&count).Error; errCount != nil {
					return fmt.Errorf("recheck: %w", errCount)
				}
				if count > 0 {
					skipped = true
					return nil
				}
			}
			for i, stmt := range item.statements {
				if errExec := tx.Exec(replacer.Replace(stmt)).Error; errExec != nil {
					return fmt.Errorf("statement %d: %w", i+1, errExec)
				}
			}
			return tx.Create(&models.SchemaMigration{
				Version:   item.version,
				Name:      item.name,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if errTx != nil {
			return fmt.Errorf("db: migrate %s: %w", migrationLabel(item), errTx)
		}
		if !skipped {
			log.WithField("migration", migrationLabel(item)).Info("db: applied migration")
		}
	}
	return nil
}

// Pending returns the labels of migrations not yet applied.
func Pending(conn *gorm.DB) ([]string, error) {
	if conn == nil {
		return nil, fmt.Errorf("db: nil connection")
	}
	if !conn.Migrator().HasTable(&models.SchemaMigration{}) {
		out := make([]string, 0, len(migrations))
		for _, m := range migrations {
			out = append(out, migrationLabel(m))
		}
		return out, nil
	}
	applied, errApplied := appliedVersions(conn)
	if errApplied != nil {
		return nil, errApplied
	}
	var out []string
	for _, m := range migrations {
		if !applied[m.version] {
			out = append(out, migrationLabel(m))
		}
	}
	return out, nil
}

func ensureMigrationTable(conn *gorm.DB, replacer *strings.Replacer) error {
	ddl := `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		applied_at {{ts}} NOT NULL
	)`
	if errCreate := conn.Exec(replacer.Replace(ddl)).Error; errCreate != nil {
		return fmt.Errorf("db: create schema_migrations: %w", errCreate)
	}
	return nil
}

func appliedVersions(conn *gorm.DB) (map[int]bool, error) {
	var versions []int
	if errPluck := conn.Model(&models.SchemaMigration{}).Pluck("version", &versions).Error; errPluck != nil {
		return nil, fmt.Errorf("db: list applied migrations: %w", errPluck)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func dialectReplacer(dialect string) (*strings.Replacer, error) {
	switch dialect {
	case DialectSQLite:
		return strings.NewReplacer(
			"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{ref}}", "INTEGER",
			"{{ts}}", "DATETIME",
			"{{json}}", "JSON",
			"{{now}}", "CURRENT_TIMESTAMP",
		), nil
	case DialectPostgres, "":
		return strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{ref}}", "BIGINT",
			"{{ts}}", "TIMESTAMPTZ",
			"{{json}}", "JSONB",
			"{{now}}", "CURRENT_TIMESTAMP",
		), nil
	default:
		return nil, fmt.Errorf("db: unsupported dialect: %s", dialect)
	}
}

func migrationLabel(m migration) string {
	return fmt.Sprintf("%03d_%s", m.version, m.name)
}
