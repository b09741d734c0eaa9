// Package dbtest provides database fixtures for package tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open returns a migrated SQLite database in a per-test temp directory.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "quotaledger-test.db"))
	require.NoError(t, err, "open sqlite")
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.Migrate(conn), "migrate")
	return conn
}

// CreateAccount inserts a bare account row and returns its id.
func CreateAccount(t *testing.T, conn *gorm.DB, now time.Time) uint64 {
	t.Helper()
	account := models.Account{Lang: "ja", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&account).Error, "create account")
	return account.ID
}

// Mock wraps a GORM handle on the postgres dialector backed by sqlmock.
type Mock struct {
	DB    *gorm.DB
	Mock  sqlmock.Sqlmock
	SqlDB *sql.DB
}

// NewMock builds a Mock; expectations are verified on cleanup.
func NewMock(t *testing.T) *Mock {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err, "create sqlmock")

	conn, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err, "open gorm on sqlmock")

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet(), "unmet sql expectations")
		_ = sqlDB.Close()
	})
	return &Mock{DB: conn, Mock: mock, SqlDB: sqlDB}
}
