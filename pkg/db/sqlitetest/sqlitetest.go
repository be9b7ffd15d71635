// Package sqlitetest opens isolated in-memory SQLite databases carrying the
// settlement schema for repository and service tests.
package sqlitetest

import (
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
)

// Models lists every table the settlement engine owns.
func Models() []any {
	return []any{
		&models.Payment{},
		&models.LedgerEntry{},
		&models.Dispute{},
		&models.Refund{},
		&models.Payout{},
		&models.PayoutItem{},
		&models.PayoutAttempt{},
		&models.PayoutMethod{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// Open returns a client over a fresh named in-memory database. The pool is
// limited to one connection, so code under test must run every statement of
// a transaction on the tx handle.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db.Wrap(conn)
}
