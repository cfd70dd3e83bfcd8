package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"biblesketch/internal/config"
	"biblesketch/internal/infrastructure/database"

	"gorm.io/gorm"
)

// NewDB 在临时目录创建一个迁移好的 SQLite 库，测试结束自动关闭
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// DiscardLogger 丢弃所有输出的 logger
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
