package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

func TestSQLiteOpenAndMigrate(t *testing.T) {
	svc, err := NewPostgresService(logger.Nop(), Config{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kanda.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, AutoMigrateAll(svc.DB()))
	require.NoError(t, AutoMigrateAll(svc.DB()), "migrations are idempotent")
	for _, m := range types.Models() {
		assert.True(t, svc.DB().Migrator().HasTable(m))
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewPostgresService(logger.Nop(), Config{Driver: "mysql"})
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "kanda", Password: "pw", Name: "kanda"}
	assert.Equal(t, "postgres://kanda:pw@db:5432/kanda?sslmode=disable", cfg.DSN())
	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://kanda:pw@db:5432/kanda?sslmode=require", cfg.DSN())
}
