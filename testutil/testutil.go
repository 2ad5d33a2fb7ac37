package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/physquest/server/cache"
	"github.com/physquest/server/config"
	dbadapter "github.com/physquest/server/db"
	"github.com/physquest/server/game/level"
	"github.com/physquest/server/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// SetupTestDB opens a private in-memory SQLite database and runs AutoMigrate.
// Each call gets its own database, so tests may run in parallel.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: dsn,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// SetupCatalog loads the built-in level catalog.
func SetupCatalog(t *testing.T) *level.Catalog {
	t.Helper()
	cat, err := level.LoadEmbedded()
	require.NoError(t, err, "SetupCatalog")
	return cat
}

// TestConfig returns defaults tuned for fast tests (minimum bcrypt cost).
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Security.JWTSecret = "test-secret"
	cfg.Security.BcryptCost = 4
	return cfg
}

// Nop returns a development logger for tests that want log output on failure.
func Nop() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}
