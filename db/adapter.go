package db

import (
	"fmt"

	"github.com/physquest/server/config"
	dbmysql "github.com/physquest/server/db/mysql"
	dbpostgres "github.com/physquest/server/db/postgres"
	dbsqlite "github.com/physquest/server/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	pool := Pool{MaxOpen: cfg.MaxOpen, MaxIdle: cfg.MaxIdle, MaxLife: cfg.MaxLife}
	switch cfg.Mode {
	case ModeSQLite, "":
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		if cfg.MySQLDSN == "" {
			return nil, fmt.Errorf("db: mysql_dsn is required for mode %q", cfg.Mode)
		}
		return pool.apply(dbmysql.Open(cfg.MySQLDSN))
	case ModePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("db: postgres_dsn is required for mode %q", cfg.Mode)
		}
		return pool.apply(dbpostgres.Open(cfg.PostgresDSN))
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
