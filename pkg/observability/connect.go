package observability

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/platinummonkey/factcore/pkg/config"
)

// OpenDatabase opens a connection pool to the backend database as role.
// The pool connects lazily; use a health check to verify it.
func OpenDatabase(pg config.PostgresConfig, role config.Role, test bool) (*sql.DB, error) {
	if pg.Server == "" {
		return nil, fmt.Errorf("postgres server is not configured")
	}
	db, err := sql.Open("postgres", pg.DSN(role, test))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// OpenRedis creates a client for the redis server of the common section
func OpenRedis(cfg config.RedisConfig, test bool) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("redis host is not configured")
	}
	db, err := cfg.DB(test)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(&redis.Options{
		Addr: cfg.Addr(),
		DB:   db,
	}), nil
}
