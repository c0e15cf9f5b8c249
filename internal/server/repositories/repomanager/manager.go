// Package repomanager turns configuration into a connected users.Store:
// it picks the backend, opens the driver, runs schema migrations for the
// relational stores and hands the result to users.Lazy.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/clusterapi/internal/server/config"
	"github.com/dmitrijs2005/clusterapi/internal/server/migrations"
	"github.com/dmitrijs2005/clusterapi/internal/server/repositories/users"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations in dir with the given goose
// dialect.
func RunMigrations(ctx context.Context, db *sql.DB, dialect, dir string) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, dir)
}

// NewConnector returns a users.Connector for cfg.StoreBackend.
func NewConnector(cfg *config.Config) (users.Connector, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		return func(context.Context) (users.Store, error) {
			return users.NewMemoryRepository(), nil
		}, nil
	case config.BackendPostgres:
		return func(ctx context.Context) (users.Store, error) {
			db, err := openSQL(ctx, "pgx", cfg.DatabaseDSN, "pgx", migrations.PostgresDir)
			if err != nil {
				return nil, err
			}
			return users.NewPostgresRepository(db), nil
		}, nil
	case config.BackendSQLite:
		return func(ctx context.Context) (users.Store, error) {
			db, err := openSQL(ctx, "sqlite", sqliteDSN(cfg.SQLitePath), "sqlite3", migrations.SQLiteDir)
			if err != nil {
				return nil, err
			}
			return users.NewSQLiteRepository(db), nil
		}, nil
	case config.BackendRedis:
		return func(ctx context.Context) (users.Store, error) {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				_ = rdb.Close()
				return nil, fmt.Errorf("redis ping: %w", err)
			}
			return users.NewRedisRepository(rdb), nil
		}, nil
	case config.BackendS3:
		return func(ctx context.Context) (users.Store, error) {
			client, err := newS3Client(ctx, cfg)
			if err != nil {
				return nil, err
			}
			repo := users.NewS3Repository(client, cfg.S3Bucket)
			if err := repo.Ping(ctx); err != nil {
				return nil, fmt.Errorf("s3 head bucket: %w", err)
			}
			return repo, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Open builds the lazily connected store for cfg.
func Open(cfg *config.Config) (*users.Lazy, error) {
	connect, err := NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return users.NewLazy(connect), nil
}

func openSQL(ctx context.Context, driver, dsn, dialect, dir string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := RunMigrations(ctx, db, dialect, dir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// sqliteDSN enables WAL and a busy timeout so several worker processes can
// share one database file.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
