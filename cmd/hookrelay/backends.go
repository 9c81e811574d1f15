package main

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/xraph/grove"

	"github.com/xraph/hookrelay/internal/config"
	"github.com/xraph/hookrelay/queue"
	memqueue "github.com/xraph/hookrelay/queue/memory"
	redisqueue "github.com/xraph/hookrelay/queue/redis"
	"github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/store/bunstore"
	memstore "github.com/xraph/hookrelay/store/memory"
	pgstore "github.com/xraph/hookrelay/store/postgres"
	sqlitestore "github.com/xraph/hookrelay/store/sqlite"
)

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case config.StoreMemory:
		return memstore.New(), nil

	case config.StorePostgres:
		drv, err := grove.OpenDriver(ctx, "pg", sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return pgstore.New(db), nil

	case config.StoreSQLite:
		drv, err := grove.OpenDriver(ctx, "sqlite", sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlitestore.New(db), nil

	case config.StoreBun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(sc.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

// openQueue returns the queue backend and a close func for its connection.
func openQueue(ctx context.Context, qc config.QueueConfig) (queue.Backend, func() error, error) {
	switch qc.Driver {
	case config.QueueMemory:
		return memqueue.New(), func() error { return nil }, nil

	case config.QueueRedis:
		opts, err := goredis.ParseURL(qc.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := goredis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return redisqueue.New(rdb, redisqueue.WithKeyPrefix(qc.KeyPrefix)), rdb.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown queue driver %q", qc.Driver)
}
