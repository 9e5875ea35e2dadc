package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"casegrid/internal/infra/persistence/memory"
	"casegrid/internal/infra/persistence/postgres"
	"casegrid/internal/infra/persistence/redis"
	"casegrid/internal/infra/persistence/sqlite"
	"casegrid/pkg/domain"
)

// StorageDriver identifies a concrete snapshot storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageRedis    StorageDriver = "redis"    // Redis server
)

// KVStore aliases the domain storage port.
type KVStore = domain.KVStore

// StorageConfig selects and configures a snapshot storage driver.
type StorageConfig struct {
	Driver        StorageDriver
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// StorageConfigFromEnv reads the storage selection from environment variables.
// Defaults to sqlite when unset.
//
//	CASEGRID_STORAGE_DRIVER: memory|sqlite|postgres|redis (default sqlite)
//	CASEGRID_SQLITE_PATH: path to sqlite file (default ./casegrid.db)
//	CASEGRID_POSTGRES_DSN: postgres DSN when driver=postgres
//	CASEGRID_REDIS_ADDR, CASEGRID_REDIS_PASSWORD, CASEGRID_REDIS_DB, CASEGRID_REDIS_TTL
func StorageConfigFromEnv() StorageConfig {
	cfg := StorageConfig{
		Driver:        StorageDriver(os.Getenv("CASEGRID_STORAGE_DRIVER")),
		SQLitePath:    os.Getenv("CASEGRID_SQLITE_PATH"),
		PostgresDSN:   os.Getenv("CASEGRID_POSTGRES_DSN"),
		RedisAddr:     os.Getenv("CASEGRID_REDIS_ADDR"),
		RedisPassword: os.Getenv("CASEGRID_REDIS_PASSWORD"),
	}
	if v, err := strconv.Atoi(os.Getenv("CASEGRID_REDIS_DB")); err == nil {
		cfg.RedisDB = v
	}
	if v, err := time.ParseDuration(os.Getenv("CASEGRID_REDIS_TTL")); err == nil {
		cfg.RedisTTL = v
	}
	return cfg
}

// OpenStorage constructs the driver named by cfg.
func OpenStorage(ctx context.Context, cfg StorageConfig) (KVStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageRedis:
		store, err := redis.NewStore(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
