package session

import (
	"context"
	"fmt"
)

// Backend kinds accepted in Config.Store.
const (
	StoreFile      = "file"
	StoreRedis     = "redis"
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

// Config holds session storage configuration from YAML.
type Config struct {
	// Store specifies the storage backend type.
	// Options: "file", "redis", "sqlite", "postgres", "firestore"
	// Default: "file"
	Store string `yaml:"store" env:"STORE"`

	// BaseDir is the base directory for file-based storage.
	// Default: ~/.social_publisher/tracker
	BaseDir string `yaml:"base_dir" env:"DIR"`

	Redis     RedisConfig     `yaml:"redis,omitempty" envPrefix:"REDIS_"`
	SQL       SQLConfig       `yaml:"sql,omitempty" envPrefix:"SQL_"`
	Firestore FirestoreConfig `yaml:"firestore,omitempty" envPrefix:"FIRESTORE_"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Store: StoreFile,
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: defaultRedisPrefix,
		},
		SQL: SQLConfig{
			Driver: DriverSQLite,
			DSN:    "sessions.db",
		},
		Firestore: FirestoreConfig{
			Collection: defaultFirestoreCollection,
		},
	}
}

// Open builds the backend selected by cfg.Store and wraps it in a Store.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	var (
		backend StorageBackend
		err     error
	)

	switch cfg.Store {
	case "", StoreFile:
		backend, err = NewFileBackend(cfg.BaseDir)
	case StoreRedis:
		backend, err = NewRedisBackend(cfg.Redis)
	case StoreSQLite:
		sqlCfg := cfg.SQL
		sqlCfg.Driver = DriverSQLite
		backend, err = OpenSQLBackend(ctx, sqlCfg)
	case StorePostgres:
		sqlCfg := cfg.SQL
		sqlCfg.Driver = DriverPostgres
		backend, err = OpenSQLBackend(ctx, sqlCfg)
	case StoreFirestore:
		backend, err = NewFirestoreBackend(ctx, cfg.Firestore)
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", storeName(cfg.Store), err)
	}

	opts = append([]Option{WithBackendName(storeName(cfg.Store))}, opts...)
	return NewStore(backend, opts...), nil
}

func storeName(kind string) string {
	if kind == "" {
		return StoreFile
	}
	return kind
}
