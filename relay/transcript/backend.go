package transcript

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/chatrelay/relay/config"
	"github.com/ZanzyTHEbar/chatrelay/relay/db"

	"github.com/rs/zerolog"
)

// Backend persists whole-store snapshots.
type Backend interface {
	// Load returns the persisted snapshot, an empty one if none exists, or
	// *PersistenceError if the snapshot cannot be parsed.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the persisted snapshot with s.
	Save(ctx context.Context, s Snapshot) error
	Close() error
}

// UserBackend is a Backend that keeps one durable record per user and can
// persist a single user's transcript without touching the others. An empty
// transcript removes the user's record.
type UserBackend interface {
	Backend
	SaveUser(ctx context.Context, userID string, t Transcript) error
}

// Backend names accepted in history.backend.
const (
	BackendJSON   = "json"
	BackendLibSQL = "libsql"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// OpenBackend creates the backend selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg config.HistoryConfig, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case BackendJSON, "":
		return NewFileBackend(cfg.Path), nil
	case BackendLibSQL, BackendSQLite:
		driver := db.DriverLibSQL
		if cfg.Backend == BackendSQLite {
			driver = db.DriverSQLite
		}
		conn, err := db.Connect(ctx, db.Config{Driver: driver, DSN: cfg.DSN}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s history: %w", cfg.Backend, err)
		}
		return NewSQLBackend(conn, cfg.DSN), nil
	case BackendBolt:
		return OpenBoltBackend(cfg.BoltPath)
	case BackendRedis:
		return OpenRedisBackend(ctx, cfg.RedisAddr, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
