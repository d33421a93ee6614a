// Package idempotency deduplicates explicit move requests that carry an
// X-Idempotency-Key header.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/model"
)

// Store remembers the move operation started under an idempotency key.
type Store interface {
	// Check looks up a previous operation by key. A key stored with a
	// different input hash yields a CONFLICT error.
	Check(ctx context.Context, key, inputHash string) (op *model.MoveOperation, found bool, err error)

	// Save stores op under key for the store TTL.
	Save(ctx context.Context, key, inputHash string, op model.MoveOperation) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// entry is the stored value for an idempotency key.
type entry struct {
	InputHash string              `json:"input_hash"`
	Operation model.MoveOperation `json:"operation"`
}

// FormatKey builds the storage key of a client key. Keys are scoped to the
// caller so that two users cannot collide.
func FormatKey(tenantID, subjectID, key string) string {
	return fmt.Sprintf("idem:move:%s:%s:%s", tenantID, subjectID, key)
}

// HashMove fingerprints a move request issued in one board session. The
// same body sent to another session hashes differently.
func HashMove(sessionID, boardID, entryID, from, to string) string {
	b, _ := json.Marshal([]string{sessionID, boardID, entryID, from, to})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func conflict(key string) error {
	return model.NewConflictError(
		fmt.Sprintf("idempotency key %q already used with a different move", key),
	)
}

// Open builds the store selected by cfg. The returned close function is
// never nil.
func Open(cfg config.IdempotencyConfig, logger *zap.Logger) (Store, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Enabled {
		return nil, noop, nil
	}

	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return NewMemoryStore(cfg.Store.DefaultTTL), noop, nil
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, noop, fmt.Errorf("idempotency: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return NewRedisStore(client, cfg.Store.DefaultTTL), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("idempotency: unsupported driver %q", cfg.Store.Driver)
	}
}
