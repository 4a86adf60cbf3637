package trigger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/formbridge/internal/pkg/distlock"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

// Guard serializes delivery attempts for the same lead.
type Guard interface {
	// Acquire reports ok=false when an attempt for key is already running.
	// release must be called once the attempt concludes.
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// LockGuard backs the guard with a distributed lock per form and lead.
type LockGuard struct {
	redis  *redis.Client
	db     *sql.DB
	formID string
	ttl    time.Duration
}

// NewLockGuard uses Redis when configured and Postgres advisory locks
// otherwise. ttl bounds how long a crashed holder blocks its lead.
func NewLockGuard(client *redis.Client, db *sql.DB, formID string, ttl time.Duration) *LockGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LockGuard{redis: client, db: db, formID: formID, ttl: ttl}
}

func (g *LockGuard) Acquire(ctx context.Context, key string) (func(), bool, error) {
	lock := distlock.NewLock(g.redis, g.db, g.lockKey(key), g.ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil {
			logger.Warn("releasing submission guard", "error", err.Error())
		}
	}, true, nil
}

// lockKey hashes the lead so addresses never appear in lock keys.
func (g *LockGuard) lockKey(lead string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(lead))))
	return "submit:" + g.formID + ":" + hex.EncodeToString(sum[:12])
}
