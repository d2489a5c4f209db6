// Package redisx holds the two Redis-backed collaborators C3 and C7 need:
// a per-user retrieval-alpha cache (§4.3 hybrid lexical/vector blend) and
// the cross-instance StreamRegistry pub/sub channel backing POST
// /chat/stop (§4.7, §5).
package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

func NewRedisClient() (*redis.Client, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// AlphaCache caches UserPersonalization.RetrievalAlpha so the iterative-
// rewrite and filtered-search strategies don't hit Postgres on every turn
// (§4.3: "alpha personalization").
type AlphaCache struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

func NewAlphaCache(log *logger.Logger, rdb *redis.Client) *AlphaCache {
	return &AlphaCache{log: log.With("component", "AlphaCache"), rdb: rdb, ttl: 10 * time.Minute}
}

func alphaKey(userID uuid.UUID) string {
	return "ragchat:alpha:" + userID.String()
}

func (c *AlphaCache) Get(ctx context.Context, userID uuid.UUID) (*float64, bool) {
	if c == nil || c.rdb == nil || userID == uuid.Nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, alphaKey(userID)).Result()
	if err != nil {
		return nil, false
	}
	if raw == "nil" {
		return nil, true
	}
	var v float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return &v, true
}

func (c *AlphaCache) Set(ctx context.Context, userID uuid.UUID, alpha *float64) {
	if c == nil || c.rdb == nil || userID == uuid.Nil {
		return
	}
	payload := "nil"
	if alpha != nil {
		if b, err := json.Marshal(*alpha); err == nil {
			payload = string(b)
		}
	}
	if err := c.rdb.Set(ctx, alphaKey(userID), payload, c.ttl).Err(); err != nil && c.log != nil {
		c.log.Warn("alpha cache set failed", "user_id", userID, "error", err)
	}
}
