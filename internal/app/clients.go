package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fenwick-ai/ragchat-core/internal/platform/envutil"
	"github.com/fenwick-ai/ragchat-core/internal/platform/llm"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
	"github.com/fenwick-ai/ragchat-core/internal/platform/redisx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/search"
	"github.com/fenwick-ai/ragchat-core/internal/sse"
	"github.com/fenwick-ai/ragchat-core/internal/temporalx"

	temporalsdkclient "go.temporal.io/sdk/client"
)

type Clients struct {
	AI      llm.Client
	Vectors search.VectorStore

	Redis *redis.Client
	Alpha *redisx.AlphaCache

	PgxPool *pgxpool.Pool

	SSEBus sse.Bus

	Temporal temporalsdkclient.Client
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	var out Clients

	ai, err := llm.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init llm client: %w", err)
	}
	out.AI = ai

	if strings.TrimSpace(envutil.String("PINECONE_API_KEY", "")) != "" {
		vs, err := search.NewVectorStore(log)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init vector store: %w", err)
		}
		out.Vectors = vs
	} else {
		log.Warn("PINECONE_API_KEY not set; vector search disabled")
	}

	if strings.TrimSpace(envutil.String("REDIS_ADDR", "")) != "" {
		rdb, err := redisx.NewRedisClient()
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init redis client: %w", err)
		}
		out.Redis = rdb
		out.Alpha = redisx.NewAlphaCache(log, rdb)

		bus, err := sse.NewRedisBus(log)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init sse bus: %w", err)
		}
		out.SSEBus = bus
	} else {
		log.Warn("REDIS_ADDR not set; cross-replica SSE fanout and stop signaling disabled")

		if dsn := strings.TrimSpace(envutil.String("POSTGRES_PGX_DSN", "")); dsn != "" {
			pool, err := pgxpool.New(context.Background(), dsn)
			if err != nil {
				out.Close()
				return Clients{}, fmt.Errorf("init pgx pool: %w", err)
			}
			out.PgxPool = pool
		}
	}

	tc, err := temporalx.NewClient(log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}
	out.Temporal = tc

	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
		c.Temporal = nil
	}
	if c.SSEBus != nil {
		_ = c.SSEBus.Close()
		c.SSEBus = nil
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
		c.Redis = nil
	}
	if c.PgxPool != nil {
		c.PgxPool.Close()
		c.PgxPool = nil
	}
	c.AI = nil
	c.Vectors = nil
	c.Alpha = nil
}
