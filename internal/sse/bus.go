package sse

import (
  "context"
  "encoding/json"
  "fmt"
  "os"
  "strings"
  "time"

  "github.com/redis/go-redis/v9"

  "github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

// Bus fans SSEMessages across process instances, so a turn streamed on one
// API replica still reaches a client whose long-lived connection landed on
// another. SSEHub.Broadcast stays purely local; wiring a Bus in front of it
// is optional and only needed once more than one replica runs.
type Bus interface {
  Publish(ctx context.Context, msg SSEMessage) error
  StartForwarder(ctx context.Context, onMsg func(m SSEMessage)) error
  Close() error
}

type redisBus struct {
  log     *logger.Logger
  rdb     *redis.Client
  channel string
}

func NewRedisBus(log *logger.Logger) (Bus, error) {
  addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
  if addr == "" {
    return nil, fmt.Errorf("missing REDIS_ADDR")
  }
  ch := strings.TrimSpace(os.Getenv("REDIS_SSE_CHANNEL"))
  if ch == "" {
    ch = "ragchat:sse"
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

  return &redisBus{
    log:     log.With("component", "SSEBus"),
    rdb:     rdb,
    channel: ch,
  }, nil
}

func (b *redisBus) Publish(ctx context.Context, msg SSEMessage) error {
  raw, err := json.Marshal(msg)
  if err != nil {
    return err
  }
  return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m SSEMessage)) error {
  sub := b.rdb.Subscribe(ctx, b.channel)

  // Ensures the subscription actually started before we return.
  if _, err := sub.Receive(ctx); err != nil {
    _ = sub.Close()
    return fmt.Errorf("redis subscribe: %w", err)
  }

  go func() {
    ch := sub.Channel()
    for {
      select {
      case <-ctx.Done():
        _ = sub.Close()
        return
      case m, ok := <-ch:
        if !ok || m == nil {
          return
        }
        var msg SSEMessage
        if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
          b.log.Warn("bad redis SSE payload", "error", err)
          continue
        }
        onMsg(msg)
      }
    }
  }()

  return nil
}

func (b *redisBus) Close() error {
  if b == nil || b.rdb == nil {
    return nil
  }
  return b.rdb.Close()
}
