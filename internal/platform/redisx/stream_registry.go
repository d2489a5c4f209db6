package redisx

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

// StopTransport is the cross-instance signal POST /chat/stop rides: the
// instance handling /stop may not be the instance holding the open SSE
// stream, so the stop has to fan out (§4.7, §5 "StreamRegistry is empty in
// steady state").
type StopTransport interface {
	PublishStop(ctx context.Context, turnID uuid.UUID) error
	Subscribe(ctx context.Context, onStop func(turnID uuid.UUID)) error
	Close() error
}

// StreamRegistry tracks turns with an open stream on this process and wires
// a StopTransport so a stop request landing on any instance reaches the
// instance actually streaming.
type StreamRegistry struct {
	log       *logger.Logger
	transport StopTransport

	mu    sync.Mutex
	local map[uuid.UUID]chan struct{}
}

func NewStreamRegistry(log *logger.Logger, transport StopTransport) *StreamRegistry {
	return &StreamRegistry{
		log:       log.With("component", "StreamRegistry"),
		transport: transport,
		local:     map[uuid.UUID]chan struct{}{},
	}
}

// Run starts the background subscription that turns remote stop signals
// into local channel closes; callers run it once per process.
func (r *StreamRegistry) Run(ctx context.Context) error {
	if r.transport == nil {
		return nil
	}
	return r.transport.Subscribe(ctx, r.closeLocal)
}

// Register marks turnID as actively streaming on this process and returns
// the channel that closes when a stop is requested (locally or remotely),
// plus the unregister func callers must defer.
func (r *StreamRegistry) Register(turnID uuid.UUID) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	r.mu.Lock()
	r.local[turnID] = ch
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.local[turnID]; ok && existing == ch {
			delete(r.local, turnID)
		}
	}
}

// Stop requests cancellation of turnID's stream, wherever it is running.
func (r *StreamRegistry) Stop(ctx context.Context, turnID uuid.UUID) error {
	r.closeLocal(turnID)
	if r.transport == nil {
		return nil
	}
	return r.transport.PublishStop(ctx, turnID)
}

func (r *StreamRegistry) closeLocal(turnID uuid.UUID) {
	r.mu.Lock()
	ch, ok := r.local[turnID]
	if ok {
		delete(r.local, turnID)
	}
	r.mu.Unlock()
	if ok {
		close(ch)
	}
}

// redisStopTransport is the primary transport (§ domain stack: redis/go-
// redis/v9 pub/sub).
type redisStopTransport struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

func NewRedisStopTransport(log *logger.Logger, rdb *redis.Client) StopTransport {
	return &redisStopTransport{log: log.With("component", "RedisStopTransport"), rdb: rdb, channel: "ragchat:stop"}
}

func (t *redisStopTransport) PublishStop(ctx context.Context, turnID uuid.UUID) error {
	return t.rdb.Publish(ctx, t.channel, turnID.String()).Err()
}

func (t *redisStopTransport) Subscribe(ctx context.Context, onStop func(turnID uuid.UUID)) error {
	sub := t.rdb.Subscribe(ctx, t.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
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
				id, err := uuid.Parse(strings.TrimSpace(m.Payload))
				if err != nil {
					if t.log != nil {
						t.log.Warn("bad stop payload", "payload", m.Payload, "error", err)
					}
					continue
				}
				onStop(id)
			}
		}
	}()
	return nil
}

func (t *redisStopTransport) Close() error {
	if t == nil || t.rdb == nil {
		return nil
	}
	return t.rdb.Close()
}
