package redisx

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

const pgxStopChannel = "ragchat_stop"

// pgxStopTransport is the alternate/fallback StopTransport when Redis isn't
// configured: a direct pgxpool LISTEN/NOTIFY connection, matching the
// teacher's direct use of pgx alongside the gorm postgres driver.
type pgxStopTransport struct {
	log  *logger.Logger
	pool *pgxpool.Pool
}

func NewPgxStopTransport(log *logger.Logger, pool *pgxpool.Pool) StopTransport {
	return &pgxStopTransport{log: log.With("component", "PgxStopTransport"), pool: pool}
}

func (t *pgxStopTransport) PublishStop(ctx context.Context, turnID uuid.UUID) error {
	_, err := t.pool.Exec(ctx, "SELECT pg_notify($1, $2)", pgxStopChannel, turnID.String())
	return err
}

func (t *pgxStopTransport) Subscribe(ctx context.Context, onStop func(turnID uuid.UUID)) error {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pgx listen: acquire conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgxStopChannel); err != nil {
		conn.Release()
		return fmt.Errorf("pgx listen: %w", err)
	}

	go func() {
		defer conn.Release()
		for {
			notif, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if t.log != nil && ctx.Err() == nil {
					t.log.Warn("pgx listen wait failed", "error", err)
				}
				return
			}
			id, err := uuid.Parse(strings.TrimSpace(notif.Payload))
			if err != nil {
				if t.log != nil {
					t.log.Warn("bad pgx stop payload", "payload", notif.Payload, "error", err)
				}
				continue
			}
			onStop(id)
		}
	}()
	return nil
}

func (t *pgxStopTransport) Close() error {
	if t == nil || t.pool == nil {
		return nil
	}
	t.pool.Close()
	return nil
}

func NewPgxPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing postgres dsn")
	}
	return pgxpool.New(ctx, dsn)
}
