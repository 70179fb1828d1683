package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPubSub implements PubSub over Postgres LISTEN/NOTIFY through a
// pgxpool.Pool (jackc/pgx/v5); it is the mediator's only Postgres-backed
// component. NOTIFY payloads are JSON-encoded PubSubMessage values.
type PgxPubSub struct {
	pool *pgxpool.Pool
}

// NewPgxPubSub wraps an existing pool. Subscribe holds one connection for
// the lifetime of the subscription, so callers should size the pool
// accordingly.
func NewPgxPubSub(pool *pgxpool.Pool) *PgxPubSub {
	return &PgxPubSub{pool: pool}
}

// Publish sends msg as a NOTIFY payload on channel.
func (p *PgxPubSub) Publish(ctx context.Context, channel string, msg PubSubMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode pub/sub message: %w", err)
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload))
	if err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// Subscribe acquires a dedicated connection, issues LISTEN, and streams
// decoded notifications until ctx is cancelled or the connection drops (the
// channel closes in either case; Coordinator.runSubscription supplies the
// 1-second back-off and retries with a fresh Subscribe call).
func (p *PgxPubSub) Subscribe(ctx context.Context, channel string) (<-chan PubSubMessage, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	ident := pgx.Identifier{channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+ident); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	out := make(chan PubSubMessage)
	go func() {
		defer conn.Release()
		defer close(out)
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			var msg PubSubMessage
			if err := json.Unmarshal([]byte(notification.Payload), &msg); err != nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
