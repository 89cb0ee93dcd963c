package internal

import (
	"context"
	"time"
)

type ctxKey string

const idempotencyKeyCtx ctxKey = "idempotency_key"

// DefaultOperationTimeout bounds short startup probes such as the Redis ping.
const DefaultOperationTimeout = 5 * time.Second

// IdempotencyKeyFromContext returns the caller's Idempotency-Key, or "" when
// the request carried none or replay is disabled.
func IdempotencyKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(idempotencyKeyCtx).(string)
	return key
}

func ContextWithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx, key)
}

func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultOperationTimeout
	}
	return context.WithTimeout(ctx, d)
}
