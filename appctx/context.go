package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	// ContextKeyTenant holds the signed-in principal whose data is being synchronized.
	ContextKeyTenant        = ContextKey("Tenant")
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// ContextKeyCycleId identifies one sync cycle across upload and download logs.
	ContextKeyCycleId = ContextKey("CycleId")
	// ContextKeyTrigger records what started a sync cycle (timer, reconnect, queue, manual, start).
	ContextKeyTrigger = ContextKey("Trigger")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
