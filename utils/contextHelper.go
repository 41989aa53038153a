package utils

import (
	"context"

	"github.com/google/uuid"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/appctx"
)

var (
	ContextKeyTenant        = appctx.ContextKeyTenant
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyCycleId       = appctx.ContextKeyCycleId
	ContextKeyTrigger       = appctx.ContextKeyTrigger
)

func GetTenantFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTenant)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetCycleIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCycleId)
}

func GetTriggerFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTrigger)
}

func SetTenantInContext(ctx context.Context, tenant string) context.Context {
	return appctx.Set(ctx, ContextKeyTenant, tenant)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetCycleIdInContext(ctx context.Context, cycleId string) context.Context {
	return appctx.Set(ctx, ContextKeyCycleId, cycleId)
}

func SetTriggerInContext(ctx context.Context, trigger string) context.Context {
	return appctx.Set(ctx, ContextKeyTrigger, trigger)
}

// CorrelationIdFromContextOrNew returns the request's correlation id, minting one when absent.
func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
