package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxOperatorID ctxKey = iota
	ctxRole
	ctxCampaigns
)

func WithIdentity(ctx context.Context, operatorID, role string, campaigns []string) context.Context {
	ctx = context.WithValue(ctx, ctxOperatorID, operatorID)
	ctx = context.WithValue(ctx, ctxRole, role)
	ctx = context.WithValue(ctx, ctxCampaigns, campaigns)
	return ctx
}

func OperatorID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxOperatorID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("operator_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// CampaignScope returns the campaigns the operator is limited to; nil means unrestricted.
func CampaignScope(ctx context.Context) []string {
	v, _ := ctx.Value(ctxCampaigns).([]string)
	return v
}
