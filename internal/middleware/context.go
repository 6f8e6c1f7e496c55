package middleware

import (
	"context"

	"github.com/baharkarakas/paygate/internal/auth"
	"github.com/baharkarakas/paygate/internal/models"
)

type merchantKey struct{}
type claimsKey struct{}

func WithMerchant(ctx context.Context, m models.Merchant) context.Context {
	return context.WithValue(ctx, merchantKey{}, m)
}

// MerchantFrom returns the merchant authenticated by MerchantAuth.
func MerchantFrom(ctx context.Context) (models.Merchant, bool) {
	m, ok := ctx.Value(merchantKey{}).(models.Merchant)
	return m, ok
}

func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return c, ok && c != nil
}
