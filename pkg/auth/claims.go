// Package auth extracts caller identity from session tokens issued by the
// portal. The engine sits behind the portal's gateway, which has already
// verified the token signature; here the claims only scope requests to a
// tenant and a user session.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing session claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw token string.
	TokenKey contextKey = "token"
)

// Claims is the portal session token payload. RegisteredClaims carries the
// standard fields (sub, iss, exp); the custom claims scope the session.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid,omitempty"`   // Tenant (chain) identifier
	UserID   string `json:"uid,omitempty"`   // Portal user identifier
	Email    string `json:"email,omitempty"` // User email address
}

// GetClaims retrieves session claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw token string from the request context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// TenantID returns the tenant identifier for the request, or "" when the
// request carried no usable identity.
func TenantID(ctx context.Context) string {
	if claims, ok := GetClaims(ctx); ok && claims != nil {
		return claims.TenantID
	}
	return ""
}

// UserID returns the portal user identifier for the request. Falls back to
// the registered subject when the custom claim is absent.
func UserID(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}
