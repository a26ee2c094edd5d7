package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// HeaderTenantID is the fallback header for callers without a session
// token, such as the remote backend invoking the job callback.
const HeaderTenantID = "X-Tenant-ID"

// Middleware attaches caller identity to request contexts. Signature
// verification happens at the portal gateway in front of this service, so
// the token is decoded without re-verifying.
type Middleware struct {
	logger *zap.Logger
}

// NewMiddleware creates the identity middleware.
func NewMiddleware(logger *zap.Logger) *Middleware {
	return &Middleware{logger: logger.Named("auth")}
}

// Attach decodes whatever identity the request carries and stores it in the
// context. It never rejects; handlers that need a tenant use RequireTenant.
func (m *Middleware) Attach(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if token := bearerToken(r); token != "" {
			claims, err := parseClaims(token)
			if err != nil {
				m.logger.Debug("unparsable session token", zap.Error(err))
			} else {
				ctx = context.WithValue(ctx, ClaimsKey, claims)
				ctx = context.WithValue(ctx, TokenKey, token)
			}
		}

		// Header fallback covers backend callbacks and internal tools
		// that carry no session token.
		if TenantID(ctx) == "" {
			if tid := r.Header.Get(HeaderTenantID); tid != "" {
				ctx = context.WithValue(ctx, ClaimsKey, &Claims{TenantID: tid})
			}
		}

		next(w, r.WithContext(ctx))
	}
}

// RequireTenant rejects requests whose identity resolves to no tenant.
func (m *Middleware) RequireTenant(next http.HandlerFunc) http.HandlerFunc {
	return m.Attach(func(w http.ResponseWriter, r *http.Request) {
		if TenantID(r.Context()) == "" {
			m.unauthorized(w, "Tenant identity required")
			return
		}
		next(w, r)
	})
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	}); err != nil {
		m.logger.Error("Failed to write unauthorized response", zap.Error(err))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseClaims(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
