package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func signTestToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestAttach_BearerToken(t *testing.T) {
	m := NewMiddleware(zap.NewNop())

	var gotTenant, gotUser string
	handler := m.Attach(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantID(r.Context())
		gotUser = UserID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, &Claims{TenantID: "chain-1", UserID: "u1"}))
	handler(httptest.NewRecorder(), req)

	if gotTenant != "chain-1" {
		t.Errorf("TenantID = %q, want chain-1", gotTenant)
	}
	if gotUser != "u1" {
		t.Errorf("UserID = %q, want u1", gotUser)
	}
}

func TestAttach_HeaderFallback(t *testing.T) {
	m := NewMiddleware(zap.NewNop())

	var gotTenant string
	handler := m.Attach(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenantID, "chain-2")
	handler(httptest.NewRecorder(), req)

	if gotTenant != "chain-2" {
		t.Errorf("TenantID = %q, want chain-2", gotTenant)
	}
}

func TestAttach_TokenWinsOverHeader(t *testing.T) {
	m := NewMiddleware(zap.NewNop())

	var gotTenant string
	handler := m.Attach(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, &Claims{TenantID: "chain-1"}))
	req.Header.Set(HeaderTenantID, "chain-2")
	handler(httptest.NewRecorder(), req)

	if gotTenant != "chain-1" {
		t.Errorf("TenantID = %q, want the token's tenant", gotTenant)
	}
}

func TestAttach_GarbageTokenIgnored(t *testing.T) {
	m := NewMiddleware(zap.NewNop())

	called := false
	handler := m.Attach(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if TenantID(r.Context()) != "" {
			t.Error("garbage token must not yield a tenant")
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	handler(httptest.NewRecorder(), req)

	if !called {
		t.Error("Attach never rejects; the handler must run")
	}
}

func TestRequireTenant_Rejects(t *testing.T) {
	m := NewMiddleware(zap.NewNop())

	handler := m.RequireTenant(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a tenant")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestUserID_FallsBackToSubject(t *testing.T) {
	m := NewMiddleware(zap.NewNop())

	var gotUser string
	handler := m.Attach(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r.Context())
	})

	claims := &Claims{TenantID: "chain-1"}
	claims.Subject = "sub-7"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, claims))
	handler(httptest.NewRecorder(), req)

	if gotUser != "sub-7" {
		t.Errorf("UserID = %q, want registered subject", gotUser)
	}
}
