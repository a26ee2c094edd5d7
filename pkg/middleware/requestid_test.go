package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_Generated(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got == "" {
		t.Fatal("expected a generated request id")
	}
	if rec.Header().Get(HeaderRequestID) != got {
		t.Error("request id must be echoed on the response")
	}
}

func TestRequestID_HonorsCaller(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "caller-id-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "caller-id-1" {
		t.Errorf("request id = %q, want caller-supplied id", got)
	}
}
