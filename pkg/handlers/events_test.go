package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
	"github.com/branchsight/branchsight-engine/pkg/auth"
	"github.com/branchsight/branchsight-engine/pkg/models"
)

type fakeSubscriber struct {
	events    chan models.JobCompletionEvent
	err       error
	cancelled bool
	tenantID  string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, tenantID string) (<-chan models.JobCompletionEvent, func(), error) {
	f.tenantID = tenantID
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.events, func() { f.cancelled = true }, nil
}

func newEventsMux(sub JobSubscriber) *http.ServeMux {
	mux := http.NewServeMux()
	NewEventsHandler(sub, zap.NewNop()).RegisterRoutes(mux, auth.NewMiddleware(zap.NewNop()))
	return mux
}

func TestEventsStream(t *testing.T) {
	sub := &fakeSubscriber{events: make(chan models.JobCompletionEvent, 2)}
	sub.events <- models.JobCompletionEvent{
		TenantID: "chain-1",
		JobID:    "job-1",
		Status:   models.JobCompleted,
	}
	// Closing the channel simulates displacement by a newer subscriber and
	// lets the handler return.
	close(sub.events)

	mux := newEventsMux(sub)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set(auth.HeaderTenantID, "chain-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"job_id":"job-1"`) {
		t.Errorf("body missing event payload: %s", body)
	}
	if !strings.HasPrefix(strings.TrimSpace(body), "data: ") {
		t.Errorf("events must be SSE framed: %s", body)
	}

	if sub.tenantID != "chain-1" {
		t.Errorf("subscribed tenant = %q, want chain-1", sub.tenantID)
	}
	if !sub.cancelled {
		t.Error("subscription must be cancelled when the stream ends")
	}
}

func TestEventsStream_SubscribeFailure(t *testing.T) {
	sub := &fakeSubscriber{err: apperrors.ErrRelayUnavailable}
	mux := newEventsMux(sub)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set(auth.HeaderTenantID, "chain-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !errors.Is(sub.err, apperrors.ErrRelayUnavailable) {
		t.Error("sanity: fake should carry ErrRelayUnavailable")
	}
}

func TestEventsStream_NoTenant(t *testing.T) {
	mux := newEventsMux(&fakeSubscriber{})

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
