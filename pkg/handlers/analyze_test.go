package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/auth"
	"github.com/branchsight/branchsight-engine/pkg/models"
	"github.com/branchsight/branchsight-engine/pkg/reports"
	"github.com/branchsight/branchsight-engine/pkg/services"
)

type fakeAnalysis struct {
	available bool
	chunks    []string
	request   services.AnalysisRequest
}

func (f *fakeAnalysis) Available() bool { return f.available }

func (f *fakeAnalysis) AnalyzeReport(_ context.Context, req services.AnalysisRequest) (<-chan services.AnalysisEvent, error) {
	f.request = req
	events := make(chan services.AnalysisEvent, len(f.chunks)+1)
	for _, chunk := range f.chunks {
		events <- services.AnalysisEvent{Type: services.AnalysisEventText, Content: chunk}
	}
	events <- services.AnalysisEvent{Type: services.AnalysisEventDone}
	close(events)
	return events, nil
}

func newAnalyzeMux(gw DatasetGateway, analysis services.AnalysisService) *http.ServeMux {
	catalog := reports.NewCatalog(models.ReportTemplate{
		ReportID:  "daily-sales",
		Name:      "Daily Sales by Branch",
		QueryText: "SELECT * FROM sales WHERE sale_date = {{business_date}}",
	})
	mux := http.NewServeMux()
	NewAnalyzeHandler(gw, catalog, analysis, "test", zap.NewNop()).RegisterRoutes(mux, auth.NewMiddleware(zap.NewNop()))
	return mux
}

func TestAnalyze(t *testing.T) {
	gw := &fakeGateway{rows: []map[string]any{{"branch": "north", "revenue": float64(900)}}}
	analysis := &fakeAnalysis{available: true, chunks: []string{"North leads ", "with 900."}}
	mux := newAnalyzeMux(gw, analysis)

	req := httptest.NewRequest(http.MethodPost, "/api/reports/daily-sales/analyze",
		strings.NewReader(`{"parameters":{"business_date":"2026-08-29"},"question":"Which branch leads?"}`))
	req.Header.Set(auth.HeaderTenantID, "chain-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "North leads ") || !strings.Contains(body, `"done"`) {
		t.Errorf("stream missing chunks or done event: %s", body)
	}

	if gw.lastRequest.Query != "SELECT * FROM sales WHERE sale_date = {{business_date}}" {
		t.Errorf("gateway saw query %q", gw.lastRequest.Query)
	}
	if analysis.request.ReportName != "Daily Sales by Branch" {
		t.Errorf("analysis request report = %q", analysis.request.ReportName)
	}
	if len(analysis.request.Rows) != 1 {
		t.Errorf("analysis request rows = %v", analysis.request.Rows)
	}
}

func TestAnalyze_UnknownReport(t *testing.T) {
	mux := newAnalyzeMux(&fakeGateway{}, &fakeAnalysis{available: true})

	req := httptest.NewRequest(http.MethodPost, "/api/reports/ghost/analyze", strings.NewReader(`{}`))
	req.Header.Set(auth.HeaderTenantID, "chain-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAnalyze_Unavailable(t *testing.T) {
	mux := newAnalyzeMux(&fakeGateway{}, &fakeAnalysis{available: false})

	req := httptest.NewRequest(http.MethodPost, "/api/reports/daily-sales/analyze", strings.NewReader(`{}`))
	req.Header.Set(auth.HeaderTenantID, "chain-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
