package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/auth"
	"github.com/branchsight/branchsight-engine/pkg/models"
	"github.com/branchsight/branchsight-engine/pkg/reports"
	"github.com/branchsight/branchsight-engine/pkg/services"
)

// AnalyzeRequest is the POST body for streamed report analysis.
type AnalyzeRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
	Question   string         `json:"question,omitempty"`
}

// AnalyzeHandler runs a catalog report for the caller's tenant and streams
// an LLM commentary on the result rows over SSE.
type AnalyzeHandler struct {
	gateway  DatasetGateway
	catalog  *reports.Catalog
	analysis services.AnalysisService
	env      string
	logger   *zap.Logger
}

// NewAnalyzeHandler creates a new AnalyzeHandler.
func NewAnalyzeHandler(gw DatasetGateway, catalog *reports.Catalog, analysis services.AnalysisService, env string, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{gateway: gw, catalog: catalog, analysis: analysis, env: env, logger: logger}
}

// RegisterRoutes registers the analyze route on the given mux.
func (h *AnalyzeHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/reports/{rid}/analyze", authMiddleware.RequireTenant(h.Analyze))
}

// Analyze handles POST /api/reports/{rid}/analyze.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if !h.analysis.Available() {
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "ai_unavailable", "AI analysis is not configured"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	reportID := r.PathValue("rid")
	template, ok := h.catalog.Get(reportID)
	if !ok {
		if err := ErrorResponse(w, http.StatusNotFound, "unknown_report", "No such report"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tenantID := auth.TenantID(r.Context())
	rows, err := h.gateway.ExecuteQuery(r.Context(), models.QueryRequest{
		TenantID:   tenantID,
		Query:      template.EffectiveQuery(),
		Parameters: req.Parameters,
	})
	if err != nil {
		status, code, message := gatewayError(err, h.env)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Report query for analysis failed",
				zap.String("tenant_id", tenantID),
				zap.String("report_id", reportID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, message); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("SSE not supported")
		if err := ErrorResponse(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	events, err := h.analysis.AnalyzeReport(r.Context(), services.AnalysisRequest{
		ReportName: template.Name,
		Question:   req.Question,
		Rows:       rows,
	})
	if err != nil {
		h.logger.Error("Failed to start analysis",
			zap.String("tenant_id", tenantID),
			zap.String("report_id", reportID),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadGateway, "analysis_failed", "Failed to start analysis"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The service closes the channel after the final done or error event,
	// so this loop always terminates and every chunk is flushed as it
	// arrives.
	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("Failed to marshal event", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}
