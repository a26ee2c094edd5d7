package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/auth"
	"github.com/branchsight/branchsight-engine/pkg/gateway"
	"github.com/branchsight/branchsight-engine/pkg/jobs"
	"github.com/branchsight/branchsight-engine/pkg/models"
)

// JobNotifier publishes job-completion events to waiting sessions.
type JobNotifier interface {
	NotifyJobComplete(ctx context.Context, evt models.JobCompletionEvent) error
}

// BigQueryRequest is the POST body for async query dispatch.
type BigQueryRequest struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ReportID   string         `json:"reportId,omitempty"`
	TabID      string         `json:"tabId,omitempty"`
}

// BigQueryResponse acknowledges a dispatched job.
type BigQueryResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// BigQueryHandler serves the async query family: dispatch, the completion
// callback invoked by the remote backend, and result retrieval.
type BigQueryHandler struct {
	gateway  DatasetGateway
	tracker  *jobs.Tracker
	notifier JobNotifier
	baseURL  string
	env      string
	logger   *zap.Logger
}

// NewBigQueryHandler creates a new BigQueryHandler. baseURL is this
// service's externally reachable address, used to build callback URLs.
func NewBigQueryHandler(gw DatasetGateway, tracker *jobs.Tracker, notifier JobNotifier, baseURL, env string, logger *zap.Logger) *BigQueryHandler {
	return &BigQueryHandler{
		gateway:  gw,
		tracker:  tracker,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
		env:      env,
		logger:   logger,
	}
}

// RegisterRoutes registers the async query routes on the given mux. The
// callback route is registered without tenant enforcement: the remote
// backend authenticates at the network layer and identifies the tenant in
// the query string.
func (h *BigQueryHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/bigquery", authMiddleware.RequireTenant(h.Dispatch))
	mux.HandleFunc("POST /api/bigquery-response", h.Callback)
	mux.HandleFunc("GET /api/bigquery-result", authMiddleware.RequireTenant(h.Result))
}

// Dispatch handles POST /api/bigquery. The query is handed to the remote
// backend and a job handle is returned immediately; completion arrives
// later via the callback.
func (h *BigQueryHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req BigQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Query == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_query", "Query is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tenantID := auth.TenantID(r.Context())
	userID := auth.UserID(r.Context())

	meta := gateway.JobMeta{
		UserID:   userID,
		TabID:    req.TabID,
		ReportID: req.ReportID,
	}

	job, err := h.gateway.ExecuteBigQuery(r.Context(), models.QueryRequest{
		TenantID:   tenantID,
		Query:      req.Query,
		Parameters: req.Parameters,
	}, meta, h.callbackURL(tenantID, userID, req.TabID, req.ReportID))
	if err != nil {
		status, code, message := gatewayError(err, h.env)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Async dispatch failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, message); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteData(w, http.StatusOK, BigQueryResponse{
		JobID:  job.JobID,
		Status: string(job.Status),
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// callbackURL builds the completion callback for a dispatched job. The
// backend appends jobId and status when it calls back.
func (h *BigQueryHandler) callbackURL(tenantID, userID, tabID, reportID string) string {
	params := url.Values{}
	params.Set("tenantId", tenantID)
	params.Set("userId", userID)
	if tabID != "" {
		params.Set("tabId", tabID)
	}
	if reportID != "" {
		params.Set("reportId", reportID)
	}
	return h.baseURL + "/api/bigquery-response?" + params.Encode()
}

// Callback handles POST /api/bigquery-response, invoked by the remote
// backend when a dispatched job finishes. The relay publish is best-effort:
// a relay failure is logged and swallowed, never surfaced to the backend,
// because the client can still poll the result endpoint.
func (h *BigQueryHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobID := q.Get("jobId")
	if jobID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_job_id", "jobId is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	status := models.JobCompleted
	var body struct {
		Status string `json:"status,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Status == string(models.JobFailed) {
		status = models.JobFailed
	}

	evt := models.JobCompletionEvent{
		TenantID: q.Get("tenantId"),
		UserID:   q.Get("userId"),
		TabID:    q.Get("tabId"),
		ReportID: q.Get("reportId"),
		JobID:    jobID,
		Status:   status,
	}

	// The tracker record fills in anything the callback URL did not carry.
	if job, ok := h.tracker.Complete(jobID, status); ok {
		if evt.TenantID == "" {
			evt.TenantID = job.TenantID
		}
		if evt.UserID == "" {
			evt.UserID = job.UserID
		}
		if evt.TabID == "" {
			evt.TabID = job.TabID
		}
		if evt.ReportID == "" {
			evt.ReportID = job.ReportID
		}
	}

	if evt.TenantID == "" {
		h.logger.Warn("Job callback without tenant, dropping relay publish",
			zap.String("job_id", jobID))
	} else if err := h.notifier.NotifyJobComplete(r.Context(), evt); err != nil {
		h.logger.Warn("Relay publish failed",
			zap.String("tenant_id", evt.TenantID),
			zap.String("job_id", jobID),
			zap.Error(err))
	}

	if err := WriteData(w, http.StatusOK, map[string]string{"jobId": jobID}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Result handles GET /api/bigquery-result?jobId=. The result payload is
// returned as-is from the backend.
func (h *BigQueryHandler) Result(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_job_id", "jobId is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tenantID := auth.TenantID(r.Context())
	result, err := h.gateway.GetJobResult(r.Context(), jobID, tenantID)
	if err != nil {
		status, code, message := gatewayError(err, h.env)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Job result fetch failed",
				zap.String("tenant_id", tenantID),
				zap.String("job_id", jobID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, message); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteData(w, http.StatusOK, json.RawMessage(result)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
