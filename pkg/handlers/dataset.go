package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/auth"
	"github.com/branchsight/branchsight-engine/pkg/gateway"
	"github.com/branchsight/branchsight-engine/pkg/models"
)

// DatasetGateway is the gateway surface the HTTP handlers depend on.
type DatasetGateway interface {
	ExecuteQuery(ctx context.Context, req models.QueryRequest) ([]map[string]any, error)
	ExecuteBigQuery(ctx context.Context, req models.QueryRequest, meta gateway.JobMeta, callbackURL string) (*models.Job, error)
	GetJobResult(ctx context.Context, jobID, tenantID string) (json.RawMessage, error)
}

// ExecuteRequest is the POST body for synchronous query execution.
type ExecuteRequest struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SkipCache  bool           `json:"skipCache,omitempty"`
}

// ExecuteResponse carries the result rows of a synchronous query.
type ExecuteResponse struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// DatasetHandler serves the synchronous query-execution endpoint.
type DatasetHandler struct {
	gateway DatasetGateway
	env     string
	logger  *zap.Logger
}

// NewDatasetHandler creates a new DatasetHandler.
func NewDatasetHandler(gw DatasetGateway, env string, logger *zap.Logger) *DatasetHandler {
	return &DatasetHandler{gateway: gw, env: env, logger: logger}
}

// RegisterRoutes registers the dataset handler's routes on the given mux.
func (h *DatasetHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/query/execute", authMiddleware.RequireTenant(h.Execute))
}

// Execute handles POST /api/query/execute.
func (h *DatasetHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
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
	rows, err := h.gateway.ExecuteQuery(r.Context(), models.QueryRequest{
		TenantID:   tenantID,
		Query:      req.Query,
		Parameters: req.Parameters,
		SkipCache:  req.SkipCache,
	})
	if err != nil {
		status, code, message := gatewayError(err, h.env)
		if status == http.StatusInternalServerError || status == http.StatusBadGateway {
			h.logger.Error("Query execution failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, message); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteData(w, http.StatusOK, ExecuteResponse{Rows: rows, RowCount: len(rows)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
