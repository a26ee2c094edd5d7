package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
	"github.com/branchsight/branchsight-engine/pkg/models"
)

// RemoteClient talks to the remote query-execution API. Queries keep their
// named {{param}} placeholders; the backend binds them natively. Auth is a
// bearer token derived from the resolved tenant target.
type RemoteClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRemoteClient creates a client for the query-execution API.
func NewRemoteClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *RemoteClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("queryapi"),
	}
}

type remoteExecuteRequest struct {
	DatabaseID string         `json:"databaseId"`
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type remoteAsyncRequest struct {
	DatabaseID  string         `json:"databaseId"`
	Query       string         `json:"query"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CallbackURL string         `json:"callbackUrl"`
}

type remoteEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// Execute runs a query synchronously and returns the result rows.
func (c *RemoteClient) Execute(ctx context.Context, target *models.TenantTarget, query string, params map[string]any) ([]map[string]any, error) {
	body := remoteExecuteRequest{
		DatabaseID: target.DatabaseID,
		Query:      query,
		Parameters: params,
	}

	raw, err := c.post(ctx, target, body, "query", "execute")
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &apperrors.UpstreamQueryError{
			StatusCode: http.StatusOK,
			Body:       truncate(string(raw), 2048),
		}
	}
	return rows, nil
}

// ExecuteAsync dispatches a long-running query with a callback URL and
// returns the backend's job id. The backend invokes the callback on
// completion; the gateway never polls.
func (c *RemoteClient) ExecuteAsync(ctx context.Context, target *models.TenantTarget, query string, params map[string]any, callbackURL string) (string, error) {
	body := remoteAsyncRequest{
		DatabaseID:  target.DatabaseID,
		Query:       query,
		Parameters:  params,
		CallbackURL: callbackURL,
	}

	raw, err := c.post(ctx, target, body, "query", "execute-async")
	if err != nil {
		return "", err
	}

	var handle struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(raw, &handle); err != nil || handle.JobID == "" {
		return "", &apperrors.UpstreamQueryError{
			StatusCode: http.StatusOK,
			Body:       truncate(string(raw), 2048),
		}
	}
	return handle.JobID, nil
}

// JobResult fetches the finished result of an async job.
func (c *RemoteClient) JobResult(ctx context.Context, target *models.TenantTarget, jobID string) (json.RawMessage, error) {
	endpoint, err := buildURL(c.baseURL, "query", "result")
	if err != nil {
		return nil, fmt.Errorf("failed to build query API URL: %w", err)
	}
	endpoint += "?jobId=" + url.QueryEscape(jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, target)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query API unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read query API response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("job %q: %w", jobID, apperrors.ErrJobNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apperrors.UpstreamQueryError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), 2048),
		}
	}

	var envelope remoteEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &apperrors.UpstreamQueryError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), 2048),
		}
	}
	return envelope.Data, nil
}

// post sends a JSON body and unwraps the {data}/{message} envelope.
func (c *RemoteClient) post(ctx context.Context, target *models.TenantTarget, body any, segments ...string) (json.RawMessage, error) {
	endpoint, err := buildURL(c.baseURL, segments...)
	if err != nil {
		return nil, fmt.Errorf("failed to build query API URL: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, target)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query API unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read query API response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("query API returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("endpoint", endpoint))
		return nil, &apperrors.UpstreamQueryError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), 2048),
		}
	}

	var envelope remoteEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &apperrors.UpstreamQueryError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), 2048),
		}
	}
	return envelope.Data, nil
}

// setHeaders applies bearer auth derived from the resolved target. The
// tenant's own API key takes precedence over the engine-level token.
func (c *RemoteClient) setHeaders(req *http.Request, target *models.TenantTarget) {
	token := c.token
	if target.APIKey != "" {
		token = target.APIKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
}

// buildURL safely joins a base URL with path segments.
func buildURL(baseURL string, segments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	elems := append([]string{u.Path}, segments...)
	u.Path = path.Join(elems...)
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
