// Package tenant resolves tenant identifiers to database targets via the
// tenant directory service.
package tenant

import (
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

// Resolver maps a tenant identifier to its database target by querying the
// tenant directory. Targets are fetched per request; a target that goes
// stale after a mid-session directory change is accepted as eventual
// consistency.
type Resolver struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	// Legacy fallback: some installations route unknown tenants to a fixed
	// default target. Off unless explicitly configured; unresolved tenants
	// fail closed otherwise.
	allowDefault    bool
	defaultTenantID string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaultTenant enables the legacy default-target fallback for requests
// whose tenant cannot be resolved.
func WithDefaultTenant(tenantID string) Option {
	return func(r *Resolver) {
		r.allowDefault = true
		r.defaultTenantID = tenantID
	}
}

// NewResolver creates a directory-backed resolver.
func NewResolver(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &Resolver{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("tenant"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps a tenant identifier to its target descriptor.
//
// An empty or unknown tenant id returns ErrTenantNotResolved unless the
// default-tenant fallback is configured, in which case the default tenant's
// directory entry is resolved instead. Directory transport failures are
// fatal to the calling request and propagate unretried.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*models.TenantTarget, error) {
	if tenantID == "" {
		if !r.allowDefault {
			return nil, apperrors.ErrTenantNotResolved
		}
		r.logger.Warn("empty tenant id, using configured default tenant",
			zap.String("default_tenant_id", r.defaultTenantID))
		tenantID = r.defaultTenantID
	}

	target, err := r.lookup(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return target, nil
}

// lookup calls GET {base}/config/database/{tenantId}.
func (r *Resolver) lookup(ctx context.Context, tenantID string) (*models.TenantTarget, error) {
	endpoint, err := buildURL(r.baseURL, "config", "database", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tenant directory unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("tenant %q has no directory entry: %w", tenantID, apperrors.ErrTenantNotResolved)
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.Error("tenant directory returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("tenant_id", tenantID))
		return nil, fmt.Errorf("tenant directory returned status %d", resp.StatusCode)
	}

	var target models.TenantTarget
	if err := json.Unmarshal(body, &target); err != nil {
		return nil, fmt.Errorf("failed to parse directory response: %w", err)
	}
	if target.TenantID == "" {
		target.TenantID = tenantID
	}
	if target.Kind == "" {
		target.Kind = models.TargetRemote
	}

	return &target, nil
}

// List fetches every tenant mapping the directory knows about.
func (r *Resolver) List(ctx context.Context) ([]models.TenantTarget, error) {
	endpoint, err := buildURL(r.baseURL, "database")
	if err != nil {
		return nil, fmt.Errorf("failed to build directory URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tenant directory unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tenant directory returned status %d", resp.StatusCode)
	}

	var targets []models.TenantTarget
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("failed to parse directory response: %w", err)
	}
	return targets, nil
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
