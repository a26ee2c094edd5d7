// Package gateway executes tenant-scoped report queries against resolved
// database targets, with caching and async job dispatch.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/cache"
	"github.com/branchsight/branchsight-engine/pkg/jobs"
	"github.com/branchsight/branchsight-engine/pkg/logging"
	"github.com/branchsight/branchsight-engine/pkg/models"
	"github.com/branchsight/branchsight-engine/pkg/sqltemplate"
)

// TargetResolver maps tenant identifiers to database targets.
type TargetResolver interface {
	Resolve(ctx context.Context, tenantID string) (*models.TenantTarget, error)
}

// QueryBackend is the remote query-execution API surface the gateway
// dispatches to when a target is not a direct-SQL connection.
type QueryBackend interface {
	Execute(ctx context.Context, target *models.TenantTarget, query string, params map[string]any) ([]map[string]any, error)
	ExecuteAsync(ctx context.Context, target *models.TenantTarget, query string, params map[string]any, callbackURL string) (string, error)
	JobResult(ctx context.Context, target *models.TenantTarget, jobID string) (json.RawMessage, error)
}

// JobMeta identifies the session that dispatched an async job, so the
// completion event can be relayed back to the right subscriber.
type JobMeta struct {
	UserID   string
	TabID    string
	ReportID string
}

// Service is the dataset gateway. One instance is constructed by the
// composition root and held for the process lifetime; it owns no hidden
// global state.
type Service struct {
	resolver TargetResolver
	remote   QueryBackend
	pools    *PoolManager
	results  *cache.ResultCache
	tracker  *jobs.Tracker
	logger   *zap.Logger
}

// NewService wires the gateway from its collaborators.
func NewService(
	resolver TargetResolver,
	remote QueryBackend,
	pools *PoolManager,
	results *cache.ResultCache,
	tracker *jobs.Tracker,
	logger *zap.Logger,
) *Service {
	return &Service{
		resolver: resolver,
		remote:   remote,
		pools:    pools,
		results:  results,
		tracker:  tracker,
		logger:   logger.Named("gateway"),
	}
}

// ExecuteQuery resolves the tenant, binds the template, and executes the
// query against the resolved target, memoizing results.
//
// Parameter and tenant-resolution failures reject before any backend call.
// The cache key always includes the resolved tenant id, so tenants with
// identical query text never share an entry.
func (s *Service) ExecuteQuery(ctx context.Context, req models.QueryRequest) ([]map[string]any, error) {
	target, err := s.resolver.Resolve(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	// Statement chaining is rejected up front; the execute path is
	// read-only report queries.
	validation := sqltemplate.ValidateAndNormalize(req.Query)
	if validation.Error != nil {
		return nil, validation.Error
	}

	// Bind validates that every referenced placeholder is supplied, for the
	// remote path too; remote dispatch keeps the named form and lets the
	// backend do native binding.
	boundSQL, args, err := sqltemplate.Bind(validation.NormalizedSQL, req.Parameters)
	if err != nil {
		return nil, err
	}

	fingerprint := cache.Fingerprint(target.TenantID, validation.NormalizedSQL, req.Parameters)
	if !req.SkipCache {
		var cached []map[string]any
		if s.results.Get(fingerprint, &cached) {
			s.logger.Debug("cache hit",
				zap.String("tenant_id", target.TenantID),
				zap.String("query", logging.SanitizeQuery(req.Query)))
			return cached, nil
		}
	}

	var rows []map[string]any
	switch target.Kind {
	case models.TargetPostgres, models.TargetMSSQL:
		pool, err := s.pools.Get(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to reach tenant database: %w", err)
		}
		rows, err = pool.queryDirect(ctx, boundSQL, args, 0)
		if err != nil {
			return nil, err
		}
	default:
		rows, err = s.remote.Execute(ctx, target, validation.NormalizedSQL, req.Parameters)
		if err != nil {
			return nil, err
		}
	}

	s.results.Put(fingerprint, rows)
	return rows, nil
}

// ExecuteBigQuery dispatches a long-running query asynchronously and returns
// a job handle immediately. The backend invokes callbackURL on completion;
// the gateway never polls. Resolution and binding failures reject before
// dispatch, same as ExecuteQuery.
func (s *Service) ExecuteBigQuery(ctx context.Context, req models.QueryRequest, meta JobMeta, callbackURL string) (*models.Job, error) {
	target, err := s.resolver.Resolve(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	validation := sqltemplate.ValidateAndNormalize(req.Query)
	if validation.Error != nil {
		return nil, validation.Error
	}

	if _, _, err := sqltemplate.Bind(validation.NormalizedSQL, req.Parameters); err != nil {
		return nil, err
	}

	jobID, err := s.remote.ExecuteAsync(ctx, target, validation.NormalizedSQL, req.Parameters, callbackURL)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		JobID:    jobID,
		TenantID: target.TenantID,
		UserID:   meta.UserID,
		TabID:    meta.TabID,
		ReportID: meta.ReportID,
	}
	s.tracker.Register(job)

	s.logger.Info("dispatched async query job",
		zap.String("tenant_id", target.TenantID),
		zap.String("job_id", jobID),
		zap.String("report_id", meta.ReportID))
	return job, nil
}

// GetJobResult fetches the finished result of an async job from the backend.
// Returns ErrTenantNotResolved when the tenant cannot be mapped to a
// database (distinguishable so callers can render "tenant not provisioned")
// and ErrJobNotFound when the backend reports no such job.
func (s *Service) GetJobResult(ctx context.Context, jobID, tenantID string) (json.RawMessage, error) {
	target, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.remote.JobResult(ctx, target, jobID)
}

// Tracker exposes the job registry for the callback handler.
func (s *Service) Tracker() *jobs.Tracker {
	return s.tracker
}

// Close releases the gateway's pooled resources.
func (s *Service) Close() error {
	s.results.Close()
	if s.pools != nil {
		return s.pools.Close()
	}
	return nil
}
