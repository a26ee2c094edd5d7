package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
	"github.com/branchsight/branchsight-engine/pkg/cache"
	"github.com/branchsight/branchsight-engine/pkg/jobs"
	"github.com/branchsight/branchsight-engine/pkg/models"
)

type fakeResolver struct {
	targets map[string]*models.TenantTarget
}

func (f *fakeResolver) Resolve(_ context.Context, tenantID string) (*models.TenantTarget, error) {
	target, ok := f.targets[tenantID]
	if !ok {
		return nil, apperrors.ErrTenantNotResolved
	}
	return target, nil
}

type fakeBackend struct {
	executeCalls int
	asyncCalls   int
	rows         []map[string]any
	jobID        string
	jobResult    json.RawMessage
	err          error

	lastQuery    string
	lastCallback string
}

func (f *fakeBackend) Execute(_ context.Context, _ *models.TenantTarget, query string, _ map[string]any) ([]map[string]any, error) {
	f.executeCalls++
	f.lastQuery = query
	return f.rows, f.err
}

func (f *fakeBackend) ExecuteAsync(_ context.Context, _ *models.TenantTarget, query string, _ map[string]any, callbackURL string) (string, error) {
	f.asyncCalls++
	f.lastQuery = query
	f.lastCallback = callbackURL
	return f.jobID, f.err
}

func (f *fakeBackend) JobResult(_ context.Context, _ *models.TenantTarget, jobID string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.jobResult, nil
}

func newTestService(t *testing.T, backend *fakeBackend) *Service {
	t.Helper()
	resolver := &fakeResolver{targets: map[string]*models.TenantTarget{
		"chain-1": {TenantID: "chain-1", DatabaseID: "db-1", Kind: models.TargetRemote},
		"chain-2": {TenantID: "chain-2", DatabaseID: "db-2", Kind: models.TargetRemote},
	}}
	results := cache.New(time.Minute, 100)
	t.Cleanup(results.Close)
	return NewService(resolver, backend, nil, results, jobs.NewTracker(), zap.NewNop())
}

func TestExecuteQuery_UnresolvedTenantSkipsBackend(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(t, backend)

	_, err := svc.ExecuteQuery(context.Background(), models.QueryRequest{
		TenantID: "ghost",
		Query:    "SELECT 1",
	})
	if !errors.Is(err, apperrors.ErrTenantNotResolved) {
		t.Errorf("error = %v, want ErrTenantNotResolved", err)
	}
	if backend.executeCalls != 0 {
		t.Error("backend must not be called for an unresolved tenant")
	}
}

func TestExecuteQuery_MissingParameterSkipsBackend(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(t, backend)

	_, err := svc.ExecuteQuery(context.Background(), models.QueryRequest{
		TenantID: "chain-1",
		Query:    "SELECT * FROM sales WHERE branch_id = {{branch_id}}",
	})
	if !errors.Is(err, apperrors.ErrMissingParameter) {
		t.Errorf("error = %v, want ErrMissingParameter", err)
	}
	if backend.executeCalls != 0 {
		t.Error("backend must not be called when a parameter is missing")
	}
}

func TestExecuteQuery_NonIntegerListElementSkipsBackend(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(t, backend)

	_, err := svc.ExecuteQuery(context.Background(), models.QueryRequest{
		TenantID: "chain-1",
		Query:    "SELECT * FROM T WHERE BranchID IN({{branches}})",
		Parameters: map[string]any{
			"branches": []any{1, 2, "3;DROP TABLE T"},
		},
	})
	if !errors.Is(err, apperrors.ErrInvalidParameter) {
		t.Errorf("error = %v, want ErrInvalidParameter", err)
	}
	if backend.executeCalls != 0 {
		t.Error("backend must not see a list with a non-integer element")
	}
}

func TestExecuteQuery_MultipleStatementsRejected(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(t, backend)

	_, err := svc.ExecuteQuery(context.Background(), models.QueryRequest{
		TenantID: "chain-1",
		Query:    "SELECT 1; DROP TABLE sales",
	})
	if !errors.Is(err, apperrors.ErrMultipleStatements) {
		t.Errorf("error = %v, want ErrMultipleStatements", err)
	}
	if backend.executeCalls != 0 {
		t.Error("backend must not see chained statements")
	}
}

func TestExecuteQuery_CachesResult(t *testing.T) {
	backend := &fakeBackend{rows: []map[string]any{{"revenue": float64(100)}}}
	svc := newTestService(t, backend)

	req := models.QueryRequest{
		TenantID:   "chain-1",
		Query:      "SELECT * FROM sales WHERE branch_id = {{branch_id}}",
		Parameters: map[string]any{"branch_id": 1},
	}

	for i := 0; i < 3; i++ {
		rows, err := svc.ExecuteQuery(context.Background(), req)
		if err != nil {
			t.Fatalf("ExecuteQuery() error = %v", err)
		}
		if len(rows) != 1 || rows[0]["revenue"] != float64(100) {
			t.Errorf("unexpected rows %v", rows)
		}
	}

	if backend.executeCalls != 1 {
		t.Errorf("backend called %d times, want 1 (identical requests served from cache)", backend.executeCalls)
	}
}

func TestExecuteQuery_SkipCacheBypasses(t *testing.T) {
	backend := &fakeBackend{rows: []map[string]any{{"x": float64(1)}}}
	svc := newTestService(t, backend)

	req := models.QueryRequest{
		TenantID:  "chain-1",
		Query:     "SELECT 1",
		SkipCache: true,
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.ExecuteQuery(context.Background(), req); err != nil {
			t.Fatalf("ExecuteQuery() error = %v", err)
		}
	}

	if backend.executeCalls != 2 {
		t.Errorf("backend called %d times, want 2 with skipCache", backend.executeCalls)
	}
}

func TestExecuteQuery_TenantsDoNotShareCache(t *testing.T) {
	backend := &fakeBackend{rows: []map[string]any{{"x": float64(1)}}}
	svc := newTestService(t, backend)

	for _, tenantID := range []string{"chain-1", "chain-2"} {
		if _, err := svc.ExecuteQuery(context.Background(), models.QueryRequest{
			TenantID: tenantID,
			Query:    "SELECT 1",
		}); err != nil {
			t.Fatalf("ExecuteQuery(%s) error = %v", tenantID, err)
		}
	}

	if backend.executeCalls != 2 {
		t.Errorf("backend called %d times, want 2 (one per tenant)", backend.executeCalls)
	}
}

func TestExecuteQuery_TrailingSemicolonNormalizedBeforeDispatch(t *testing.T) {
	backend := &fakeBackend{rows: []map[string]any{}}
	svc := newTestService(t, backend)

	if _, err := svc.ExecuteQuery(context.Background(), models.QueryRequest{
		TenantID: "chain-1",
		Query:    "SELECT 1;",
	}); err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	if backend.lastQuery != "SELECT 1" {
		t.Errorf("backend saw %q, want normalized query", backend.lastQuery)
	}
}

func TestExecuteBigQuery(t *testing.T) {
	backend := &fakeBackend{jobID: "job-42"}
	svc := newTestService(t, backend)

	job, err := svc.ExecuteBigQuery(context.Background(), models.QueryRequest{
		TenantID:   "chain-1",
		Query:      "SELECT * FROM sales WHERE branch_id = {{branch_id}}",
		Parameters: map[string]any{"branch_id": 5},
	}, JobMeta{UserID: "u1", TabID: "tab-3", ReportID: "daily-sales"}, "http://engine/api/bigquery-response?tenantId=chain-1")
	if err != nil {
		t.Fatalf("ExecuteBigQuery() error = %v", err)
	}

	if job.JobID != "job-42" {
		t.Errorf("JobID = %q, want job-42", job.JobID)
	}
	if backend.lastCallback == "" {
		t.Error("callback URL must be passed to the backend")
	}

	tracked, ok := svc.Tracker().Get("job-42")
	if !ok {
		t.Fatal("dispatched job must be tracked")
	}
	if tracked.TenantID != "chain-1" || tracked.TabID != "tab-3" || tracked.ReportID != "daily-sales" {
		t.Errorf("unexpected tracked job %+v", tracked)
	}
}

func TestExecuteBigQuery_MissingParameterSkipsDispatch(t *testing.T) {
	backend := &fakeBackend{jobID: "job-42"}
	svc := newTestService(t, backend)

	_, err := svc.ExecuteBigQuery(context.Background(), models.QueryRequest{
		TenantID: "chain-1",
		Query:    "SELECT * FROM sales WHERE branch_id = {{branch_id}}",
	}, JobMeta{}, "http://engine/cb")
	if !errors.Is(err, apperrors.ErrMissingParameter) {
		t.Errorf("error = %v, want ErrMissingParameter", err)
	}
	if backend.asyncCalls != 0 {
		t.Error("dispatch must not happen when a parameter is missing")
	}
}

func TestGetJobResult(t *testing.T) {
	backend := &fakeBackend{jobResult: json.RawMessage(`{"rows":[]}`)}
	svc := newTestService(t, backend)

	result, err := svc.GetJobResult(context.Background(), "job-1", "chain-1")
	if err != nil {
		t.Fatalf("GetJobResult() error = %v", err)
	}
	if string(result) != `{"rows":[]}` {
		t.Errorf("unexpected result %s", result)
	}
}

func TestGetJobResult_UnknownJob(t *testing.T) {
	backend := &fakeBackend{err: apperrors.ErrJobNotFound}
	svc := newTestService(t, backend)

	_, err := svc.GetJobResult(context.Background(), "ghost", "chain-1")
	if !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Errorf("error = %v, want ErrJobNotFound", err)
	}
}

func TestGetJobResult_UnresolvedTenant(t *testing.T) {
	backend := &fakeBackend{jobResult: json.RawMessage(`{}`)}
	svc := newTestService(t, backend)

	_, err := svc.GetJobResult(context.Background(), "job-1", "ghost")
	if !errors.Is(err, apperrors.ErrTenantNotResolved) {
		t.Errorf("error = %v, want ErrTenantNotResolved", err)
	}
}
