package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/microsoft/go-mssqldb" // sqlserver driver
	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/config"
	"github.com/branchsight/branchsight-engine/pkg/logging"
	"github.com/branchsight/branchsight-engine/pkg/models"
	"github.com/branchsight/branchsight-engine/pkg/retry"
)

const (
	defaultPoolTTL         = 5 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
	healthCheckTimeout     = 5 * time.Second
)

// PoolManager maintains pooled connections to direct-SQL tenant targets,
// keyed by "{tenantId}:{databaseId}" with TTL-based expiry. Pools are
// established lazily on first use; an unhealthy pool is discarded and a
// fresh connection established on the next call rather than retried in
// place.
type PoolManager struct {
	mu           sync.RWMutex
	pools        map[string]*managedPool
	ttl          time.Duration
	poolMaxConns int32
	poolMinConns int32
	stopped      bool
	stopChan     chan struct{}
	logger       *zap.Logger
}

type managedPool struct {
	kind     models.TargetKind
	pgx      *pgxpool.Pool
	db       *sql.DB
	lastUsed time.Time
	mu       sync.Mutex
}

func (p *managedPool) close() {
	if p.pgx != nil {
		p.pgx.Close()
	}
	if p.db != nil {
		_ = p.db.Close()
	}
}

func (p *managedPool) ping(ctx context.Context) error {
	if p.pgx != nil {
		return p.pgx.Ping(ctx)
	}
	if p.db != nil {
		return p.db.PingContext(ctx)
	}
	return fmt.Errorf("pool has no connection")
}

// NewPoolManager creates a pool manager and starts its background cleanup
// goroutine, which runs until Close is called.
func NewPoolManager(cfg *config.DatasourceConfig, logger *zap.Logger) *PoolManager {
	ttl := defaultPoolTTL
	if cfg != nil && cfg.ConnectionTTLMinutes > 0 {
		ttl = time.Duration(cfg.ConnectionTTLMinutes) * time.Minute
	}
	maxConns := int32(10)
	minConns := int32(1)
	if cfg != nil && cfg.PoolMaxConns > 0 {
		maxConns = cfg.PoolMaxConns
	}
	if cfg != nil && cfg.PoolMinConns > 0 {
		minConns = cfg.PoolMinConns
	}

	m := &PoolManager{
		pools:        make(map[string]*managedPool),
		ttl:          ttl,
		poolMaxConns: maxConns,
		poolMinConns: minConns,
		stopChan:     make(chan struct{}),
		logger:       logger.Named("pools"),
	}
	go m.cleanupExpired()
	return m
}

func poolKey(target *models.TenantTarget) string {
	return fmt.Sprintf("%s:%s", target.TenantID, target.DatabaseID)
}

// Get returns a healthy pool for the target, creating one if needed.
func (m *PoolManager) Get(ctx context.Context, target *models.TenantTarget) (*managedPool, error) {
	key := poolKey(target)

	m.mu.RLock()
	managed, exists := m.pools[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := retry.DoIfRetryable(healthCtx, retry.DefaultConfig(), func() error {
			return managed.ping(healthCtx)
		})
		cancel()

		if err != nil {
			m.logger.Warn("pool unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.remove(key)
			return m.create(ctx, key, target)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed, nil
	}

	return m.create(ctx, key, target)
}

// create builds a new pool for the target. Caller must NOT hold any locks.
func (m *PoolManager) create(ctx context.Context, key string, target *models.TenantTarget) (*managedPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have created it while we waited for the lock.
	if managed, exists := m.pools[key]; exists && managed != nil {
		managed.mu.Lock()
		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed, nil
	}

	managed := &managedPool{kind: target.Kind, lastUsed: time.Now()}

	switch target.Kind {
	case models.TargetPostgres:
		poolConfig, err := pgxpool.ParseConfig(target.ConnString)
		if err != nil {
			m.logger.Error("failed to parse connection string",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}
		poolConfig.MaxConns = m.poolMaxConns
		poolConfig.MinConns = m.poolMinConns
		poolConfig.MaxConnIdleTime = m.ttl

		pool, err := retry.DoWithResult(ctx, retry.TransientConfig(), func() (*pgxpool.Pool, error) {
			return pgxpool.NewWithConfig(ctx, poolConfig)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create pool for %s: %w", key, err)
		}
		managed.pgx = pool

	case models.TargetMSSQL:
		db, err := retry.DoWithResult(ctx, retry.TransientConfig(), func() (*sql.DB, error) {
			d, err := sql.Open("sqlserver", target.ConnString)
			if err != nil {
				return nil, err
			}
			pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			if err := d.PingContext(pingCtx); err != nil {
				_ = d.Close()
				return nil, err
			}
			return d, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", key, err)
		}
		db.SetMaxOpenConns(int(m.poolMaxConns))
		db.SetMaxIdleConns(int(m.poolMinConns))
		db.SetConnMaxIdleTime(m.ttl)
		managed.db = db

	default:
		return nil, fmt.Errorf("target kind %q is not a direct-SQL target", target.Kind)
	}

	m.pools[key] = managed
	m.logger.Info("created connection pool",
		zap.String("key", key),
		zap.String("kind", string(target.Kind)),
	)
	return managed, nil
}

// remove drops and closes a pool. Caller must NOT hold m.mu.
func (m *PoolManager) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.pools[key]; exists && managed != nil {
		managed.close()
		delete(m.pools, key)
		m.logger.Debug("removed pool", zap.String("key", key))
	}
}

// cleanupExpired runs until stopChan closes, removing pools idle past TTL.
func (m *PoolManager) cleanupExpired() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

func (m *PoolManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	expired := 0
	for key, managed := range m.pools {
		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed) > m.ttl
		managed.mu.Unlock()

		if idle {
			managed.close()
			delete(m.pools, key)
			expired++
		}
	}

	if expired > 0 {
		m.logger.Info("cleaned up idle pools",
			zap.Int("count", expired),
			zap.Int("remaining", len(m.pools)),
		)
	}
}

// Close closes all pools and stops the cleanup goroutine. Idempotent.
func (m *PoolManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.pools {
		managed.close()
	}
	m.pools = make(map[string]*managedPool)
	m.logger.Info("pool manager closed")
	return nil
}
