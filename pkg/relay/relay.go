// Package relay delivers asynchronous job completion events over a
// per-tenant pub/sub channel.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
	"github.com/branchsight/branchsight-engine/pkg/config"
	"github.com/branchsight/branchsight-engine/pkg/models"
)

// Relay publishes job completion events to the tenant's broadcast channel
// and hands subscriptions to the UI's event stream.
//
// Delivery is at-most-once and best-effort: with no subscriber registered
// for the tenant when an event fires, the event is dropped and the client
// falls back to polling the job result endpoint.
type Relay struct {
	cfg    *config.RelayConfig
	logger *zap.Logger

	mu     sync.Mutex
	client *redis.Client // established lazily on first use

	// One active subscriber per tenant; a second connection for the same
	// tenant displaces the first (last-connected-wins).
	subscribers map[string]*subscription
}

type subscription struct {
	tenantID string
	pubsub   *redis.PubSub
	events   chan models.JobCompletionEvent
	done     chan struct{}
	once     sync.Once
}

// New creates a relay. No connection is made until the first publish or
// subscribe.
func New(cfg *config.RelayConfig, logger *zap.Logger) *Relay {
	return &Relay{
		cfg:         cfg,
		logger:      logger.Named("relay"),
		subscribers: make(map[string]*subscription),
	}
}

// channelFor returns the tenant's broadcast channel name.
func channelFor(tenantID string) string {
	return "jobs:" + tenantID
}

// ensureClient lazily establishes the relay connection with a bounded
// connect timeout. Failure within the timeout is fatal for that attempt and
// is not retried here.
func (r *Relay) ensureClient(ctx context.Context) (*redis.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        r.cfg.Addr(),
		Password:    r.cfg.Password,
		DB:          r.cfg.DB,
		DialTimeout: r.cfg.ConnectTimeout(),
	})

	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay connect failed: %w: %w", err, apperrors.ErrRelayUnavailable)
	}

	r.client = client
	return client, nil
}

// NotifyJobComplete publishes a completion event on the tenant's channel.
//
// Failures are wrapped with ErrRelayUnavailable; callers log and swallow
// them so a relay outage never fails the query operation that triggered the
// notification. Publishing to a channel with no subscriber is a successful
// no-op.
func (r *Relay) NotifyJobComplete(ctx context.Context, evt models.JobCompletionEvent) error {
	client, err := r.ensureClient(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode completion event: %w", err)
	}

	if err := client.Publish(ctx, channelFor(evt.TenantID), payload).Err(); err != nil {
		// A broken connection is discarded so the next notification attempt
		// establishes a fresh one.
		r.mu.Lock()
		if r.client == client {
			_ = r.client.Close()
			r.client = nil
		}
		r.mu.Unlock()
		return fmt.Errorf("relay publish failed: %w: %w", err, apperrors.ErrRelayUnavailable)
	}

	r.logger.Debug("published job completion",
		zap.String("tenant_id", evt.TenantID),
		zap.String("job_id", evt.JobID),
		zap.String("status", string(evt.Status)))
	return nil
}

// Subscribe registers the caller as the tenant's active subscriber and
// returns a channel of completion events plus a cancel function. An existing
// subscriber for the same tenant is displaced and its channel closed
// (single-active-session semantics per tenant, by policy).
//
// The cancel function is safe to call multiple times and must be called when
// the consumer goes away.
func (r *Relay) Subscribe(ctx context.Context, tenantID string) (<-chan models.JobCompletionEvent, func(), error) {
	client, err := r.ensureClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	pubsub := client.Subscribe(ctx, channelFor(tenantID))
	// Force the subscription onto the wire before we hand out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("relay subscribe failed: %w: %w", err, apperrors.ErrRelayUnavailable)
	}

	sub := &subscription{
		tenantID: tenantID,
		pubsub:   pubsub,
		events:   make(chan models.JobCompletionEvent, 16),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	if prev, ok := r.subscribers[tenantID]; ok {
		r.logger.Info("displacing existing subscriber for tenant",
			zap.String("tenant_id", tenantID))
		prev.close()
	}
	r.subscribers[tenantID] = sub
	r.mu.Unlock()

	go r.pump(sub)

	cancel := func() {
		r.mu.Lock()
		if r.subscribers[tenantID] == sub {
			delete(r.subscribers, tenantID)
		}
		r.mu.Unlock()
		sub.close()
	}
	return sub.events, cancel, nil
}

// pump decodes raw pub/sub messages into typed events until the
// subscription closes.
func (r *Relay) pump(sub *subscription) {
	defer close(sub.events)

	ch := sub.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt models.JobCompletionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				r.logger.Warn("dropping malformed relay message",
					zap.String("tenant_id", sub.tenantID),
					zap.Error(err))
				continue
			}
			select {
			case sub.events <- evt:
			default:
				// Slow consumer: drop rather than block the pump.
				r.logger.Warn("subscriber channel full, dropping event",
					zap.String("tenant_id", sub.tenantID),
					zap.String("job_id", evt.JobID))
			}
		case <-sub.done:
			return
		}
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.pubsub.Close()
	})
}

// Close shuts down all subscriptions and the relay connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tenantID, sub := range r.subscribers {
		sub.close()
		delete(r.subscribers, tenantID)
	}
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}
