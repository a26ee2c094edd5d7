package relay

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
	"github.com/branchsight/branchsight-engine/pkg/config"
	"github.com/branchsight/branchsight-engine/pkg/models"
)

func TestChannelFor(t *testing.T) {
	a := channelFor("chain-1")
	b := channelFor("chain-2")
	if a == b {
		t.Error("tenants must get distinct channels")
	}
	if a != channelFor("chain-1") {
		t.Error("channel names must be deterministic")
	}
}

func unreachableRelay(t *testing.T) *Relay {
	t.Helper()
	r := New(&config.RelayConfig{
		Host:                  "127.0.0.1",
		Port:                  1, // nothing listens here
		ConnectTimeoutSeconds: 1,
	}, zap.NewNop())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func liveRelay(t *testing.T) *Relay {
	t.Helper()
	srv := miniredis.RunT(t)
	port, err := strconv.Atoi(srv.Port())
	if err != nil {
		t.Fatalf("bad redis port %q: %v", srv.Port(), err)
	}
	r := New(&config.RelayConfig{
		Host:                  srv.Host(),
		Port:                  port,
		ConnectTimeoutSeconds: 1,
	}, zap.NewNop())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNotifyJobComplete_NoSubscriberIsNoOp(t *testing.T) {
	r := liveRelay(t)

	err := r.NotifyJobComplete(context.Background(), models.JobCompletionEvent{
		TenantID: "chain-b",
		JobID:    "job-1",
		Status:   models.JobCompleted,
	})
	if err != nil {
		t.Errorf("publish with no subscriber must succeed as a no-op, got %v", err)
	}
}

func TestSubscribe_ReceivesPublishedEvent(t *testing.T) {
	r := liveRelay(t)

	events, cancel, err := r.Subscribe(context.Background(), "chain-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	evt := models.JobCompletionEvent{
		TenantID: "chain-1",
		JobID:    "job-42",
		Status:   models.JobCompleted,
	}
	if err := r.NotifyJobComplete(context.Background(), evt); err != nil {
		t.Fatalf("NotifyJobComplete() error = %v", err)
	}

	select {
	case got := <-events:
		if got.JobID != "job-42" || got.TenantID != "chain-1" {
			t.Errorf("event = %+v, want job-42 for chain-1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}
}

func TestSubscribe_SecondSubscriberDisplacesFirst(t *testing.T) {
	r := liveRelay(t)

	first, cancelFirst, err := r.Subscribe(context.Background(), "chain-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancelFirst()

	second, cancelSecond, err := r.Subscribe(context.Background(), "chain-1")
	if err != nil {
		t.Fatalf("second Subscribe() error = %v", err)
	}
	defer cancelSecond()

	select {
	case _, ok := <-first:
		if ok {
			t.Error("displaced subscriber must see its channel close, got an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("displaced subscriber's channel did not close")
	}

	evt := models.JobCompletionEvent{
		TenantID: "chain-1",
		JobID:    "job-7",
		Status:   models.JobFailed,
	}
	if err := r.NotifyJobComplete(context.Background(), evt); err != nil {
		t.Fatalf("NotifyJobComplete() error = %v", err)
	}

	select {
	case got := <-second:
		if got.JobID != "job-7" {
			t.Errorf("event JobID = %q, want job-7", got.JobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("active subscriber did not receive the event")
	}
}

func TestNotifyJobComplete_UnreachableWrapsRelayUnavailable(t *testing.T) {
	r := unreachableRelay(t)

	err := r.NotifyJobComplete(context.Background(), models.JobCompletionEvent{
		TenantID: "chain-1",
		JobID:    "job-1",
		Status:   models.JobCompleted,
	})
	if !errors.Is(err, apperrors.ErrRelayUnavailable) {
		t.Errorf("error = %v, want ErrRelayUnavailable wrap", err)
	}
}

func TestSubscribe_UnreachableWrapsRelayUnavailable(t *testing.T) {
	r := unreachableRelay(t)

	_, _, err := r.Subscribe(context.Background(), "chain-1")
	if !errors.Is(err, apperrors.ErrRelayUnavailable) {
		t.Errorf("error = %v, want ErrRelayUnavailable wrap", err)
	}
}
