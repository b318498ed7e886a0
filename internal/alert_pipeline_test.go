package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xKoRx/hedge/internal/domain"
)

type fakeNotifier struct {
	mu       sync.Mutex
	name     string
	err      error
	accepted []*domain.ProcessedAlert
}

func (n *fakeNotifier) Name() string                        { return n.name }
func (n *fakeNotifier) Accepts(*domain.ProcessedAlert) bool { return true }

func (n *fakeNotifier) Notify(_ context.Context, alert *domain.ProcessedAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.accepted = append(n.accepted, alert)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.accepted)
}

func newTestPipeline(t *testing.T) (*AlertPipeline, *AlertHistory) {
	t.Helper()
	history := newTestHistory(t, 0)
	pipeline := NewAlertPipeline(context.Background(), newTestConfig(t), newTestTelemetryClient(t), history)
	return pipeline, history
}

func TestClassifyLosscutCriticalHasFollowUps(t *testing.T) {
	pipeline, _ := newTestPipeline(t)

	alert := pipeline.classify(domain.LosscutEvent{
		AccountID:  "12345",
		PositionID: "pos-1",
		Reason:     "STOP_LOSS",
		Grade:      domain.LosscutGradeExecuted,
	})

	if alert.Type != domain.AlertTypeLosscut {
		t.Fatalf("expected losscut type, got %s", alert.Type)
	}
	if alert.Severity != domain.SeverityCritical {
		t.Fatalf("executed losscut should be critical, got %s", alert.Severity)
	}
	if alert.PositionID != "pos-1" {
		t.Fatalf("position must be carried over, got %q", alert.PositionID)
	}
	if len(alert.Category.FollowUps) != 1 || alert.Category.FollowUps[0] != domain.ActionKindClose {
		t.Fatalf("critical losscut should follow up with CLOSE, got %v", alert.Category.FollowUps)
	}

	// Warning grade carries no follow-ups.
	warning := pipeline.classify(domain.LosscutEvent{Grade: domain.LosscutGradeWarning})
	if len(warning.Category.FollowUps) != 0 {
		t.Fatalf("warning losscut should have no follow-ups, got %v", warning.Category.FollowUps)
	}
}

func TestProcessAndNotifyDedupesWithinWindow(t *testing.T) {
	pipeline, history := newTestPipeline(t)
	notifier := &fakeNotifier{name: "fake"}
	pipeline.notifiers = []Notifier{notifier}

	ctx := context.Background()
	first := pipeline.classify(domain.MarginCallEvent{AccountID: "12345", MarginLevel: 80})
	second := pipeline.classify(domain.MarginCallEvent{AccountID: "12345", MarginLevel: 80})

	pipeline.ProcessAndNotify(ctx, first)
	pipeline.ProcessAndNotify(ctx, second)

	if notifier.count() != 1 {
		t.Fatalf("duplicate within window must be suppressed, got %d notifications", notifier.count())
	}

	saved, err := history.Query(AlertQuery{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("duplicate must not be persisted, got %d", len(saved))
	}

	// Different account is not a duplicate.
	other := pipeline.classify(domain.MarginCallEvent{AccountID: "67890", MarginLevel: 80})
	pipeline.ProcessAndNotify(ctx, other)
	if notifier.count() != 2 {
		t.Fatalf("different account must pass, got %d notifications", notifier.count())
	}
}

func TestDedupeWindowExpires(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	notifier := &fakeNotifier{name: "fake"}
	pipeline.notifiers = []Notifier{notifier}

	ctx := context.Background()
	pipeline.ProcessAndNotify(ctx, pipeline.classify(domain.MarginCallEvent{AccountID: "1", MarginLevel: 90}))

	time.Sleep(pipeline.config.DedupeWindow + 20*time.Millisecond)

	pipeline.ProcessAndNotify(ctx, pipeline.classify(domain.MarginCallEvent{AccountID: "1", MarginLevel: 90}))
	if notifier.count() != 2 {
		t.Fatalf("alert after window expiry must pass, got %d notifications", notifier.count())
	}
}

func TestNotifierFailureDoesNotBlockOthers(t *testing.T) {
	pipeline, history := newTestPipeline(t)
	broken := &fakeNotifier{name: "broken", err: errors.New("channel down")}
	working := &fakeNotifier{name: "working"}
	pipeline.notifiers = []Notifier{broken, working}

	pipeline.ProcessAndNotify(context.Background(),
		pipeline.classify(domain.SystemErrorEvent{Component: "test", Err: errors.New("boom")}))

	if working.count() != 1 {
		t.Fatalf("working notifier must still fire, got %d", working.count())
	}

	// Persistence happened before notification.
	saved, err := history.Query(AlertQuery{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("alert must be persisted despite notifier failure, got %d", len(saved))
	}
}

func TestIngestEndToEnd(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	pipeline.Start()
	t.Cleanup(pipeline.Shutdown)

	pipeline.Ingest(domain.LosscutEvent{
		AccountID:  "12345",
		PositionID: "pos-9",
		Reason:     "STOP_LOSS",
		Grade:      domain.LosscutGradeCritical,
	})

	select {
	case alert := <-pipeline.Events():
		if alert.Type != domain.AlertTypeLosscut || alert.AccountID != "12345" {
			t.Fatalf("unexpected processed alert: %+v", alert)
		}
	case <-time.After(time.Second):
		t.Fatal("no processed alert emitted")
	}
}
