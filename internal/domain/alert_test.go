package domain

import (
	"strings"
	"testing"
	"time"
)

func TestLosscutEventSeverityByGrade(t *testing.T) {
	cases := []struct {
		grade LosscutGrade
		want  Severity
	}{
		{LosscutGradeWarning, SeverityWarning},
		{LosscutGradeCritical, SeverityCritical},
		{LosscutGradeExecuted, SeverityCritical},
		{LosscutGrade("unknown"), SeverityError},
	}

	for _, tc := range cases {
		event := LosscutEvent{Grade: tc.grade}
		if got := event.Severity(); got != tc.want {
			t.Fatalf("grade %s: expected %s, got %s", tc.grade, tc.want, got)
		}
	}
}

func TestConnectionErrorSeverityEscalatesOnEviction(t *testing.T) {
	plain := ConnectionErrorEvent{AccountID: "1"}
	if plain.Severity() != SeverityWarning {
		t.Fatalf("plain connection error should be warning, got %s", plain.Severity())
	}

	evicted := ConnectionErrorEvent{AccountID: "1", Evicted: true}
	if evicted.Severity() != SeverityCritical {
		t.Fatalf("eviction should be critical, got %s", evicted.Severity())
	}
}

func TestTradeErrorSeverityUsesRetryability(t *testing.T) {
	retryable := TradeErrorEvent{ErrorCode: 138} // requote
	if retryable.Severity() != SeverityWarning {
		t.Fatalf("retryable trade error should be warning, got %s", retryable.Severity())
	}

	fatal := TradeErrorEvent{ErrorCode: 134} // not enough money
	if fatal.Severity() != SeverityError {
		t.Fatalf("non-retryable trade error should be error, got %s", fatal.Severity())
	}
}

func TestDedupeKeyTruncatesMessage(t *testing.T) {
	long := strings.Repeat("x", 200)
	a := &ProcessedAlert{AccountID: "1", Type: AlertTypeLosscut, Message: long}
	b := &ProcessedAlert{AccountID: "1", Type: AlertTypeLosscut, Message: long + "different suffix"}

	if a.DedupeKey() != b.DedupeKey() {
		t.Fatal("alerts differing only after the message prefix must collide")
	}

	c := &ProcessedAlert{AccountID: "2", Type: AlertTypeLosscut, Message: long}
	if a.DedupeKey() == c.DedupeKey() {
		t.Fatal("different accounts must not collide")
	}
}

func TestAlertExpiry(t *testing.T) {
	now := time.Now()
	retention := 30 * 24 * time.Hour

	fresh := &ProcessedAlert{Timestamp: now.Add(-time.Hour)}
	if fresh.Expired(now, retention) {
		t.Fatal("fresh alert must not be expired")
	}

	old := &ProcessedAlert{Timestamp: now.Add(-retention - time.Hour)}
	if !old.Expired(now, retention) {
		t.Fatal("alert beyond retention must be expired")
	}

	explicit := now.Add(-time.Minute)
	pinned := &ProcessedAlert{Timestamp: now, ExpiresAt: &explicit}
	if !pinned.Expired(now, retention) {
		t.Fatal("explicit expiry must win over retention")
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityError) {
		t.Fatal("critical should reach error threshold")
	}
	if SeverityInfo.AtLeast(SeverityWarning) {
		t.Fatal("info should not reach warning threshold")
	}
}
