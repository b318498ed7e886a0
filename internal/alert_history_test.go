package internal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/xKoRx/hedge/internal/domain"
)

func newTestHistory(t *testing.T, maxEntries int) *AlertHistory {
	t.Helper()
	history, err := OpenAlertHistory(filepath.Join(t.TempDir(), "alerts.db"), maxEntries)
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })
	return history
}

func testAlert(id string, ts time.Time) *domain.ProcessedAlert {
	return &domain.ProcessedAlert{
		ID:        id,
		Type:      domain.AlertTypeLosscut,
		Severity:  domain.SeverityCritical,
		AccountID: "12345",
		Message:   "losscut on position " + id,
		Timestamp: ts,
	}
}

func TestHistorySaveAndQuery(t *testing.T) {
	history := newTestHistory(t, 0)
	now := time.Now()

	for i := 0; i < 5; i++ {
		alert := testAlert(fmt.Sprintf("a%d", i), now.Add(time.Duration(i)*time.Second))
		if err := history.Save(alert); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	results, err := history.Query(AlertQuery{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 alerts, got %d", len(results))
	}
	// Newest first.
	if results[0].ID != "a4" || results[4].ID != "a0" {
		t.Fatalf("expected reverse chronological order, got %s..%s", results[0].ID, results[4].ID)
	}
}

func TestHistoryQueryFilters(t *testing.T) {
	history := newTestHistory(t, 0)
	now := time.Now()

	critical := testAlert("crit", now)
	if err := history.Save(critical); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	warning := testAlert("warn", now.Add(time.Second))
	warning.Type = domain.AlertTypeConnectionError
	warning.Severity = domain.SeverityWarning
	warning.AccountID = "67890"
	if err := history.Save(warning); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	bySeverity, err := history.Query(AlertQuery{MinSeverity: domain.SeverityError})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(bySeverity) != 1 || bySeverity[0].ID != "crit" {
		t.Fatalf("severity filter failed: %+v", bySeverity)
	}

	byAccount, err := history.Query(AlertQuery{AccountID: "67890"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(byAccount) != 1 || byAccount[0].ID != "warn" {
		t.Fatalf("account filter failed: %+v", byAccount)
	}

	byType, err := history.Query(AlertQuery{Type: domain.AlertTypeLosscut, Limit: 1})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != "crit" {
		t.Fatalf("type filter failed: %+v", byType)
	}
}

func TestHistoryCapEvictsOldestFirst(t *testing.T) {
	history := newTestHistory(t, 3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		if err := history.Save(testAlert(fmt.Sprintf("a%d", i), now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	results, err := history.Query(AlertQuery{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) > 3 {
		t.Fatalf("cap not enforced: %d entries", len(results))
	}
	for _, alert := range results {
		if alert.ID == "a0" || alert.ID == "a1" {
			t.Fatalf("oldest entries must be evicted first, found %s", alert.ID)
		}
	}
}

func TestHistoryPurgeExpired(t *testing.T) {
	history := newTestHistory(t, 0)
	now := time.Now()
	retention := 24 * time.Hour

	if err := history.Save(testAlert("old", now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := history.Save(testAlert("fresh", now.Add(-time.Hour))); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	explicit := now.Add(-time.Minute)
	pinned := testAlert("pinned", now.Add(-2*time.Hour))
	pinned.ExpiresAt = &explicit
	if err := history.Save(pinned); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	purged, err := history.PurgeExpired(now, retention)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged (retention + explicit expiry), got %d", purged)
	}

	results, err := history.Query(AlertQuery{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "fresh" {
		t.Fatalf("expected only the fresh alert to survive, got %+v", results)
	}
}

func TestHistoryStatistics(t *testing.T) {
	history := newTestHistory(t, 0)
	now := time.Now()

	if err := history.Save(testAlert("a1", now)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	other := testAlert("a2", now.Add(time.Second))
	other.Type = domain.AlertTypeTradeError
	other.Severity = domain.SeverityWarning
	other.AccountID = "67890"
	if err := history.Save(other); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stats, err := history.Statistics()
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 total, got %d", stats.Total)
	}
	if stats.Recent24h != 2 {
		t.Fatalf("expected 2 recent, got %d", stats.Recent24h)
	}
	if stats.ByType[domain.AlertTypeLosscut] != 1 || stats.ByType[domain.AlertTypeTradeError] != 1 {
		t.Fatalf("type counts wrong: %+v", stats.ByType)
	}
	if stats.BySeverity[domain.SeverityCritical] != 1 || stats.BySeverity[domain.SeverityWarning] != 1 {
		t.Fatalf("severity counts wrong: %+v", stats.BySeverity)
	}
	if stats.ByAccount["12345"] != 1 || stats.ByAccount["67890"] != 1 {
		t.Fatalf("account counts wrong: %+v", stats.ByAccount)
	}
}

func TestHistoryQueryDateRange(t *testing.T) {
	history := newTestHistory(t, 0)
	now := time.Now()

	for i := 0; i < 3; i++ {
		alert := testAlert(fmt.Sprintf("a%d", i), now.Add(time.Duration(10*i)*time.Second))
		if err := history.Save(alert); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	// Window covering only the middle alert.
	results, err := history.Query(AlertQuery{
		Since: now.Add(5 * time.Second),
		Until: now.Add(15 * time.Second),
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a1" {
		t.Fatalf("expected only a1 inside the window, got %+v", results)
	}

	// Upper bound is inclusive.
	onBoundary, err := history.Query(AlertQuery{Until: now.Add(10 * time.Second)})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(onBoundary) != 2 || onBoundary[0].ID != "a1" {
		t.Fatalf("expected a1 and a0 up to the boundary, got %+v", onBoundary)
	}
}
