package internal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xKoRx/hedge/internal/compress"
	"github.com/xKoRx/hedge/internal/domain"
	"github.com/xKoRx/hedge/internal/telemetry"
)

// --- Test helpers ---

func newTestTelemetryClient(t *testing.T) *telemetry.Client {
	t.Helper()
	ctx := context.Background()
	client, err := telemetry.New(ctx, "operator-test", "test",
		telemetry.WithLogsDisabled(),
		telemetry.WithMetricsDisabled(),
		telemetry.WithTracesDisabled(),
	)
	if err != nil {
		t.Fatalf("failed to init telemetry: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Shutdown(shutdownCtx)
	})
	return client
}

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		OperatorID:          "operator_test",
		Environment:         "test",
		TerminalURLTemplate: "ws://127.0.0.1:%s/terminal",
		AuthToken:           "test-token",
		MaxErrorCount:       5,
		ReconnectDelay:      20 * time.Millisecond,
		HealthCheckInterval: 20 * time.Millisecond,
		HeartbeatInterval:   20 * time.Millisecond,
		StaleClaimTimeout:   time.Minute,
		TriggerChainDelay:   10 * time.Millisecond,
		ReconcileInterval:   time.Minute,
		DedupeWindow:        100 * time.Millisecond,
		RetentionPeriod:     30 * 24 * time.Hour,
		PurgeInterval:       time.Hour,
		MaxHistory:          100,
		HistoryPath:         filepath.Join(t.TempDir(), "alerts.db"),
		ServiceName:         "operator-test",
		ServiceVersion:      "test",
		Compression:         compress.DefaultConfig(),
	}
}

// alertCollector captura eventos de riesgo emitidos por los componentes.
type alertCollector struct {
	mu     sync.Mutex
	events []domain.RiskEvent
}

func (c *alertCollector) sink(event domain.RiskEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *alertCollector) all() []domain.RiskEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RiskEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *alertCollector) evictions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, event := range c.events {
		if conn, ok := event.(domain.ConnectionErrorEvent); ok && conn.Evicted {
			n++
		}
	}
	return n
}

// waitFor reintenta una condición hasta que se cumple o vence el plazo.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
