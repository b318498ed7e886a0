// Package internal contiene la lógica interna del operador Hedge.
//
// El operador coordina acciones de trading contra el backend etcd,
// mantiene conexiones WebSocket a terminales MT4/MT5 y procesa las
// alertas de riesgo que emiten.
package internal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xKoRx/hedge/internal/compress"
	"github.com/xKoRx/hedge/internal/etcd"
)

// Config configuración del operador.
//
// Cargada desde ETCD en namespace hedge/{environment}, con defaults
// locales para cada clave ausente.
type Config struct {
	// Identidad
	OperatorID  string // operator/operator_id (persistente para ownership)
	Environment string

	// Terminales
	TerminalURLTemplate string        // terminal/url_template ("ws://host:%s/terminal")
	AuthToken           string        // terminal/auth_token
	MaxErrorCount       int           // terminal/max_error_count
	ReconnectDelay      time.Duration // terminal/reconnect_delay_s
	HealthCheckInterval time.Duration // terminal/health_check_interval_s
	HeartbeatInterval   time.Duration // terminal/heartbeat_interval_s

	// Acciones
	StaleClaimTimeout time.Duration // actions/stale_claim_timeout_s
	TriggerChainDelay time.Duration // actions/trigger_chain_delay_ms
	ReconcileInterval time.Duration // actions/reconcile_interval_s

	// Alertas
	DedupeWindow    time.Duration // alerts/dedupe_window_s
	RetentionPeriod time.Duration // alerts/retention_days
	PurgeInterval   time.Duration // alerts/purge_interval_h
	MaxHistory      int           // alerts/max_history
	HistoryPath     string        // alerts/history_path (archivo bbolt)
	WebhookURL      string        // alerts/webhook_url
	EmailEndpoint   string        // alerts/email_endpoint
	DesktopEnabled  bool          // alerts/desktop_enabled
	SoundEnabled    bool          // alerts/sound_enabled

	// Compresión
	Compression compress.Config

	// Telemetry
	ServiceName    string // telemetry/service_name
	ServiceVersion string // telemetry/service_version
	OTLPEndpoint   string // endpoints/otel/otlp_endpoint
}

// LoadConfig carga configuración desde ETCD.
//
// Environment se determina desde variable de entorno ENV (default:
// development).
//
// Uso:
//
//	cfg, err := internal.LoadConfig(ctx)
//	if err != nil {
//	    return err
//	}
func LoadConfig(ctx context.Context) (*Config, error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	hostKey := os.Getenv("HOST_KEY")
	if hostKey == "" {
		if hostname, err := os.Hostname(); err == nil {
			hostKey = hostname
		} else {
			hostKey = "unknown"
		}
	}

	etcdClient, err := etcd.New(
		etcd.WithApp("hedge"),
		etcd.WithEnv(env),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ETCD client: %w", err)
	}
	defer etcdClient.Close()

	cfg := &Config{
		// Defaults (sobrescritos por ETCD si existen)
		OperatorID:          fmt.Sprintf("operator_%s", hostKey),
		Environment:         env,
		TerminalURLTemplate: "ws://127.0.0.1:%s/terminal",
		MaxErrorCount:       5,
		ReconnectDelay:      30 * time.Second,
		HealthCheckInterval: 10 * time.Second,
		HeartbeatInterval:   15 * time.Second,
		StaleClaimTimeout:   5 * time.Minute,
		TriggerChainDelay:   500 * time.Millisecond,
		ReconcileInterval:   30 * time.Second,
		DedupeWindow:        60 * time.Second,
		RetentionPeriod:     30 * 24 * time.Hour,
		PurgeInterval:       24 * time.Hour,
		MaxHistory:          10000,
		HistoryPath:         "hedge_alerts.db",
		DesktopEnabled:      true,
		SoundEnabled:        true,
		Compression:         compress.DefaultConfig(),
		ServiceName:         "hedge-operator",
		ServiceVersion:      "1.0.0",
	}

	// Identidad
	if val := etcdClient.GetVarWithDefault(ctx, "operator/operator_id", ""); val != "" {
		cfg.OperatorID = val
	}

	// Terminales
	if val := etcdClient.GetVarWithDefault(ctx, "terminal/url_template", ""); val != "" {
		cfg.TerminalURLTemplate = val
	}
	if val := etcdClient.GetVarWithDefault(ctx, "terminal/auth_token", ""); val != "" {
		cfg.AuthToken = val
	}
	cfg.MaxErrorCount = etcdClient.GetVarIntWithDefault(ctx, "terminal/max_error_count", cfg.MaxErrorCount)
	if s := etcdClient.GetVarIntWithDefault(ctx, "terminal/reconnect_delay_s", 0); s > 0 {
		cfg.ReconnectDelay = time.Duration(s) * time.Second
	}
	if s := etcdClient.GetVarIntWithDefault(ctx, "terminal/health_check_interval_s", 0); s > 0 {
		cfg.HealthCheckInterval = time.Duration(s) * time.Second
	}
	if s := etcdClient.GetVarIntWithDefault(ctx, "terminal/heartbeat_interval_s", 0); s > 0 {
		cfg.HeartbeatInterval = time.Duration(s) * time.Second
	}

	// Acciones
	if s := etcdClient.GetVarIntWithDefault(ctx, "actions/stale_claim_timeout_s", 0); s > 0 {
		cfg.StaleClaimTimeout = time.Duration(s) * time.Second
	}
	cfg.TriggerChainDelay = etcdClient.GetVarDurationWithDefault(ctx, "actions/trigger_chain_delay_ms", cfg.TriggerChainDelay)
	if s := etcdClient.GetVarIntWithDefault(ctx, "actions/reconcile_interval_s", 0); s > 0 {
		cfg.ReconcileInterval = time.Duration(s) * time.Second
	}

	// Alertas
	if s := etcdClient.GetVarIntWithDefault(ctx, "alerts/dedupe_window_s", 0); s > 0 {
		cfg.DedupeWindow = time.Duration(s) * time.Second
	}
	if d := etcdClient.GetVarIntWithDefault(ctx, "alerts/retention_days", 0); d > 0 {
		cfg.RetentionPeriod = time.Duration(d) * 24 * time.Hour
	}
	if h := etcdClient.GetVarIntWithDefault(ctx, "alerts/purge_interval_h", 0); h > 0 {
		cfg.PurgeInterval = time.Duration(h) * time.Hour
	}
	cfg.MaxHistory = etcdClient.GetVarIntWithDefault(ctx, "alerts/max_history", cfg.MaxHistory)
	if val := etcdClient.GetVarWithDefault(ctx, "alerts/history_path", ""); val != "" {
		cfg.HistoryPath = val
	}
	if val := etcdClient.GetVarWithDefault(ctx, "alerts/webhook_url", ""); val != "" {
		cfg.WebhookURL = val
	}
	if val := etcdClient.GetVarWithDefault(ctx, "alerts/email_endpoint", ""); val != "" {
		cfg.EmailEndpoint = val
	}
	cfg.DesktopEnabled = etcdClient.GetVarBoolWithDefault(ctx, "alerts/desktop_enabled", cfg.DesktopEnabled)
	cfg.SoundEnabled = etcdClient.GetVarBoolWithDefault(ctx, "alerts/sound_enabled", cfg.SoundEnabled)

	// Compresión
	cfg.Compression.Enabled = etcdClient.GetVarBoolWithDefault(ctx, "compression/enabled", cfg.Compression.Enabled)
	if val := etcdClient.GetVarWithDefault(ctx, "compression/algorithm", ""); val != "" {
		cfg.Compression.Algorithm = compress.Algorithm(val)
	}
	cfg.Compression.Level = etcdClient.GetVarIntWithDefault(ctx, "compression/level", cfg.Compression.Level)
	cfg.Compression.MinSize = etcdClient.GetVarIntWithDefault(ctx, "compression/min_size", cfg.Compression.MinSize)
	cfg.Compression.MinRatio = etcdClient.GetVarFloatWithDefault(ctx, "compression/min_ratio", cfg.Compression.MinRatio)

	// Telemetry
	if val := etcdClient.GetVarWithDefault(ctx, "telemetry/service_name", ""); val != "" {
		cfg.ServiceName = val
	}
	if val := etcdClient.GetVarWithDefault(ctx, "telemetry/service_version", ""); val != "" {
		cfg.ServiceVersion = val
	}
	if val := etcdClient.GetVarWithDefault(ctx, "endpoints/otel/otlp_endpoint", ""); val != "" {
		cfg.OTLPEndpoint = val
	}

	if !cfg.Compression.Algorithm.IsValid() {
		return nil, fmt.Errorf("compression/algorithm %q is not supported", cfg.Compression.Algorithm)
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("terminal/auth_token not configured in ETCD")
	}

	return cfg, nil
}
