package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/xKoRx/hedge/internal/compress"
	"github.com/xKoRx/hedge/internal/domain"
	"github.com/xKoRx/hedge/internal/etcd"
	"github.com/xKoRx/hedge/internal/telemetry"
)

// Operator es el proceso operador completo.
//
// Responsabilidades:
//   - Coordinación de acciones contra el backend etcd (watch + claim)
//   - Conexiones WebSocket a los terminales de las cuentas asignadas
//   - Pipeline de alertas (clasificar, deduplicar, persistir, notificar)
//   - Telemetría (logs + métricas + trazas)
type Operator struct {
	config *Config

	etcdClient *etcd.Client
	backend    BackendStore

	history  *AlertHistory
	pipeline *AlertPipeline
	conns    *ConnectionManager
	actions  *ActionService

	telemetry *telemetry.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New crea una instancia del operador.
//
// Config se carga desde ETCD automáticamente.
//
// Example:
//
//	op, err := internal.New(ctx)
//	if err != nil {
//	    return err
//	}
//	defer op.Shutdown()
func New(ctx context.Context) (*Operator, error) {
	opCtx, cancel := context.WithCancel(ctx)

	config, err := LoadConfig(opCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load config from ETCD: %w", err)
	}

	telClient, err := initTelemetry(opCtx, config)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	etcdClient, err := etcd.New(
		etcd.WithApp("hedge"),
		etcd.WithEnv(config.Environment),
	)
	if err != nil {
		cancel()
		_ = telClient.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create ETCD client: %w", err)
	}

	codec, err := compress.New(config.Compression)
	if err != nil {
		cancel()
		_ = etcdClient.Close()
		_ = telClient.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	history, err := OpenAlertHistory(config.HistoryPath, config.MaxHistory)
	if err != nil {
		cancel()
		_ = etcdClient.Close()
		_ = telClient.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to open alert history: %w", err)
	}

	op := &Operator{
		config:     config,
		etcdClient: etcdClient,
		backend:    NewEtcdBackend(etcdClient),
		history:    history,
		telemetry:  telClient,
		ctx:        opCtx,
		cancel:     cancel,
	}

	op.pipeline = NewAlertPipeline(opCtx, config, telClient, history)
	op.conns = NewConnectionManager(opCtx, config, NewTerminalDialer(codec, telClient.HedgeMetrics()), telClient, op.pipeline.Ingest)
	op.actions = NewActionService(opCtx, config, telClient, op.backend, op.conns, op.pipeline.Ingest)

	return op, nil
}

// Start inicia el operador.
//
// Secuencia:
//  1. Cargar cuentas asignadas desde el backend
//  2. Conectar terminales (best-effort por cuenta)
//  3. Arrancar pipeline de alertas y servicio de acciones
//
// Bloquea hasta que ctx se cancele o haya error fatal.
func (o *Operator) Start() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("operator already closed")
	}
	o.mu.Unlock()

	o.telemetry.Info(o.ctx, "Operator starting",
		telemetry.Hedge.OperatorID.String(o.config.OperatorID))

	assignments, err := o.backend.GetAssignedAccounts(o.ctx, o.config.OperatorID)
	if err != nil {
		return fmt.Errorf("failed to load assignments: %w", err)
	}
	if len(assignments) == 0 {
		o.telemetry.Warn(o.ctx, "No accounts assigned to this operator")
	}

	o.pipeline.Start()
	o.conns.Start()

	// Conexión best-effort: las cuentas que fallan quedan en el ciclo de
	// reconexión, no impiden el arranque.
	if err := o.conns.Assign(o.ctx, assignments); err != nil {
		o.telemetry.Warn(o.ctx, "Some terminal connections failed on startup")
	}

	o.actions.Start()

	o.wg.Add(2)
	go o.routeTerminalEvents()
	go o.consumeAlerts()

	o.telemetry.Info(o.ctx, "Operator started",
		telemetry.Hedge.OperatorID.String(o.config.OperatorID))

	<-o.ctx.Done()

	o.telemetry.Info(o.ctx, "Operator shutting down")
	return nil
}

// routeTerminalEvents enruta los eventos de terminal al servicio de
// acciones.
func (o *Operator) routeTerminalEvents() {
	defer o.wg.Done()

	for event := range o.conns.Events() {
		o.actions.HandleTerminalEvent(o.ctx, event)
	}
}

// consumeAlerts drena las alertas procesadas. Las críticas se registran
// con el estado de salud del operador para diagnóstico.
func (o *Operator) consumeAlerts() {
	defer o.wg.Done()

	for alert := range o.pipeline.Events() {
		if alert.Severity != domain.SeverityCritical {
			continue
		}
		o.telemetry.Warn(o.ctx, "Critical alert processed",
			telemetry.Hedge.AlertType.String(string(alert.Type)),
			telemetry.Hedge.AccountID.String(alert.AccountID),
			telemetry.Hedge.Status.String(healthLabel(o.conns.IsHealthy())))
	}
}

// Healthy expone el estado agregado de salud del operador.
func (o *Operator) Healthy() bool {
	return o.conns.IsHealthy()
}

// Shutdown detiene el operador gracefully.
func (o *Operator) Shutdown() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.telemetry.Info(o.ctx, "Operator shutdown initiated")

	// 1. Cancelar contexto (detiene goroutines)
	o.cancel()

	// 2. Detener servicios en orden inverso al arranque
	o.actions.Shutdown()
	o.conns.Shutdown()
	o.pipeline.Shutdown()

	// 3. Esperar routers
	o.wg.Wait()

	// 4. Cerrar recursos
	if err := o.history.Close(); err != nil {
		o.telemetry.Error(context.Background(), "Failed to close alert history", err)
	}
	if err := o.etcdClient.Close(); err != nil {
		o.telemetry.Error(context.Background(), "Failed to close etcd client", err)
	}

	// 5. Shutdown telemetría
	if err := o.telemetry.Shutdown(context.Background()); err != nil {
		return err
	}
	return nil
}

func healthLabel(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "degraded"
}
