package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xKoRx/hedge/internal/domain"
	"github.com/xKoRx/hedge/internal/telemetry"
	"github.com/xKoRx/hedge/internal/utils"
)

// Etiquetas de calidad de conexión derivadas de la latencia de heartbeat.
const (
	QualityExcellent = "EXCELLENT" // < 50ms
	QualityGood      = "GOOD"      // < 100ms
	QualityPoor      = "POOR"
)

// TerminalEvent evento tipado recibido de un terminal, anotado con la
// cuenta de origen.
type TerminalEvent struct {
	AccountID string
	Event     interface{} // domain.OpenedEvent | ClosedEvent | StoppedEvent | ErrorEvent
}

// ConnectionStats snapshot del estado de una conexión.
type ConnectionStats struct {
	AccountID        string
	Connected        bool
	ErrorCount       int
	LastActivity     time.Time
	LatencyMs        float64
	Quality          string
	MessagesSent     int64
	MessagesReceived int64
}

// managedConn estado interno de una conexión gestionada.
type managedConn struct {
	assignment AccountAssignment
	link       TerminalLink

	connected        bool
	errorCount       int
	lastActivity     time.Time
	latencyMs        float64
	messagesSent     int64
	messagesReceived int64

	reconnectTimer *time.Timer
}

// ConnectionManager mantiene una conexión WebSocket por cuenta asignada.
//
// Políticas:
//   - Techo de errores: al acumular MaxErrorCount errores consecutivos la
//     cuenta se expulsa y se emite una alerta crítica. Un envío exitoso
//     resetea el contador.
//   - Reconexión: un único intento diferido ReconnectDelay tras cada
//     caída, incluido un dial inicial fallido; omitido si la cuenta ya no
//     está asignada.
//   - Barrido de salud: cada HealthCheckInterval se hace ping a las
//     conexiones sin actividad reciente.
type ConnectionManager struct {
	config    *Config
	dialer    TerminalDialer
	telemetry *telemetry.Client
	metrics   *telemetry.HedgeMetrics

	// alertSink entrega eventos de riesgo al pipeline de alertas.
	alertSink func(domain.RiskEvent)

	mu    sync.RWMutex
	conns map[string]*managedConn

	events chan TerminalEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnectionManager crea el gestor de conexiones.
func NewConnectionManager(ctx context.Context, config *Config, dialer TerminalDialer, tel *telemetry.Client, alertSink func(domain.RiskEvent)) *ConnectionManager {
	mgrCtx, cancel := context.WithCancel(ctx)
	return &ConnectionManager{
		config:    config,
		dialer:    dialer,
		telemetry: tel,
		metrics:   tel.HedgeMetrics(),
		alertSink: alertSink,
		conns:     make(map[string]*managedConn),
		events:    make(chan TerminalEvent, 256),
		ctx:       mgrCtx,
		cancel:    cancel,
	}
}

// Events retorna el canal de eventos tipados de los terminales.
func (m *ConnectionManager) Events() <-chan TerminalEvent {
	return m.events
}

// Start arranca los loops de heartbeat y barrido de salud.
func (m *ConnectionManager) Start() {
	m.wg.Add(2)
	go m.heartbeatLoop()
	go m.healthLoop()
}

// Assign reemplaza el conjunto de cuentas gestionadas: las que ya no
// figuran en la lista se desasignan, las nuevas se conectan. Los dials
// corren en paralelo: la latencia de una cuenta nunca retrasa a las demás,
// y el error retornado agrega todos los fallos. Una cuenta cuyo dial
// inicial falla entra al ciclo de reconexión igual que una caída.
func (m *ConnectionManager) Assign(ctx context.Context, assignments []AccountAssignment) error {
	keep := make(map[string]bool, len(assignments))
	for _, assignment := range assignments {
		keep[assignment.AccountID] = true
	}
	for _, accountID := range m.GetAssignedAccounts() {
		if !keep[accountID] {
			m.RemoveAssignment(accountID)
		}
	}

	var (
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   []error
	)
	for _, assignment := range assignments {
		if m.isConnected(assignment.AccountID) {
			continue
		}
		wg.Add(1)
		go func(assignment AccountAssignment) {
			defer wg.Done()
			err := m.connect(ctx, assignment)
			if err == nil {
				return
			}
			errsMu.Lock()
			errs = append(errs, fmt.Errorf("account %s: %w", assignment.AccountID, err))
			errsMu.Unlock()
			m.telemetry.Warn(ctx, "Terminal connection failed on assign",
				telemetry.Hedge.AccountID.String(assignment.AccountID))
			m.handleDisconnect(assignment.AccountID, err)
		}(assignment)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// connect abre la conexión de una cuenta y arranca su read pump.
func (m *ConnectionManager) connect(ctx context.Context, assignment AccountAssignment) error {
	url := fmt.Sprintf(m.config.TerminalURLTemplate, assignment.Port)

	auth := &domain.AuthFrame{
		Token: m.config.AuthToken,
		EAInfo: domain.EAInfo{
			Version:  m.config.ServiceVersion,
			Platform: "operator",
			Account:  assignment.AccountID,
		},
	}

	link, err := m.dialer.Dial(ctx, url, auth)
	if err != nil {
		m.ensureConn(assignment)
		return err
	}

	m.mu.Lock()
	conn := m.conns[assignment.AccountID]
	if conn == nil {
		conn = &managedConn{assignment: assignment}
		m.conns[assignment.AccountID] = conn
	}
	if conn.reconnectTimer != nil {
		conn.reconnectTimer.Stop()
		conn.reconnectTimer = nil
	}
	conn.link = link
	conn.connected = true
	conn.errorCount = 0
	conn.lastActivity = time.Now()
	m.mu.Unlock()

	m.metrics.RecordConnectionEvent(m.ctx,
		telemetry.Hedge.AccountID.String(assignment.AccountID),
		telemetry.Hedge.Status.String("connected"))
	m.telemetry.Info(ctx, "Terminal connected",
		telemetry.Hedge.AccountID.String(assignment.AccountID))

	m.wg.Add(1)
	go m.readPump(assignment.AccountID, link)

	return nil
}

// ensureConn registra la cuenta aunque la conexión inicial haya fallado,
// para que el contador de errores y la reconexión apliquen.
func (m *ConnectionManager) ensureConn(assignment AccountAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[assignment.AccountID]; !ok {
		m.conns[assignment.AccountID] = &managedConn{assignment: assignment}
	}
}

// readPump consume frames del link hasta que muere.
func (m *ConnectionManager) readPump(accountID string, link TerminalLink) {
	defer m.wg.Done()

	for msg := range link.Messages() {
		m.touch(accountID, msg)

		event, err := domain.ParseTerminalMessage(msg)
		if err != nil {
			m.alertSink(domain.DataErrorEvent{
				AccountID: accountID,
				Source:    "terminal",
				Detail:    err.Error(),
			})
			continue
		}
		if event == nil {
			continue
		}

		select {
		case m.events <- TerminalEvent{AccountID: accountID, Event: event}:
		case <-m.ctx.Done():
			return
		}
	}

	// Canal cerrado: la conexión murió.
	m.handleDisconnect(accountID, domain.NewError(domain.ErrConnectionLost, "terminal stream closed"))
}

// touch actualiza actividad y latencia de heartbeat.
func (m *ConnectionManager) touch(accountID string, msg map[string]interface{}) {
	now := time.Now()

	var latency float64
	if utils.ExtractString(msg, "type") == domain.TypeHeartbeatAck {
		if sentMs := utils.ExtractInt64(msg, "timestamp"); sentMs > 0 {
			latency = float64(utils.NowUnixMilli() - sentMs)
		}
	}

	m.mu.Lock()
	if conn, ok := m.conns[accountID]; ok {
		conn.lastActivity = now
		conn.messagesReceived++
		if latency > 0 {
			conn.latencyMs = latency
		}
	}
	m.mu.Unlock()

	if latency > 0 {
		m.metrics.RecordConnectionLatency(m.ctx, latency,
			telemetry.Hedge.AccountID.String(accountID),
			telemetry.Hedge.Quality.String(qualityLabel(latency)))
	}
}

// Send envía un frame al terminal de una cuenta. Un fallo cuenta contra el
// techo de errores; un envío exitoso resetea el contador.
func (m *ConnectionManager) Send(ctx context.Context, accountID string, msg map[string]interface{}) error {
	m.mu.RLock()
	conn, ok := m.conns[accountID]
	var link TerminalLink
	if ok && conn.connected {
		link = conn.link
	}
	m.mu.RUnlock()

	if link == nil {
		return domain.NewError(domain.ErrNotAssigned,
			fmt.Sprintf("account %s has no live terminal connection", accountID))
	}

	if err := link.Send(ctx, msg); err != nil {
		m.reportFailure(accountID, err)
		return err
	}

	m.mu.Lock()
	if conn, ok := m.conns[accountID]; ok {
		conn.errorCount = 0
		conn.messagesSent++
	}
	m.mu.Unlock()
	return nil
}

// reportFailure acumula un error de la cuenta y expulsa al llegar al techo.
func (m *ConnectionManager) reportFailure(accountID string, cause error) {
	m.mu.Lock()
	conn, ok := m.conns[accountID]
	if !ok {
		m.mu.Unlock()
		return
	}
	conn.errorCount++
	count := conn.errorCount
	m.mu.Unlock()

	if count >= m.config.MaxErrorCount {
		m.evict(accountID, cause)
		return
	}

	m.alertSink(domain.ConnectionErrorEvent{AccountID: accountID, Err: cause})
}

// handleDisconnect marca la conexión caída y programa un único intento de
// reconexión diferido.
func (m *ConnectionManager) handleDisconnect(accountID string, cause error) {
	m.mu.Lock()
	conn, ok := m.conns[accountID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if conn.link != nil {
		_ = conn.link.Close()
		conn.link = nil
	}
	conn.connected = false
	conn.errorCount++
	count := conn.errorCount
	assignment := conn.assignment
	m.mu.Unlock()

	m.metrics.RecordConnectionEvent(m.ctx,
		telemetry.Hedge.AccountID.String(accountID),
		telemetry.Hedge.Status.String("disconnected"))

	if count >= m.config.MaxErrorCount {
		m.evict(accountID, cause)
		return
	}

	m.alertSink(domain.ConnectionErrorEvent{AccountID: accountID, Err: cause})
	m.telemetry.Warn(m.ctx, "Terminal disconnected, reconnect scheduled",
		telemetry.Hedge.AccountID.String(accountID),
		telemetry.Hedge.ErrorCode.String(fmt.Sprintf("%d/%d", count, m.config.MaxErrorCount)))

	m.mu.Lock()
	if conn, ok := m.conns[accountID]; ok && conn.reconnectTimer == nil {
		conn.reconnectTimer = time.AfterFunc(m.config.ReconnectDelay, func() {
			m.reconnect(assignment)
		})
	}
	m.mu.Unlock()
}

// reconnect es el intento diferido. Se omite si la cuenta fue expulsada o
// desasignada mientras tanto.
func (m *ConnectionManager) reconnect(assignment AccountAssignment) {
	m.mu.Lock()
	conn, ok := m.conns[assignment.AccountID]
	if !ok || conn.connected {
		m.mu.Unlock()
		return
	}
	conn.reconnectTimer = nil
	m.mu.Unlock()

	m.metrics.RecordConnectionEvent(m.ctx,
		telemetry.Hedge.AccountID.String(assignment.AccountID),
		telemetry.Hedge.Status.String("reconnect"))

	if err := m.connect(m.ctx, assignment); err != nil {
		m.handleDisconnect(assignment.AccountID, err)
	}
}

// evict expulsa la cuenta de forma definitiva y alerta en crítico.
func (m *ConnectionManager) evict(accountID string, cause error) {
	m.mu.Lock()
	conn, ok := m.conns[accountID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if conn.reconnectTimer != nil {
		conn.reconnectTimer.Stop()
	}
	if conn.link != nil {
		_ = conn.link.Close()
	}
	delete(m.conns, accountID)
	m.mu.Unlock()

	m.metrics.RecordConnectionEvent(m.ctx,
		telemetry.Hedge.AccountID.String(accountID),
		telemetry.Hedge.Status.String("evicted"))
	m.telemetry.Error(m.ctx, "Terminal evicted after repeated failures", cause,
		telemetry.Hedge.AccountID.String(accountID))

	m.alertSink(domain.ConnectionErrorEvent{AccountID: accountID, Err: cause, Evicted: true})
}

// IsAssigned indica si la cuenta está gestionada (conectada o no).
func (m *ConnectionManager) IsAssigned(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[accountID]
	return ok
}

func (m *ConnectionManager) isConnected(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[accountID]
	return ok && conn.connected
}

// GetAssignedAccounts lista todas las cuentas gestionadas.
func (m *ConnectionManager) GetAssignedAccounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// RemoveAssignment desasigna una cuenta: cierra su conexión y cancela
// cualquier reconexión pendiente. A diferencia de la expulsión por techo de
// errores, no emite alerta.
func (m *ConnectionManager) RemoveAssignment(accountID string) {
	m.mu.Lock()
	conn, ok := m.conns[accountID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if conn.reconnectTimer != nil {
		conn.reconnectTimer.Stop()
	}
	if conn.link != nil {
		_ = conn.link.Close()
	}
	delete(m.conns, accountID)
	m.mu.Unlock()

	m.metrics.RecordConnectionEvent(m.ctx,
		telemetry.Hedge.AccountID.String(accountID),
		telemetry.Hedge.Status.String("unassigned"))
	m.telemetry.Info(m.ctx, "Terminal assignment removed",
		telemetry.Hedge.AccountID.String(accountID))
}

// ReportStatus registra el resultado de una operación contra el terminal de
// la cuenta: nil resetea el contador de errores consecutivos, un error
// cuenta contra el techo.
func (m *ConnectionManager) ReportStatus(accountID string, err error) {
	if err == nil {
		m.mu.Lock()
		if conn, ok := m.conns[accountID]; ok {
			conn.errorCount = 0
		}
		m.mu.Unlock()
		return
	}
	m.reportFailure(accountID, err)
}

// IsHealthy indica si al menos el 80% de las cuentas gestionadas tienen
// conexión viva. Sin cuentas asignadas el operador se considera sano.
func (m *ConnectionManager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.conns) == 0 {
		return true
	}
	connected := 0
	for _, conn := range m.conns {
		if conn.connected {
			connected++
		}
	}
	return float64(connected) >= 0.8*float64(len(m.conns))
}

// Stats retorna el snapshot de todas las conexiones gestionadas.
func (m *ConnectionManager) Stats() []ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]ConnectionStats, 0, len(m.conns))
	for id, conn := range m.conns {
		stats = append(stats, ConnectionStats{
			AccountID:        id,
			Connected:        conn.connected,
			ErrorCount:       conn.errorCount,
			LastActivity:     conn.lastActivity,
			LatencyMs:        conn.latencyMs,
			Quality:          qualityLabel(conn.latencyMs),
			MessagesSent:     conn.messagesSent,
			MessagesReceived: conn.messagesReceived,
		})
	}
	return stats
}

// heartbeatLoop envía HEARTBEAT a todas las conexiones vivas.
func (m *ConnectionManager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			frame := domain.HeartbeatToJSON(utils.NowUnixMilli())
			for _, accountID := range m.connectedAccounts() {
				_ = m.Send(m.ctx, accountID, frame)
			}
		}
	}
}

// healthLoop hace ping a conexiones sin actividad reciente.
func (m *ConnectionManager) healthLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	// Sin actividad durante 3 barridos, la conexión se re-verifica con ping.
	staleAfter := 3 * m.config.HealthCheckInterval

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep(staleAfter)
		}
	}
}

func (m *ConnectionManager) sweep(staleAfter time.Duration) {
	type target struct {
		accountID string
		link      TerminalLink
	}

	m.mu.RLock()
	var targets []target
	now := time.Now()
	for id, conn := range m.conns {
		if conn.connected && now.Sub(conn.lastActivity) > staleAfter {
			targets = append(targets, target{accountID: id, link: conn.link})
		}
	}
	m.mu.RUnlock()

	for _, t := range targets {
		if err := t.link.Ping(m.ctx); err != nil {
			m.telemetry.Warn(m.ctx, "Health ping failed",
				telemetry.Hedge.AccountID.String(t.accountID))
			m.handleDisconnect(t.accountID, err)
		}
	}
}

func (m *ConnectionManager) connectedAccounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.conns))
	for id, conn := range m.conns {
		if conn.connected {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown cierra todas las conexiones y detiene los loops.
func (m *ConnectionManager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	for _, conn := range m.conns {
		if conn.reconnectTimer != nil {
			conn.reconnectTimer.Stop()
		}
		if conn.link != nil {
			_ = conn.link.Close()
		}
	}
	m.conns = make(map[string]*managedConn)
	m.mu.Unlock()

	m.wg.Wait()
	close(m.events)
}

// qualityLabel deriva la etiqueta de calidad desde la latencia en ms.
func qualityLabel(latencyMs float64) string {
	switch {
	case latencyMs <= 0:
		return QualityPoor
	case latencyMs < 50:
		return QualityExcellent
	case latencyMs < 100:
		return QualityGood
	default:
		return QualityPoor
	}
}
