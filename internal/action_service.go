package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xKoRx/hedge/internal/domain"
	"github.com/xKoRx/hedge/internal/telemetry"
	"github.com/xKoRx/hedge/internal/utils"
	"go.opentelemetry.io/otel/attribute"
)

// TerminalSender es la vista del gestor de conexiones que necesita el
// servicio de acciones (facilita mocking).
type TerminalSender interface {
	Send(ctx context.Context, accountID string, msg map[string]interface{}) error
	IsAssigned(accountID string) bool
}

// pendingExec ejecución despachada al terminal, a la espera de su
// confirmación OPENED/CLOSED.
type pendingExec struct {
	actionID  string
	kind      domain.ActionKind
	startedMs int64
}

// ActionService coordina la ejecución de acciones.
//
// Garantía central: cada acción tiene exactamente un ejecutor. Entre
// procesos, la exclusividad la da la identidad de dueño registrada en el
// backend: solo el operador dueño ejecuta. Dentro del proceso, la
// ClaimTable absorbe observaciones duplicadas de la misma acción (watch,
// reconciler, disparo directo). El perdedor de cualquier carrera abandona
// sin reintentar.
type ActionService struct {
	config    *Config
	telemetry *telemetry.Client
	metrics   *telemetry.HedgeMetrics
	backend   BackendStore
	terminals TerminalSender
	claims    *ClaimTable
	alertSink func(domain.RiskEvent)

	// pending ejecuciones en vuelo por positionID.
	pendingMu sync.Mutex
	pending   map[string]pendingExec

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewActionService crea el servicio de acciones.
func NewActionService(ctx context.Context, config *Config, tel *telemetry.Client, backend BackendStore, terminals TerminalSender, alertSink func(domain.RiskEvent)) *ActionService {
	svcCtx, cancel := context.WithCancel(ctx)
	return &ActionService{
		config:    config,
		telemetry: tel,
		metrics:   tel.HedgeMetrics(),
		backend:   backend,
		terminals: terminals,
		claims:    NewClaimTable(config.StaleClaimTimeout),
		alertSink: alertSink,
		pending:   make(map[string]pendingExec),
		ctx:       svcCtx,
		cancel:    cancel,
	}
}

// Start arranca la suscripción al backend, el reconciler y el barrido de
// claims stale.
func (s *ActionService) Start() {
	s.wg.Add(3)
	go s.watchLoop()
	go s.reconcileLoop()
	go s.staleSweepLoop()
}

// Shutdown detiene los loops del servicio.
func (s *ActionService) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// CreateAction registra una acción nueva en estado PENDING, asignada al
// operador indicado.
//
// Example:
//
//	action, err := svc.CreateAction(ctx, operatorID, domain.ActionKindClose, "12345", positionID, "")
func (s *ActionService) CreateAction(ctx context.Context, ownerID string, kind domain.ActionKind, accountID, positionID, triggerPositionID string) (*domain.Action, error) {
	if !kind.IsValid() {
		return nil, domain.NewError(domain.ErrInvalidAction, fmt.Sprintf("unknown action kind %q", kind))
	}
	if ownerID == "" || accountID == "" || positionID == "" {
		return nil, domain.NewError(domain.ErrMissingRequiredField, "owner, account and position are required")
	}

	action := &domain.Action{
		ID:                utils.NewID(),
		OwnerID:           ownerID,
		AccountID:         accountID,
		PositionID:        positionID,
		TriggerPositionID: triggerPositionID,
		Kind:              kind,
		Status:            domain.ActionStatusPending,
		CreatedMs:         utils.NowUnixMilli(),
	}

	if err := s.backend.PutAction(ctx, action); err != nil {
		return nil, err
	}

	s.telemetry.Info(ctx, "Action created",
		telemetry.ActionAttributes(action.ID, accountID, string(action.Status))...)
	return action, nil
}

// TriggerAction transiciona una acción PENDING a EXECUTING: la única puerta
// de entrada al estado activo. Si la acción pertenece a este operador, la
// ejecución arranca inmediatamente; si pertenece a otro, su watch la verá.
//
// Una acción ya disparada (EXECUTING o terminal) se ignora en silencio: el
// disparo duplicado es esperado, no un error.
func (s *ActionService) TriggerAction(ctx context.Context, actionID string) error {
	action, err := s.backend.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	if action.Status != domain.ActionStatusPending {
		return nil
	}

	triggered, err := s.backend.UpdateActionStatus(ctx, actionID,
		domain.ActionStatusPending, domain.ActionStatusExecuting, action.OwnerID)
	if err != nil {
		// Otro disparo ganó la carrera: no es un fallo.
		s.metrics.RecordClaimConflict(ctx, telemetry.Hedge.ActionID.String(actionID))
		return nil
	}

	return s.execute(ctx, triggered)
}

// TriggerActions dispara una lista de acciones en orden, con una pausa
// entre cada una para no saturar el terminal.
func (s *ActionService) TriggerActions(ctx context.Context, actionIDs []string) error {
	for i, id := range actionIDs {
		if i > 0 {
			select {
			case <-time.After(s.config.TriggerChainDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := s.TriggerAction(ctx, id); err != nil {
			// La cadena continúa: una acción fallida no cancela las
			// siguientes, cada una responde a su propia posición.
			s.telemetry.Warn(ctx, "Trigger chain action failed",
				telemetry.Hedge.ActionID.String(id))
		}
	}
	return nil
}

// ExecuteTriggerChain ejecuta la cadena de disparo de una posición.
func (s *ActionService) ExecuteTriggerChain(ctx context.Context, position *domain.Position) error {
	chain := position.TriggerChain()
	if len(chain) == 0 {
		return nil
	}

	s.telemetry.Info(ctx, "Executing trigger chain",
		telemetry.Hedge.PositionID.String(position.ID),
		attribute.Int("chain_length", len(chain)))

	return s.TriggerActions(ctx, chain)
}

// execute reclama y despacha una acción observada en EXECUTING.
//
// El chequeo de identidad de dueño precede al claim: acciones de otros
// operadores se ignoran. El claim local evita que la misma acción,
// observada dos veces (watch + reconciler + disparo directo), se despache
// dos veces; el perdedor abandona sin reintentar.
func (s *ActionService) execute(ctx context.Context, action *domain.Action) error {
	if action.OwnerID != s.config.OperatorID {
		return nil
	}
	if action.Status != domain.ActionStatusExecuting {
		return nil
	}

	if !s.claims.TryAcquire(action.ID) {
		s.metrics.RecordClaimConflict(ctx, telemetry.Hedge.ActionID.String(action.ID))
		return nil
	}

	s.metrics.RecordActionClaimed(ctx,
		telemetry.ActionAttributes(action.ID, action.AccountID, string(action.Status))...)

	if !s.terminals.IsAssigned(action.AccountID) {
		err := domain.NewError(domain.ErrNotAssigned,
			fmt.Sprintf("account %s not assigned to this operator", action.AccountID))
		s.fail(ctx, action, err)
		return err
	}

	if err := s.dispatch(ctx, action); err != nil {
		s.fail(ctx, action, err)
		return err
	}
	return nil
}

// dispatch construye y envía el comando al terminal de la cuenta.
func (s *ActionService) dispatch(ctx context.Context, action *domain.Action) error {
	position, err := s.backend.GetPosition(ctx, action.PositionID)
	if err != nil {
		return err
	}

	meta := domain.CommandMetadata{
		ExecutionType: string(action.Kind),
		TimestampMs:   utils.NowUnixMilli(),
	}

	var frame map[string]interface{}
	var nextStatus domain.PositionStatus

	switch action.Kind {
	case domain.ActionKindEntry:
		frame = domain.OpenCommandToJSON(&domain.OpenCommand{
			AccountID:  action.AccountID,
			PositionID: position.ID,
			Symbol:     position.Symbol,
			Side:       position.Side(),
			Volume:     position.AbsVolume(),
			TrailWidth: position.TrailWidth,
			Metadata:   meta,
		})
		nextStatus = domain.PositionStatusOpening

	case domain.ActionKindClose:
		frame = domain.CloseCommandToJSON(&domain.CloseCommand{
			AccountID:  action.AccountID,
			PositionID: position.ID,
			Symbol:     position.Symbol,
			Side:       position.CloseSide(),
			Volume:     position.AbsVolume(),
			Metadata:   meta,
		})
		nextStatus = domain.PositionStatusClosing

	default:
		return domain.NewError(domain.ErrInvalidAction, fmt.Sprintf("unknown kind %q", action.Kind))
	}

	s.pendingMu.Lock()
	s.pending[position.ID] = pendingExec{
		actionID:  action.ID,
		kind:      action.Kind,
		startedMs: meta.TimestampMs,
	}
	s.pendingMu.Unlock()

	if err := s.terminals.Send(ctx, action.AccountID, frame); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, position.ID)
		s.pendingMu.Unlock()
		return err
	}

	if err := s.backend.UpdatePositionStatus(ctx, position.ID, nextStatus, 0); err != nil {
		// El comando ya viajó; el estado converge con la confirmación.
		s.telemetry.Warn(ctx, "Position status update failed after dispatch",
			telemetry.Hedge.PositionID.String(position.ID))
	}

	s.telemetry.Info(ctx, "Action dispatched",
		telemetry.ActionAttributes(action.ID, action.AccountID, string(action.Kind))...)
	return nil
}

// HandleTerminalEvent resuelve confirmaciones y fallos reportados por los
// terminales.
func (s *ActionService) HandleTerminalEvent(ctx context.Context, te TerminalEvent) {
	switch event := te.Event.(type) {
	case domain.OpenedEvent:
		s.resolve(ctx, event.PositionID, event.Ticket, event.Success(), domain.PositionStatusOpen)

	case domain.ClosedEvent:
		s.resolve(ctx, event.PositionID, event.Ticket, event.Success(), domain.PositionStatusClosed)

	case domain.StoppedEvent:
		s.handleStopped(ctx, te.AccountID, event)

	case domain.ErrorEvent:
		s.handleTerminalError(ctx, te.AccountID, event)
	}
}

// resolve cierra el ciclo de una ejecución en vuelo con su confirmación.
func (s *ActionService) resolve(ctx context.Context, positionID string, ticket int64, success bool, confirmedStatus domain.PositionStatus) {
	s.pendingMu.Lock()
	exec, ok := s.pending[positionID]
	if ok {
		delete(s.pending, positionID)
	}
	s.pendingMu.Unlock()

	if !ok {
		// Confirmación sin ejecución en vuelo: otro operador la despachó
		// o el proceso se reinició. Solo se converge el estado.
		if success {
			_ = s.backend.UpdatePositionStatus(ctx, positionID, confirmedStatus, ticket)
		}
		return
	}

	if !success {
		action, err := s.backend.GetAction(ctx, exec.actionID)
		if err == nil {
			s.fail(ctx, action, domain.NewError(domain.ErrTerminalReject, "terminal reported FAILED"))
		} else {
			s.claims.ReleaseFailed(exec.actionID)
		}
		return
	}

	defer s.claims.Release(exec.actionID)

	if _, err := s.backend.UpdateActionStatus(ctx, exec.actionID,
		domain.ActionStatusExecuting, domain.ActionStatusExecuted, s.config.OperatorID); err != nil {
		s.telemetry.Warn(ctx, "Action completion update failed",
			telemetry.Hedge.ActionID.String(exec.actionID))
	}
	if err := s.backend.UpdatePositionStatus(ctx, positionID, confirmedStatus, ticket); err != nil {
		s.telemetry.Warn(ctx, "Position confirmation update failed",
			telemetry.Hedge.PositionID.String(positionID))
	}

	latency := float64(utils.NowUnixMilli() - exec.startedMs)
	s.metrics.RecordActionExecuted(ctx, latency,
		telemetry.Hedge.ActionID.String(exec.actionID),
		telemetry.Hedge.Status.String(string(domain.ActionStatusExecuted)))
}

// handleStopped procesa un cierre forzoso: alerta de losscut y cadena de
// disparo de la posición detenida.
func (s *ActionService) handleStopped(ctx context.Context, accountID string, event domain.StoppedEvent) {
	grade := domain.LosscutGradeExecuted
	if event.Reason == "MARGIN_CALL" {
		grade = domain.LosscutGradeCritical
	}

	s.alertSink(domain.LosscutEvent{
		AccountID:  accountID,
		PositionID: event.PositionID,
		Ticket:     event.Ticket,
		Price:      event.Price,
		Reason:     event.Reason,
		Grade:      grade,
	})

	if err := s.backend.UpdatePositionStatus(ctx, event.PositionID, domain.PositionStatusStopped, event.Ticket); err != nil {
		s.telemetry.Warn(ctx, "Stopped position update failed",
			telemetry.Hedge.PositionID.String(event.PositionID))
	}

	position, err := s.backend.GetPosition(ctx, event.PositionID)
	if err != nil {
		return
	}
	if err := s.ExecuteTriggerChain(ctx, position); err != nil {
		s.telemetry.Warn(ctx, "Trigger chain failed",
			telemetry.Hedge.PositionID.String(event.PositionID))
	}
}

// handleTerminalError resuelve un ERROR del terminal contra la ejecución
// en vuelo, si la hay, y lo reporta al pipeline.
func (s *ActionService) handleTerminalError(ctx context.Context, accountID string, event domain.ErrorEvent) {
	s.alertSink(domain.TradeErrorEvent{
		AccountID:  accountID,
		PositionID: event.PositionID,
		Message:    event.Message,
		ErrorCode:  event.ErrorCode,
	})

	if event.PositionID == "" {
		return
	}

	s.pendingMu.Lock()
	exec, ok := s.pending[event.PositionID]
	if ok {
		delete(s.pending, event.PositionID)
	}
	s.pendingMu.Unlock()

	if !ok {
		return
	}

	action, err := s.backend.GetAction(ctx, exec.actionID)
	if err == nil {
		s.fail(ctx, action, domain.NewError(domain.ErrorFromMT4Code(event.ErrorCode), event.Message))
	} else {
		s.claims.ReleaseFailed(exec.actionID)
	}
}

// fail marca una acción como FAILED y libera su claim en modo fallo.
func (s *ActionService) fail(ctx context.Context, action *domain.Action, cause error) {
	defer s.claims.ReleaseFailed(action.ID)

	if _, err := s.backend.UpdateActionStatus(ctx, action.ID,
		domain.ActionStatusExecuting, domain.ActionStatusFailed, s.config.OperatorID); err != nil {
		s.telemetry.Warn(ctx, "Action failure update failed",
			telemetry.Hedge.ActionID.String(action.ID))
	}

	s.metrics.RecordActionExecuted(ctx, 0,
		telemetry.Hedge.ActionID.String(action.ID),
		telemetry.Hedge.Status.String(string(domain.ActionStatusFailed)))
	s.telemetry.Error(ctx, "Action failed", cause,
		telemetry.ActionAttributes(action.ID, action.AccountID, string(domain.ActionStatusFailed))...)
}

// watchLoop consume la suscripción de acciones del backend. Solo interesan
// las acciones EXECUTING de este operador; el claim local absorbe el
// solapamiento con el reconciler y con los disparos directos.
func (s *ActionService) watchLoop() {
	defer s.wg.Done()

	changes := s.backend.WatchActions(s.ctx)
	for change := range changes {
		if change.Deleted || change.Action == nil {
			continue
		}
		if change.Action.Status != domain.ActionStatusExecuting || change.Action.OwnerID != s.config.OperatorID {
			continue
		}
		if err := s.execute(s.ctx, change.Action); err != nil {
			s.telemetry.Warn(s.ctx, "Watched action execution failed",
				telemetry.Hedge.ActionID.String(change.Action.ID))
		}
	}
}

// reconcileLoop barre periódicamente las acciones EXECUTING propias que el
// watch pudo haber perdido (reconexión del watch, reinicio del proceso).
func (s *ActionService) reconcileLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			actions, err := s.backend.ListActions(s.ctx)
			if err != nil {
				s.telemetry.Warn(s.ctx, "Action reconcile list failed")
				continue
			}
			for _, action := range actions {
				if action.Status != domain.ActionStatusExecuting || action.OwnerID != s.config.OperatorID {
					continue
				}
				_ = s.execute(s.ctx, action)
			}
		}
	}
}

// staleSweepLoop libera claims abandonados y lo advierte. Nunca re-ejecuta
// automáticamente: la acción queda en su estado del backend para el
// reconciler o intervención manual.
func (s *ActionService) staleSweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.StaleClaimTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.claims.ForceReleaseStale() {
				s.telemetry.Warn(s.ctx, "Stale claim force released",
					telemetry.Hedge.ActionID.String(id))
				s.alertSink(domain.SystemErrorEvent{
					Component: "actions",
					Err:       domain.NewError(domain.ErrStaleClaim, fmt.Sprintf("claim on action %s went stale", id)),
				})
			}
		}
	}
}

// ClaimStats expone las estadísticas de la tabla de claims.
func (s *ActionService) ClaimStats() ClaimStats {
	return s.claims.Stats()
}
