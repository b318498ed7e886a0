package internal

import (
	"context"
	"sync"
	"time"

	"github.com/xKoRx/hedge/internal/domain"
	"github.com/xKoRx/hedge/internal/telemetry"
	"github.com/xKoRx/hedge/internal/utils"
)

// pressureReliefBatch alertas más viejas a desalojar cuando el guardado
// falla por falta de espacio.
const pressureReliefBatch = 100

// AlertPipeline procesa eventos de riesgo: clasifica, deduplica, persiste
// y notifica, en ese orden. La persistencia ocurre antes de notificar para
// que una caída a mitad de camino nunca pierda la alerta.
type AlertPipeline struct {
	config    *Config
	telemetry *telemetry.Client
	metrics   *telemetry.HedgeMetrics
	history   *AlertHistory
	notifiers []Notifier

	// dedupe mapa clave → expiración de la ventana de supresión.
	dedupeMu sync.Mutex
	dedupe   map[string]time.Time

	inbox  chan domain.RiskEvent
	events chan *domain.ProcessedAlert

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAlertPipeline crea el pipeline de alertas.
func NewAlertPipeline(ctx context.Context, config *Config, tel *telemetry.Client, history *AlertHistory) *AlertPipeline {
	pipeCtx, cancel := context.WithCancel(ctx)
	return &AlertPipeline{
		config:    config,
		telemetry: tel,
		metrics:   tel.HedgeMetrics(),
		history:   history,
		notifiers: buildNotifiers(config),
		dedupe:    make(map[string]time.Time),
		inbox:     make(chan domain.RiskEvent, 256),
		events:    make(chan *domain.ProcessedAlert, 64),
		ctx:       pipeCtx,
		cancel:    cancel,
	}
}

// Events retorna el canal de alertas ya procesadas (para cadenas de
// disparo y estado del operador).
func (p *AlertPipeline) Events() <-chan *domain.ProcessedAlert {
	return p.events
}

// Start arranca el worker de procesamiento y el loop de purga.
func (p *AlertPipeline) Start() {
	p.wg.Add(2)
	go p.worker()
	go p.purgeLoop()
}

// Ingest encola un evento de riesgo. No bloquea: si el buffer está lleno
// el evento se descarta con un warning, la ingesta nunca frena al emisor.
func (p *AlertPipeline) Ingest(event domain.RiskEvent) {
	select {
	case p.inbox <- event:
	default:
		p.telemetry.Warn(p.ctx, "Alert inbox full, event dropped",
			telemetry.Hedge.AlertType.String(string(event.AlertType())),
			telemetry.Hedge.AccountID.String(event.Account()))
	}
}

func (p *AlertPipeline) worker() {
	defer p.wg.Done()
	defer close(p.events)

	for {
		select {
		case <-p.ctx.Done():
			return
		case event := <-p.inbox:
			alert := p.classify(event)
			p.ProcessAndNotify(p.ctx, alert)
		}
	}
}

// classify construye la alerta procesada desde el evento de riesgo.
func (p *AlertPipeline) classify(event domain.RiskEvent) *domain.ProcessedAlert {
	severity := event.Severity()

	alert := &domain.ProcessedAlert{
		ID:        utils.NewID(),
		Type:      event.AlertType(),
		Severity:  severity,
		AccountID: event.Account(),
		Message:   event.Describe(),
		Timestamp: time.Now(),
		Priority:  severity.Weight(),
	}

	switch e := event.(type) {
	case domain.LosscutEvent:
		alert.PositionID = e.PositionID
		alert.Category = domain.AlertCategory{
			Name:       "risk",
			Importance: severity.Weight(),
		}
		if e.Grade == domain.LosscutGradeCritical || e.Grade == domain.LosscutGradeExecuted {
			// El losscut crítico dispara el cierre encadenado de las
			// posiciones dependientes.
			alert.Category.FollowUps = []domain.ActionKind{domain.ActionKindClose}
		}
		alert.Rules = []string{"losscut_grade:" + string(e.Grade)}

	case domain.MarginCallEvent:
		alert.Category = domain.AlertCategory{Name: "risk", Importance: severity.Weight()}
		alert.Rules = []string{"margin_level"}

	case domain.TradeErrorEvent:
		alert.PositionID = e.PositionID
		alert.Category = domain.AlertCategory{Name: "execution", Importance: severity.Weight()}
		if code := domain.ErrorFromMT4Code(e.ErrorCode); domain.IsRetryable(code) {
			alert.Rules = []string{"retryable:" + string(code)}
		}

	case domain.ConnectionErrorEvent:
		alert.Category = domain.AlertCategory{Name: "connectivity", Importance: severity.Weight()}
		if e.Evicted {
			alert.Rules = []string{"evicted"}
		}

	case domain.SystemErrorEvent:
		alert.Category = domain.AlertCategory{Name: "system", Importance: severity.Weight()}
		alert.Rules = []string{"component:" + e.Component}

	case domain.DataErrorEvent:
		alert.Category = domain.AlertCategory{Name: "data", Importance: severity.Weight()}
		alert.Rules = []string{"source:" + e.Source}

	default:
		alert.Category = domain.AlertCategory{Name: "other", Importance: severity.Weight()}
	}

	return alert
}

// ProcessAndNotify deduplica, persiste y notifica una alerta.
func (p *AlertPipeline) ProcessAndNotify(ctx context.Context, alert *domain.ProcessedAlert) {
	if p.isDuplicate(alert) {
		p.metrics.RecordAlertDeduped(ctx,
			telemetry.AlertAttributes(string(alert.Type), string(alert.Severity), alert.AccountID)...)
		p.telemetry.Debug(ctx, "Alert suppressed by dedupe window",
			telemetry.Hedge.AlertType.String(string(alert.Type)),
			telemetry.Hedge.AccountID.String(alert.AccountID))
		return
	}

	p.persist(ctx, alert)

	for _, notifier := range p.notifiers {
		if !notifier.Accepts(alert) {
			continue
		}
		if err := notifier.Notify(ctx, alert); err != nil {
			// Best-effort: el fallo de un canal no afecta a los demás.
			p.telemetry.Warn(ctx, "Notifier failed",
				telemetry.Hedge.Component.String(notifier.Name()),
				telemetry.Hedge.AlertType.String(string(alert.Type)))
		}
	}

	p.metrics.RecordAlertProcessed(ctx,
		telemetry.AlertAttributes(string(alert.Type), string(alert.Severity), alert.AccountID)...)

	select {
	case p.events <- alert:
	case <-ctx.Done():
	}
}

// persist guarda la alerta, con desalojo de presión si el guardado falla.
func (p *AlertPipeline) persist(ctx context.Context, alert *domain.ProcessedAlert) {
	if err := p.history.Save(alert); err == nil {
		return
	}

	p.telemetry.Warn(ctx, "Alert save failed, purging oldest entries",
		telemetry.Hedge.AlertType.String(string(alert.Type)))

	if _, err := p.history.PurgeOldest(pressureReliefBatch); err != nil {
		p.telemetry.Error(ctx, "Pressure purge failed", err)
		return
	}
	if err := p.history.Save(alert); err != nil {
		p.telemetry.Error(ctx, "Alert save failed after purge", err,
			telemetry.Hedge.AlertType.String(string(alert.Type)))
	}
}

// isDuplicate registra la clave de la alerta y reporta si ya estaba viva
// dentro de la ventana de supresión.
func (p *AlertPipeline) isDuplicate(alert *domain.ProcessedAlert) bool {
	key := alert.DedupeKey()
	now := time.Now()

	p.dedupeMu.Lock()
	defer p.dedupeMu.Unlock()

	// Limpieza perezosa de entradas vencidas.
	for k, expiry := range p.dedupe {
		if now.After(expiry) {
			delete(p.dedupe, k)
		}
	}

	if expiry, seen := p.dedupe[key]; seen && now.Before(expiry) {
		return true
	}
	p.dedupe[key] = now.Add(p.config.DedupeWindow)
	return false
}

// purgeLoop purga el historial por retención en intervalos regulares.
func (p *AlertPipeline) purgeLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			purged, err := p.history.PurgeExpired(time.Now(), p.config.RetentionPeriod)
			if err != nil {
				p.telemetry.Error(p.ctx, "Retention purge failed", err)
				continue
			}
			if purged > 0 {
				p.telemetry.Info(p.ctx, "Retention purge completed",
					mapToAttrs(map[string]interface{}{"purged": purged})...)
			}
		}
	}
}

// Shutdown detiene el pipeline y espera a que el worker drene.
func (p *AlertPipeline) Shutdown() {
	p.cancel()
	p.wg.Wait()
}
