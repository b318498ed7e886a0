package domain

import (
	"fmt"
	"time"
)

// AlertType tipo de alerta procesada.
type AlertType string

const (
	AlertTypeLosscut         AlertType = "losscut"
	AlertTypeMarginCall      AlertType = "margin_call"
	AlertTypeSystemError     AlertType = "system_error"
	AlertTypeTradeError      AlertType = "trade_error"
	AlertTypeConnectionError AlertType = "connection_error"
	AlertTypeDataError       AlertType = "data_error"
)

// Severity severidad de una alerta.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Weight retorna el peso numérico de la severidad (para prioridades).
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}

// AtLeast indica si la severidad alcanza el umbral dado.
func (s Severity) AtLeast(min Severity) bool {
	return s.Weight() >= min.Weight()
}

// LosscutGrade sub-tipo de un evento de losscut reportado por el terminal.
type LosscutGrade string

const (
	LosscutGradeWarning  LosscutGrade = "warning"
	LosscutGradeCritical LosscutGrade = "critical"
	LosscutGradeExecuted LosscutGrade = "executed"
)

// RiskEvent es la union etiquetada de eventos de riesgo/error que ingiere
// el pipeline de alertas. Cada variante carga sus propios campos tipados;
// la clasificación y construcción de mensajes hacen match exhaustivo.
type RiskEvent interface {
	// AlertType retorna el tipo de alerta al que clasifica el evento.
	AlertType() AlertType
	// Severity deriva la severidad del evento.
	Severity() Severity
	// Account retorna la cuenta dueña del evento (vacío si es global).
	Account() string
	// Describe construye el mensaje legible desde los campos estructurados.
	Describe() string
}

// LosscutEvent cierre forzoso reportado por el broker (frame STOPPED).
type LosscutEvent struct {
	AccountID  string
	PositionID string
	Ticket     int64
	Price      float64
	Reason     string // STOP_LOSS | MARGIN_CALL
	Grade      LosscutGrade
}

func (e LosscutEvent) AlertType() AlertType { return AlertTypeLosscut }

// Severity deriva: critical/executed → critical, warning → warning, resto → error.
func (e LosscutEvent) Severity() Severity {
	switch e.Grade {
	case LosscutGradeCritical, LosscutGradeExecuted:
		return SeverityCritical
	case LosscutGradeWarning:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func (e LosscutEvent) Account() string { return e.AccountID }

func (e LosscutEvent) Describe() string {
	return fmt.Sprintf("losscut on position %s (ticket %d, reason %s) at %.5f",
		e.PositionID, e.Ticket, e.Reason, e.Price)
}

// MarginCallEvent aviso de margen del broker.
type MarginCallEvent struct {
	AccountID   string
	MarginLevel float64
}

func (e MarginCallEvent) AlertType() AlertType { return AlertTypeMarginCall }

func (e MarginCallEvent) Severity() Severity {
	if e.MarginLevel > 0 && e.MarginLevel < 100 {
		return SeverityCritical
	}
	return SeverityWarning
}

func (e MarginCallEvent) Account() string { return e.AccountID }

func (e MarginCallEvent) Describe() string {
	return fmt.Sprintf("margin call: margin level %.2f%%", e.MarginLevel)
}

// SystemErrorEvent fallo interno del operador.
type SystemErrorEvent struct {
	Component string
	Err       error
}

func (e SystemErrorEvent) AlertType() AlertType { return AlertTypeSystemError }
func (e SystemErrorEvent) Severity() Severity   { return SeverityError }
func (e SystemErrorEvent) Account() string      { return "" }

func (e SystemErrorEvent) Describe() string {
	return fmt.Sprintf("system error in %s: %v", e.Component, e.Err)
}

// TradeErrorEvent rechazo o fallo de ejecución reportado por el terminal
// (frame ERROR).
type TradeErrorEvent struct {
	AccountID  string
	PositionID string
	Message    string
	ErrorCode  int
}

func (e TradeErrorEvent) AlertType() AlertType { return AlertTypeTradeError }

func (e TradeErrorEvent) Severity() Severity {
	if IsRetryable(ErrorFromMT4Code(e.ErrorCode)) {
		return SeverityWarning
	}
	return SeverityError
}

func (e TradeErrorEvent) Account() string { return e.AccountID }

func (e TradeErrorEvent) Describe() string {
	if e.ErrorCode != 0 {
		return fmt.Sprintf("trade error on position %s: %s (code %d)", e.PositionID, e.Message, e.ErrorCode)
	}
	return fmt.Sprintf("trade error on position %s: %s", e.PositionID, e.Message)
}

// ConnectionErrorEvent fallo de conexión con un terminal.
type ConnectionErrorEvent struct {
	AccountID string
	Err       error
	// Evicted indica que la cuenta fue desasignada por superar el
	// límite de errores consecutivos.
	Evicted bool
}

func (e ConnectionErrorEvent) AlertType() AlertType { return AlertTypeConnectionError }

func (e ConnectionErrorEvent) Severity() Severity {
	if e.Evicted {
		return SeverityCritical
	}
	return SeverityWarning
}

func (e ConnectionErrorEvent) Account() string { return e.AccountID }

func (e ConnectionErrorEvent) Describe() string {
	if e.Evicted {
		return fmt.Sprintf("terminal connection evicted after repeated failures: %v", e.Err)
	}
	return fmt.Sprintf("terminal connection error: %v", e.Err)
}

// DataErrorEvent dato malformado o inconsistente recibido del wire o del store.
type DataErrorEvent struct {
	AccountID string
	Source    string
	Detail    string
}

func (e DataErrorEvent) AlertType() AlertType { return AlertTypeDataError }
func (e DataErrorEvent) Severity() Severity   { return SeverityWarning }
func (e DataErrorEvent) Account() string      { return e.AccountID }

func (e DataErrorEvent) Describe() string {
	return fmt.Sprintf("data error from %s: %s", e.Source, e.Detail)
}

// AlertCategory categoría de clasificación con acciones de seguimiento.
type AlertCategory struct {
	Name       string       `json:"name"`
	Importance int          `json:"importance"`
	FollowUps  []ActionKind `json:"follow_ups,omitempty"`
}

// ProcessedAlert alerta clasificada, deduplicada y persistible.
type ProcessedAlert struct {
	ID         string        `json:"id"`
	Type       AlertType     `json:"type"`
	Severity   Severity      `json:"severity"`
	AccountID  string        `json:"account_id"`
	PositionID string        `json:"position_id,omitempty"`
	Message    string        `json:"message"`
	Timestamp  time.Time     `json:"timestamp"`
	Category   AlertCategory `json:"category"`
	Priority   int           `json:"priority"`
	Rules      []string      `json:"rules,omitempty"`
	Actions    []string      `json:"actions,omitempty"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
}

// dedupePrefixLen longitud del prefijo de mensaje usado en la clave de
// deduplicación.
const dedupePrefixLen = 50

// DedupeKey clave de supresión de duplicados: cuenta + tipo + prefijo del
// mensaje. Dos alertas con la misma clave dentro de la ventana de supresión
// se tratan como un solo evento.
func (a *ProcessedAlert) DedupeKey() string {
	msg := a.Message
	if len(msg) > dedupePrefixLen {
		msg = msg[:dedupePrefixLen]
	}
	return fmt.Sprintf("%s|%s|%s", a.AccountID, a.Type, msg)
}

// Expired indica si la alerta pasó su expiración explícita o la retención.
func (a *ProcessedAlert) Expired(now time.Time, retention time.Duration) bool {
	if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
		return true
	}
	return now.Sub(a.Timestamp) > retention
}
