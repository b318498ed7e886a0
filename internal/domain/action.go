package domain

// ActionKind tipo de acción de trading.
type ActionKind string

const (
	// ActionKindEntry apertura de posición.
	ActionKindEntry ActionKind = "ENTRY"
	// ActionKindClose cierre de posición.
	ActionKindClose ActionKind = "CLOSE"
)

// IsValid indica si el kind es uno de los reconocidos.
func (k ActionKind) IsValid() bool {
	return k == ActionKindEntry || k == ActionKindClose
}

// ActionStatus estado de una acción.
//
// Transiciones permitidas:
//
//	PENDING → EXECUTING → EXECUTED
//	                    → FAILED
//
// EXECUTED y FAILED son terminales. La fuente original mezclaba mayúsculas
// y minúsculas en estos literales; aquí el casing canónico es UPPER_CASE.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "PENDING"
	ActionStatusExecuting ActionStatus = "EXECUTING"
	ActionStatusExecuted  ActionStatus = "EXECUTED"
	ActionStatusFailed    ActionStatus = "FAILED"
)

// IsTerminal indica si el estado es final.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusExecuted || s == ActionStatusFailed
}

// CanTransitionTo valida una transición de estado.
//
// PENDING → EXECUTING es la única entrada al estado activo;
// EXECUTING → FAILED es el único camino de vuelta desde activo.
func (s ActionStatus) CanTransitionTo(next ActionStatus) bool {
	switch s {
	case ActionStatusPending:
		return next == ActionStatusExecuting
	case ActionStatusExecuting:
		return next == ActionStatusExecuted || next == ActionStatusFailed
	default:
		return false
	}
}

// Action unidad de intención de trading asignada a exactamente un operador.
type Action struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	AccountID  string `json:"account_id"`
	PositionID string `json:"position_id"`
	// TriggerPositionID es la posición cuyo evento originó esta acción
	// (ej: un trail stop o losscut disparado). Vacío si fue creada directa.
	TriggerPositionID string       `json:"trigger_position_id,omitempty"`
	Kind              ActionKind   `json:"kind"`
	Status            ActionStatus `json:"status"`
	CreatedMs         int64        `json:"created_ms"`
	UpdatedMs         int64        `json:"updated_ms"`
}
