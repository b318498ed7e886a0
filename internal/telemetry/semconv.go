package telemetry

import "go.opentelemetry.io/otel/attribute"

// Hedge contiene atributos semánticos específicos del operador Hedge.
//
// # Identificadores
//
//   - hedge.action_id: UUID de la acción (UUIDv7)
//   - hedge.position_id: UUID de la posición
//   - hedge.account_id: ID de la cuenta MT4/MT5
//   - hedge.operator_id: ID del proceso operador
//
// # Trading
//
//   - hedge.symbol: Símbolo del instrumento
//   - hedge.order_side: Lado de la orden (BUY/SELL)
//   - hedge.volume: Volumen en lotes
//   - hedge.ticket: Ticket MT4/MT5
//
// # Estado
//
//   - hedge.status: Estado de la acción o posición
//   - hedge.error_code: Código de error si aplica
//   - hedge.alert_type: Tipo de alerta procesada
//   - hedge.severity: Severidad de la alerta
//
// # Uso
//
//	client.Info(ctx, "Action claimed",
//	    telemetry.Hedge.ActionID.String(actionID),
//	    telemetry.Hedge.AccountID.String(accountID),
//	)
var Hedge = hedgeAttributes{
	// Identificadores
	ActionID:   attribute.Key("hedge.action_id"),
	PositionID: attribute.Key("hedge.position_id"),
	AccountID:  attribute.Key("hedge.account_id"),
	OperatorID: attribute.Key("hedge.operator_id"),

	// Trading
	Symbol:    attribute.Key("hedge.symbol"),
	OrderSide: attribute.Key("hedge.order_side"),
	Volume:    attribute.Key("hedge.volume"),
	Ticket:    attribute.Key("hedge.ticket"),

	// Estado
	Status:    attribute.Key("hedge.status"),
	ErrorCode: attribute.Key("hedge.error_code"),
	AlertType: attribute.Key("hedge.alert_type"),
	Severity:  attribute.Key("hedge.severity"),

	// Adicionales
	Component: attribute.Key("hedge.component"),
	Reason:    attribute.Key("hedge.reason"),
	Algorithm: attribute.Key("hedge.algorithm"),
	Quality:   attribute.Key("hedge.quality"),
	LatencyMs: attribute.Key("hedge.latency_ms"),
}

type hedgeAttributes struct {
	// Identificadores
	ActionID   attribute.Key // UUID de la acción (UUIDv7)
	PositionID attribute.Key // UUID de la posición
	AccountID  attribute.Key // ID de cuenta MT4/MT5
	OperatorID attribute.Key // ID del proceso operador

	// Trading
	Symbol    attribute.Key // Símbolo del instrumento
	OrderSide attribute.Key // Lado de la orden (BUY/SELL)
	Volume    attribute.Key // Volumen en lotes
	Ticket    attribute.Key // Ticket MT4/MT5

	// Estado
	Status    attribute.Key // Estado de la acción o posición
	ErrorCode attribute.Key // Código de error
	AlertType attribute.Key // Tipo de alerta
	Severity  attribute.Key // Severidad de la alerta

	// Adicionales
	Component attribute.Key // Componente (actions/connections/alerts/compress)
	Reason    attribute.Key // Razón asociada a una decisión
	Algorithm attribute.Key // Algoritmo de compresión
	Quality   attribute.Key // Calidad de conexión (EXCELLENT/GOOD/POOR)
	LatencyMs attribute.Key // Latencia en milisegundos
}

// ActionAttributes crea un conjunto de atributos para una acción.
//
// Example:
//
//	attrs := telemetry.ActionAttributes(actionID, accountID, "EXECUTING")
//	client.Info(ctx, "Action dispatched", attrs...)
func ActionAttributes(actionID, accountID, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		Hedge.ActionID.String(actionID),
		Hedge.AccountID.String(accountID),
		Hedge.Status.String(status),
	}
}

// AlertAttributes crea atributos para una alerta procesada.
func AlertAttributes(alertType, severity, accountID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		Hedge.AlertType.String(alertType),
		Hedge.Severity.String(severity),
		Hedge.AccountID.String(accountID),
	}
}
