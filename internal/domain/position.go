package domain

import "strings"

// OrderSide lado de una orden.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite retorna el lado contrario (para comandos de cierre).
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PositionStatus estado de una posición en el store del backend.
type PositionStatus string

const (
	PositionStatusPending PositionStatus = "PENDING"
	PositionStatusOpening PositionStatus = "OPENING"
	PositionStatusOpen    PositionStatus = "OPEN"
	PositionStatusClosing PositionStatus = "CLOSING"
	PositionStatusClosed  PositionStatus = "CLOSED"
	PositionStatusStopped PositionStatus = "STOPPED"
)

// Position posición gestionada por el backend de coordinación.
//
// Volume es firmado: positivo = largo (BUY), negativo = corto (SELL).
// El lado nunca se almacena por separado; siempre se deriva del signo
// para evitar divergencia entre posición y dirección del comando.
type Position struct {
	ID         string         `json:"id"`
	AccountID  string         `json:"account_id"`
	Symbol     string         `json:"symbol"`
	Volume     float64        `json:"volume"`
	TrailWidth float64        `json:"trail_width,omitempty"`
	Status     PositionStatus `json:"status"`
	// TriggerActionIDs es la cadena de disparo: lista de IDs de acciones
	// separados por coma, ejecutados en orden cuando la condición de la
	// posición se dispara (trail stop, losscut).
	TriggerActionIDs string `json:"trigger_action_ids,omitempty"`
	Ticket           int64  `json:"ticket,omitempty"`
	CreatedMs        int64  `json:"created_ms"`
	UpdatedMs        int64  `json:"updated_ms"`
}

// Side deriva el lado de apertura desde el volumen firmado.
func (p *Position) Side() OrderSide {
	if p.Volume < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseSide deriva el lado del comando de cierre (opuesto a la apertura).
func (p *Position) CloseSide() OrderSide {
	return p.Side().Opposite()
}

// AbsVolume retorna el volumen sin signo (lotes a enviar al terminal).
func (p *Position) AbsVolume() float64 {
	if p.Volume < 0 {
		return -p.Volume
	}
	return p.Volume
}

// TriggerChain parsea TriggerActionIDs a una lista ordenada de IDs.
//
// Entradas vacías se descartan. Retorna nil si no hay cadena.
func (p *Position) TriggerChain() []string {
	return ParseTriggerChain(p.TriggerActionIDs)
}

// ParseTriggerChain parsea una lista serializada de IDs de acciones.
func ParseTriggerChain(encoded string) []string {
	if encoded == "" {
		return nil
	}
	parts := strings.Split(encoded, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}
