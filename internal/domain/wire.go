package domain

import (
	"fmt"

	"github.com/xKoRx/hedge/internal/utils"
)

// Tipos de mensaje del protocolo wire operador ↔ terminal.
//
// Salientes (operador → terminal): OPEN, CLOSE, AUTH, HEARTBEAT.
// Entrantes (terminal → operador): OPENED, CLOSED, STOPPED, ERROR,
// más AUTH_SUCCESS, HEARTBEAT_ACK, PRICE e INFO que se aceptan y se
// descartan tras actualizar estadísticas.
const (
	TypeOpen         = "OPEN"
	TypeClose        = "CLOSE"
	TypeAuth         = "AUTH"
	TypeHeartbeat    = "HEARTBEAT"
	TypeOpened       = "OPENED"
	TypeClosed       = "CLOSED"
	TypeStopped      = "STOPPED"
	TypeError        = "ERROR"
	TypeAuthSuccess  = "AUTH_SUCCESS"
	TypeHeartbeatAck = "HEARTBEAT_ACK"
	TypePrice        = "PRICE"
	TypeInfo         = "INFO"
)

// Resultados reportados por el terminal.
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// CommandMetadata metadatos adjuntos a cada comando saliente.
type CommandMetadata struct {
	ExecutionType string `json:"executionType"`
	TimestampMs   int64  `json:"timestamp"`
}

// OpenCommand comando de apertura de posición.
type OpenCommand struct {
	AccountID  string          `json:"accountId"`
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Volume     float64         `json:"volume"`
	TrailWidth float64         `json:"trailWidth,omitempty"`
	Metadata   CommandMetadata `json:"metadata"`
}

// CloseCommand comando de cierre de posición.
type CloseCommand struct {
	AccountID  string          `json:"accountId"`
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Volume     float64         `json:"volume"`
	Metadata   CommandMetadata `json:"metadata"`
}

// AuthFrame handshake de autenticación enviado al conectar.
type AuthFrame struct {
	Token  string `json:"token"`
	EAInfo EAInfo `json:"eaInfo"`
}

// EAInfo identificación del lado operador en el handshake AUTH.
type EAInfo struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Account  string `json:"account"`
}

// OpenedEvent confirmación de apertura del terminal.
type OpenedEvent struct {
	AccountID  string
	PositionID string
	Ticket     int64
	Price      float64
	TimeMs     int64
	Status     string // SUCCESS | FAILED
}

// Success indica si la apertura fue confirmada.
func (e OpenedEvent) Success() bool { return e.Status == ResultSuccess }

// ClosedEvent confirmación de cierre del terminal.
type ClosedEvent struct {
	AccountID  string
	PositionID string
	Ticket     int64
	Price      float64
	Profit     float64
	TimeMs     int64
	Status     string
}

// Success indica si el cierre fue confirmado.
func (e ClosedEvent) Success() bool { return e.Status == ResultSuccess }

// StoppedEvent cierre forzoso reportado por el terminal (losscut / trail).
type StoppedEvent struct {
	AccountID  string
	PositionID string
	Ticket     int64
	Price      float64
	TimeMs     int64
	Reason     string // STOP_LOSS | MARGIN_CALL
}

// ErrorEvent error reportado por el terminal.
type ErrorEvent struct {
	AccountID  string
	PositionID string
	Message    string
	ErrorCode  int
}

// OpenCommandToJSON transforma un OpenCommand al map JSON del wire.
func OpenCommandToJSON(cmd *OpenCommand) map[string]interface{} {
	return map[string]interface{}{
		"type":       TypeOpen,
		"accountId":  cmd.AccountID,
		"positionId": cmd.PositionID,
		"symbol":     cmd.Symbol,
		"side":       string(cmd.Side),
		"volume":     cmd.Volume,
		"trailWidth": cmd.TrailWidth,
		"metadata": map[string]interface{}{
			"executionType": cmd.Metadata.ExecutionType,
			"timestamp":     cmd.Metadata.TimestampMs,
		},
	}
}

// CloseCommandToJSON transforma un CloseCommand al map JSON del wire.
func CloseCommandToJSON(cmd *CloseCommand) map[string]interface{} {
	return map[string]interface{}{
		"type":       TypeClose,
		"accountId":  cmd.AccountID,
		"positionId": cmd.PositionID,
		"symbol":     cmd.Symbol,
		"side":       string(cmd.Side),
		"volume":     cmd.Volume,
		"metadata": map[string]interface{}{
			"executionType": cmd.Metadata.ExecutionType,
			"timestamp":     cmd.Metadata.TimestampMs,
		},
	}
}

// AuthFrameToJSON transforma el handshake AUTH al map JSON del wire.
func AuthFrameToJSON(f *AuthFrame) map[string]interface{} {
	return map[string]interface{}{
		"type":  TypeAuth,
		"token": f.Token,
		"eaInfo": map[string]interface{}{
			"version":  f.EAInfo.Version,
			"platform": f.EAInfo.Platform,
			"account":  f.EAInfo.Account,
		},
	}
}

// HeartbeatToJSON construye un frame HEARTBEAT.
func HeartbeatToJSON(nowMs int64) map[string]interface{} {
	return map[string]interface{}{
		"type":      TypeHeartbeat,
		"timestamp": nowMs,
	}
}

// ParseTerminalMessage parsea un frame entrante del terminal a su evento
// tipado. Retorna nil (sin error) para tipos reconocidos pero sin payload
// de interés (AUTH_SUCCESS, HEARTBEAT_ACK, PRICE, INFO).
func ParseTerminalMessage(msg map[string]interface{}) (interface{}, error) {
	msgType := utils.ExtractString(msg, "type")

	switch msgType {
	case TypeOpened:
		return OpenedEvent{
			AccountID:  utils.ExtractString(msg, "accountId"),
			PositionID: utils.ExtractString(msg, "positionId"),
			Ticket:     utils.ExtractInt64(msg, "ticket"),
			Price:      utils.ExtractFloat64(msg, "price"),
			TimeMs:     utils.ExtractInt64(msg, "time"),
			Status:     utils.ExtractString(msg, "status"),
		}, nil

	case TypeClosed:
		return ClosedEvent{
			AccountID:  utils.ExtractString(msg, "accountId"),
			PositionID: utils.ExtractString(msg, "positionId"),
			Ticket:     utils.ExtractInt64(msg, "ticket"),
			Price:      utils.ExtractFloat64(msg, "price"),
			Profit:     utils.ExtractFloat64(msg, "profit"),
			TimeMs:     utils.ExtractInt64(msg, "time"),
			Status:     utils.ExtractString(msg, "status"),
		}, nil

	case TypeStopped:
		return StoppedEvent{
			AccountID:  utils.ExtractString(msg, "accountId"),
			PositionID: utils.ExtractString(msg, "positionId"),
			Ticket:     utils.ExtractInt64(msg, "ticket"),
			Price:      utils.ExtractFloat64(msg, "price"),
			TimeMs:     utils.ExtractInt64(msg, "time"),
			Reason:     utils.ExtractString(msg, "reason"),
		}, nil

	case TypeError:
		return ErrorEvent{
			AccountID:  utils.ExtractString(msg, "accountId"),
			PositionID: utils.ExtractString(msg, "positionId"),
			Message:    utils.ExtractString(msg, "message"),
			ErrorCode:  int(utils.ExtractInt64(msg, "errorCode")),
		}, nil

	case TypeAuthSuccess, TypeHeartbeatAck, TypePrice, TypeInfo, TypeHeartbeat:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown terminal message type: %q", msgType)
	}
}
