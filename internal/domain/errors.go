package domain

import "fmt"

// ErrorCode representa un código de error del dominio del operador.
type ErrorCode string

// Códigos de error estándar
const (
	// ErrNoError indica éxito (sin error)
	ErrNoError ErrorCode = "NO_ERROR"

	// Errores de validación
	ErrInvalidAction        ErrorCode = "INVALID_ACTION"
	ErrInvalidStatus        ErrorCode = "INVALID_STATUS"
	ErrInvalidVolume        ErrorCode = "INVALID_VOLUME"
	ErrInvalidSymbol        ErrorCode = "INVALID_SYMBOL"
	ErrMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"

	// Errores de coordinación
	ErrAlreadyProcessing ErrorCode = "ALREADY_PROCESSING"
	ErrNotOwner          ErrorCode = "NOT_OWNER"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrStaleClaim        ErrorCode = "STALE_CLAIM"

	// Errores de conexión/terminal
	ErrConnectionLost  ErrorCode = "CONNECTION_LOST"
	ErrNotAssigned     ErrorCode = "NOT_ASSIGNED"
	ErrTerminalReject  ErrorCode = "TERMINAL_REJECT"
	ErrMarketClosed    ErrorCode = "MARKET_CLOSED"
	ErrNoMoney         ErrorCode = "NO_MONEY"
	ErrPriceChanged    ErrorCode = "PRICE_CHANGED"
	ErrOffQuotes       ErrorCode = "OFF_QUOTES"
	ErrBrokerBusy      ErrorCode = "BROKER_BUSY"
	ErrRequote         ErrorCode = "REQUOTE"
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrTradeDisabled   ErrorCode = "TRADE_DISABLED"

	// Errores de sistema
	ErrUnknown ErrorCode = "UNKNOWN"
	ErrStorage ErrorCode = "STORAGE"
)

// OperatorError representa un error del dominio con contexto.
type OperatorError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implementa la interfaz error.
func (e *OperatorError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implementa la interfaz errors.Unwrap.
func (e *OperatorError) Unwrap() error {
	return e.Wrapped
}

// WithDetail agrega un detalle al error.
func (e *OperatorError) WithDetail(key string, value interface{}) *OperatorError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError crea un nuevo OperatorError.
//
// Example:
//
//	err := domain.NewError(domain.ErrNotAssigned, "account 12345 not assigned")
func NewError(code ErrorCode, message string) *OperatorError {
	return &OperatorError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError envuelve un error existente con contexto del operador.
//
// Example:
//
//	err := domain.WrapError(domain.ErrConnectionLost, "websocket write failed", originalErr)
func WrapError(code ErrorCode, message string, wrapped error) *OperatorError {
	return &OperatorError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: wrapped,
	}
}

// IsRetryable indica si un error es retriable (puede reintentarse).
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrBrokerBusy, ErrRequote, ErrTimeout, ErrTooManyRequests, ErrOffQuotes:
		return true
	default:
		return false
	}
}

// ErrorFromMT4Code convierte un código de error MT4 a ErrorCode.
//
// Códigos MT4 comunes:
//   - 129: ERR_INVALID_PRICE
//   - 132: ERR_MARKET_CLOSED
//   - 133: ERR_TRADE_DISABLED
//   - 134: ERR_NOT_ENOUGH_MONEY
//   - 135: ERR_PRICE_CHANGED
//   - 136: ERR_OFF_QUOTES
//   - 137: ERR_BROKER_BUSY
//   - 138: ERR_REQUOTE
//   - 141: ERR_TOO_MANY_REQUESTS
func ErrorFromMT4Code(mt4Code int) ErrorCode {
	switch mt4Code {
	case 0:
		return ErrNoError
	case 131:
		return ErrInvalidVolume
	case 132:
		return ErrMarketClosed
	case 133:
		return ErrTradeDisabled
	case 134:
		return ErrNoMoney
	case 135:
		return ErrPriceChanged
	case 136:
		return ErrOffQuotes
	case 137:
		return ErrBrokerBusy
	case 138:
		return ErrRequote
	case 141:
		return ErrTooManyRequests
	case 4108: // ERR_UNKNOWN_TICKET (no estándar pero común)
		return ErrNotFound
	default:
		return ErrUnknown
	}
}
