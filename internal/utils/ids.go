// Package utils provee utilidades comunes para el operador Hedge.
package utils

import (
	"time"

	"github.com/google/uuid"
)

// NewID genera un identificador UUIDv7 (ordenable por tiempo).
//
// UUIDv7 usa los primeros 48 bits para timestamp Unix ms, lo que permite
// ordenar acciones y alertas cronológicamente por su identificador.
//
// Example:
//
//	id := utils.NewID()
//	// => "0192d3a1-5b2c-7def-8a01-3f9c12345678"
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback: UUIDv4 random si la fuente de entropía falla
		return uuid.New().String()
	}
	return id.String()
}

// NowUnixMilli retorna el timestamp actual en milisegundos desde Unix epoch.
//
// Compatible con GetTickCount() de MQL4 para sincronización de timestamps.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// UnixMilliToTime convierte un timestamp Unix en milisegundos a time.Time.
func UnixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// ElapsedMsSince calcula los milisegundos transcurridos desde un time.Time dado.
func ElapsedMsSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
