package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HedgeMetrics bundle de métricas para el operador Hedge.
//
// # Métricas de Conteo
//
//   - hedge.action.claimed: Acciones reclamadas (exactamente un ejecutor)
//   - hedge.action.executed: Acciones completadas por resultado
//   - hedge.action.claim_conflict: Intentos de claim sobre acción ya tomada
//   - hedge.connection.events: Eventos de conexión por tipo (connected/evicted/reconnect)
//   - hedge.alert.processed: Alertas procesadas por tipo y severidad
//   - hedge.alert.deduped: Alertas suprimidas por deduplicación
//   - hedge.compress.messages: Mensajes por algoritmo de envelope
//
// # Métricas de Distribución
//
//   - hedge.action.latency: Latencia de ejecución de acciones (ms)
//   - hedge.connection.latency: Latencia de heartbeat por cuenta (ms)
//   - hedge.compress.ratio: Ratio de compresión por mensaje
type HedgeMetrics struct {
	// Counters
	ActionClaimed       metric.Int64Counter
	ActionExecuted      metric.Int64Counter
	ActionClaimConflict metric.Int64Counter
	ConnectionEvents    metric.Int64Counter
	AlertProcessed      metric.Int64Counter
	AlertDeduped        metric.Int64Counter
	CompressMessages    metric.Int64Counter

	// Histograms
	ActionLatency     metric.Float64Histogram
	ConnectionLatency metric.Float64Histogram
	CompressRatio     metric.Float64Histogram
}

func newHedgeMetrics(meter metric.Meter) (*HedgeMetrics, error) {
	m := &HedgeMetrics{}
	var err error

	if m.ActionClaimed, err = meter.Int64Counter(
		"hedge.action.claimed",
		metric.WithDescription("Acciones reclamadas para ejecución"),
		metric.WithUnit("{action}"),
	); err != nil {
		return nil, err
	}

	if m.ActionExecuted, err = meter.Int64Counter(
		"hedge.action.executed",
		metric.WithDescription("Acciones completadas, etiquetadas por resultado"),
		metric.WithUnit("{action}"),
	); err != nil {
		return nil, err
	}

	if m.ActionClaimConflict, err = meter.Int64Counter(
		"hedge.action.claim_conflict",
		metric.WithDescription("Intentos de claim sobre acciones ya en proceso"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.ConnectionEvents, err = meter.Int64Counter(
		"hedge.connection.events",
		metric.WithDescription("Eventos del ciclo de vida de conexiones de terminal"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}

	if m.AlertProcessed, err = meter.Int64Counter(
		"hedge.alert.processed",
		metric.WithDescription("Alertas procesadas por el pipeline"),
		metric.WithUnit("{alert}"),
	); err != nil {
		return nil, err
	}

	if m.AlertDeduped, err = meter.Int64Counter(
		"hedge.alert.deduped",
		metric.WithDescription("Alertas suprimidas por la ventana de deduplicación"),
		metric.WithUnit("{alert}"),
	); err != nil {
		return nil, err
	}

	if m.CompressMessages, err = meter.Int64Counter(
		"hedge.compress.messages",
		metric.WithDescription("Mensajes del wire por algoritmo de envelope"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, err
	}

	if m.ActionLatency, err = meter.Float64Histogram(
		"hedge.action.latency",
		metric.WithDescription("Latencia de ejecución de acciones"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.ConnectionLatency, err = meter.Float64Histogram(
		"hedge.connection.latency",
		metric.WithDescription("Latencia de heartbeat por cuenta"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.CompressRatio, err = meter.Float64Histogram(
		"hedge.compress.ratio",
		metric.WithDescription("Ratio de compresión por mensaje"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordActionClaimed registra el claim exitoso de una acción.
func (m *HedgeMetrics) RecordActionClaimed(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ActionClaimed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordActionExecuted registra la finalización de una acción.
func (m *HedgeMetrics) RecordActionExecuted(ctx context.Context, latencyMs float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ActionExecuted.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ActionLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}

// RecordClaimConflict registra un claim rechazado por exclusividad.
func (m *HedgeMetrics) RecordClaimConflict(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ActionClaimConflict.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConnectionEvent registra un evento del ciclo de vida de una conexión.
func (m *HedgeMetrics) RecordConnectionEvent(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ConnectionEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConnectionLatency registra la latencia de heartbeat de una cuenta.
func (m *HedgeMetrics) RecordConnectionLatency(ctx context.Context, latencyMs float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ConnectionLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}

// RecordAlertProcessed registra una alerta que pasó el pipeline completo.
func (m *HedgeMetrics) RecordAlertProcessed(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.AlertProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAlertDeduped registra una alerta suprimida por deduplicación.
func (m *HedgeMetrics) RecordAlertDeduped(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.AlertDeduped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCompressedMessage registra un mensaje del wire y su ratio.
func (m *HedgeMetrics) RecordCompressedMessage(ctx context.Context, ratio float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.CompressMessages.Add(ctx, 1, metric.WithAttributes(attrs...))
	if ratio > 0 {
		m.CompressRatio.Record(ctx, ratio, metric.WithAttributes(attrs...))
	}
}
