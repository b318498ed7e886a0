package internal

import (
	"context"
	"fmt"

	"github.com/xKoRx/hedge/internal/telemetry"
)

// initTelemetry inicializa el cliente de telemetría.
//
// Sin endpoint OTLP configurado se deshabilitan trazas y métricas y los
// logs van a stdout.
func initTelemetry(ctx context.Context, config *Config) (*telemetry.Client, error) {
	opts := []telemetry.Option{
		telemetry.WithVersion(config.ServiceVersion),
		telemetry.WithCommonAttributes(
			telemetry.Hedge.OperatorID.String(config.OperatorID),
		),
	}

	if config.OTLPEndpoint != "" {
		opts = append(opts, telemetry.WithOTLPEndpoint(config.OTLPEndpoint))
	} else {
		opts = append(opts, telemetry.WithTracesDisabled(), telemetry.WithMetricsDisabled())
	}

	client, err := telemetry.New(
		ctx,
		config.ServiceName,
		config.Environment,
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	return client, nil
}
