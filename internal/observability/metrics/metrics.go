package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	executions       metric.Int64Counter
	tokensCharged    metric.Int64Counter
	usageLogFailures metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tokengate"
	}
	meter := provider.Meter(name)

	executions, err := meter.Int64Counter("tokengate_executions_total")
	if err != nil {
		return nil, err
	}
	tokensCharged, err := meter.Int64Counter("tokengate_tokens_charged_total")
	if err != nil {
		return nil, err
	}
	usageLogFailures, err := meter.Int64Counter("tokengate_usage_log_failures_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("tokengate_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("tokengate_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		executions:       executions,
		tokensCharged:    tokensCharged,
		usageLogFailures: usageLogFailures,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordExecution increments execution counts per operation and outcome.
func (m *Metrics) RecordExecution(ctx context.Context, operationCode, outcome string) {
	if m == nil {
		return
	}
	m.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_code", strings.TrimSpace(operationCode)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordTokensCharged adds the tokens debited for an operation.
func (m *Metrics) RecordTokensCharged(ctx context.Context, operationCode string, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokensCharged.Add(ctx, tokens, metric.WithAttributes(
		attribute.String("operation_code", strings.TrimSpace(operationCode)),
	))
}

// RecordUsageLogFailure increments suppressed usage-log write failures.
func (m *Metrics) RecordUsageLogFailure(ctx context.Context, operationCode string) {
	if m == nil {
		return
	}
	m.usageLogFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_code", strings.TrimSpace(operationCode)),
	))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
