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
	paymentsInitiated metric.Int64Counter
	paymentsVerified  metric.Int64Counter
	paymentsExpired   metric.Int64Counter
	enrollments       metric.Int64Counter
	gatewayCalls      metric.Int64Counter
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
		name = "academy"
	}
	meter := provider.Meter(name)

	paymentsInitiated, err := meter.Int64Counter("academy_payments_initiated_total")
	if err != nil {
		return nil, err
	}
	paymentsVerified, err := meter.Int64Counter("academy_payments_verified_total")
	if err != nil {
		return nil, err
	}
	paymentsExpired, err := meter.Int64Counter("academy_payments_expired_total")
	if err != nil {
		return nil, err
	}
	enrollments, err := meter.Int64Counter("academy_enrollments_created_total")
	if err != nil {
		return nil, err
	}
	gatewayCalls, err := meter.Int64Counter("academy_gateway_calls_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsInitiated: paymentsInitiated,
		paymentsVerified:  paymentsVerified,
		paymentsExpired:   paymentsExpired,
		enrollments:       enrollments,
		gatewayCalls:      gatewayCalls,
	}, nil
}

// RecordPaymentInitiated increments initiation counts by plan.
func (m *Metrics) RecordPaymentInitiated(ctx context.Context, plan string, reused bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plan", strings.TrimSpace(plan)),
		attribute.Bool("reused", reused),
	)
	m.paymentsInitiated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentVerified increments verification counts by outcome.
func (m *Metrics) RecordPaymentVerified(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.paymentsVerified.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentExpired increments the expiry sweep counter.
func (m *Metrics) RecordPaymentExpired(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.paymentsExpired.Add(ctx, count)
}

// RecordEnrollmentCreated increments enrollment counts.
func (m *Metrics) RecordEnrollmentCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.enrollments.Add(ctx, 1)
}

// RecordGatewayCall increments gateway call counts by operation and outcome.
func (m *Metrics) RecordGatewayCall(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.gatewayCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"plan":        {},
	"outcome":     {},
	"operation":   {},
	"reused":      {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
