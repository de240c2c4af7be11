package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/ernie/teamwatch/internal/config"
)

const meterName = "teamwatch"

// AppMetrics holds the tracker's counters
type AppMetrics struct {
	transitions metric.Int64Counter
	repairs     metric.Int64Counter
	retries     metric.Int64Counter
	retention   metric.Int64Counter
	feed        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

// InitMetrics installs the global meter provider. With export disabled the
// provider has no reader and counters go nowhere; otherwise they are pushed
// to an OTLP gRPC collector every export interval. The caller shuts the
// provider down on exit.
func InitMetrics(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		if err := UseMeterProvider(mp); err != nil {
			return nil, err
		}
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	if err := UseMeterProvider(mp); err != nil {
		return nil, err
	}

	logger.Info("otel metrics initialized", "endpoint", cfg.Endpoint, "interval", cfg.ExportInterval)
	return mp, nil
}

// UseMeterProvider creates the counters on mp and makes them current
func UseMeterProvider(mp metric.MeterProvider) error {
	meter := mp.Meter(meterName)
	transitions, err := meter.Int64Counter("teamwatch.session.transitions")
	if err != nil {
		return err
	}
	repairs, err := meter.Int64Counter("teamwatch.session.repairs")
	if err != nil {
		return err
	}
	retries, err := meter.Int64Counter("teamwatch.store.retries")
	if err != nil {
		return err
	}
	retention, err := meter.Int64Counter("teamwatch.retention.deleted")
	if err != nil {
		return err
	}
	feed, err := meter.Int64Counter("teamwatch.feed.messages")
	if err != nil {
		return err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		transitions: transitions,
		repairs:     repairs,
		retries:     retries,
		retention:   retention,
		feed:        feed,
	}
	metricsMu.Unlock()
	return nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

// RecordTransition counts a session open, close or resume
func RecordTransition(ctx context.Context, tenant, kind, reason string) {
	m := current()
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("kind", kind),
		attribute.String("reason", reason),
	))
}

// RecordRepair counts a corrective action taken on the session ledger
func RecordRepair(ctx context.Context, tenant, kind string, n int64) {
	m := current()
	if m == nil || n <= 0 {
		return
	}
	m.repairs.Add(ctx, n, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("kind", kind),
	))
}

// RecordStoreRetry counts a retried storage call and whether the retry helped
func RecordStoreRetry(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRetention counts rows removed by a retention step
func RecordRetention(ctx context.Context, step string, n int64) {
	m := current()
	if m == nil || n <= 0 {
		return
	}
	m.retention.Add(ctx, n, metric.WithAttributes(attribute.String("step", step)))
}

// RecordFeedMessage counts a message received from the feed
func RecordFeedMessage(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.feed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
