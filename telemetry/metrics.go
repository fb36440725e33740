// Package telemetry wires OpenTelemetry metrics for the wallpaper daemon.
// Metrics can be exported over OTLP gRPC, scraped from a Prometheus
// endpoint, or both. Recording helpers are nil-safe so instrumented code
// works without initialization (tests, library use).
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/freshtab/freshtab"
)

// Config configures the metrics system.
type Config struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	wallpaperRequestsTotal metric.Int64Counter

	providerFetchTotal      metric.Int64Counter
	providerFetchDuration   metric.Float64Histogram
	providerFetchBytesTotal metric.Int64Counter

	sweepDeletedTotal metric.Int64Counter
	sweepDuration     metric.Float64Histogram

	customUploadsTotal metric.Int64Counter
	activeHandles      metric.Int64Gauge

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg Config) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "freshtab"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// With no exporters configured, use a no-op periodic reader so
	// instrument creation and recording still work.
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	wallpaperRequestsTotal, err := meter.Int64Counter(
		"freshtab_wallpaper_requests_total",
		metric.WithDescription("Total wallpaper lookups by resolution and cache result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	providerFetchTotal, err := meter.Int64Counter(
		"freshtab_provider_fetch_total",
		metric.WithDescription("Total remote provider fetch attempts"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	providerFetchDuration, err := meter.Float64Histogram(
		"freshtab_provider_fetch_duration_seconds",
		metric.WithDescription("Remote provider fetch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30),
	)
	if err != nil {
		return err
	}

	providerFetchBytesTotal, err := meter.Int64Counter(
		"freshtab_provider_fetch_bytes_total",
		metric.WithDescription("Total bytes downloaded from remote providers"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	sweepDeletedTotal, err := meter.Int64Counter(
		"freshtab_sweep_deleted_total",
		metric.WithDescription("Total cache entries deleted by maintenance sweeps"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	sweepDuration, err := meter.Float64Histogram(
		"freshtab_sweep_duration_seconds",
		metric.WithDescription("Duration of maintenance sweep runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}

	customUploadsTotal, err := meter.Int64Counter(
		"freshtab_custom_uploads_total",
		metric.WithDescription("Total custom wallpapers saved, by source"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return err
	}

	activeHandles, err := meter.Int64Gauge(
		"freshtab_active_blob_handles",
		metric.WithDescription("Blob handles currently held in memory"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		wallpaperRequestsTotal:  wallpaperRequestsTotal,
		providerFetchTotal:      providerFetchTotal,
		providerFetchDuration:   providerFetchDuration,
		providerFetchBytesTotal: providerFetchBytesTotal,
		sweepDeletedTotal:       sweepDeletedTotal,
		sweepDuration:           sweepDuration,
		customUploadsTotal:      customUploadsTotal,
		activeHandles:           activeHandles,
		meterProvider:           mp,
		promHandler:             promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordWallpaperRequest records a wallpaper lookup and how it was served.
// cacheResult is one of hit_today, hit_yesterday, hit_stale, miss_network,
// fallback, custom.
func RecordWallpaperRequest(ctx context.Context, resolution, cacheResult string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("resolution", resolution),
		attribute.String("cache_result", cacheResult),
	}
	globalMetrics.wallpaperRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderFetch records a remote image download attempt.
func RecordProviderFetch(ctx context.Context, provider string, success bool, bytes int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	outcome := "error"
	if success {
		outcome = "success"
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	}
	globalMetrics.providerFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.providerFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.providerFetchBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordSweep records a maintenance sweep run.
func RecordSweep(ctx context.Context, deleted int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	globalMetrics.sweepDeletedTotal.Add(ctx, int64(deleted))
	globalMetrics.sweepDuration.Record(ctx, duration.Seconds())
}

// RecordCustomUpload records a custom wallpaper save. source is "file" or "url".
func RecordCustomUpload(ctx context.Context, source string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("source", source)}
	globalMetrics.customUploadsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordActiveHandles records the current in-memory blob handle count.
func RecordActiveHandles(ctx context.Context, count int) {
	if globalMetrics == nil {
		return
	}

	globalMetrics.activeHandles.Record(ctx, int64(count))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
