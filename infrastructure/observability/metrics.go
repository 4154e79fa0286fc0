package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rewarder/config"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// MetricsProvider manages OpenTelemetry metrics for the ledgers and the dispatcher.
// A nil provider, or one whose exporter is disabled, records nothing.
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	exporting     bool
	mu            sync.RWMutex

	// Metric instruments
	ledgerTransactionsCounter metric.Int64Counter
	ledgerAmountCounter       metric.Int64Counter
	ledgerRejectionsCounter   metric.Int64Counter
	settlementsCounter        metric.Int64Counter
	dispatchItemsCounter      metric.Int64Counter
	dispatchClaimedCounter    metric.Int64Counter
	dispatchPassDurationHist  metric.Float64Histogram
	natsPublishedCounter      metric.Int64Counter
	httpRequestsCounter       metric.Int64Counter
	httpRequestDurationHist   metric.Float64Histogram
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// Initialize sets up the OpenTelemetry metrics provider
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		log.Debug("Metrics provider already initialized")
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(mp.config.OTelServiceName),
			attribute.String("environment", mp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch mp.config.OTelExporterType {
	case "console":
		exporter, err = stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create console exporter: %w", err)
		}
		log.Info("Using console metric exporter")

	case "otlp":
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.WithField("endpoint", mp.config.OTelOTLPEndpoint).Info("Using OTLP metric exporter")

	case "none":
		log.Info("Metrics export disabled (exporter_type='none')")
		mp.initialized = true
		return nil

	default:
		return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
			),
		),
	)

	otel.SetMeterProvider(mp.meterProvider)
	mp.meter = mp.meterProvider.Meter("rewarder")

	if err := mp.createInstruments(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	mp.exporting = true
	log.Info("Metrics provider initialized successfully")
	return nil
}

func (mp *MetricsProvider) createInstruments() error {
	var err error

	mp.ledgerTransactionsCounter, err = mp.meter.Int64Counter(
		LedgerTransactionsTotal,
		metric.WithDescription("Total number of committed ledger transactions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger transactions counter: %w", err)
	}

	mp.ledgerAmountCounter, err = mp.meter.Int64Counter(
		LedgerAmountTotal,
		metric.WithDescription("Total amount moved by ledger transactions in minor units"),
		metric.WithUnit("{cent}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger amount counter: %w", err)
	}

	mp.ledgerRejectionsCounter, err = mp.meter.Int64Counter(
		LedgerRejectionsTotal,
		metric.WithDescription("Total number of rejected ledger operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger rejections counter: %w", err)
	}

	mp.settlementsCounter, err = mp.meter.Int64Counter(
		SettlementsTotal,
		metric.WithDescription("Total number of settlement attempts by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create settlements counter: %w", err)
	}

	mp.dispatchItemsCounter, err = mp.meter.Int64Counter(
		DispatchItemsTotal,
		metric.WithDescription("Total number of due items processed by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatch items counter: %w", err)
	}

	mp.dispatchClaimedCounter, err = mp.meter.Int64Counter(
		DispatchClaimedTotal,
		metric.WithDescription("Total number of due items claimed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatch claimed counter: %w", err)
	}

	mp.dispatchPassDurationHist, err = mp.meter.Float64Histogram(
		DispatchPassDuration,
		metric.WithDescription("Duration of dispatcher passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatch pass histogram: %w", err)
	}

	mp.natsPublishedCounter, err = mp.meter.Int64Counter(
		NATSMessagesPublishedTotal,
		metric.WithDescription("Total number of NATS messages published"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS messages published counter: %w", err)
	}

	mp.httpRequestsCounter, err = mp.meter.Int64Counter(
		HTTPRequestsTotal,
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP requests counter: %w", err)
	}

	mp.httpRequestDurationHist, err = mp.meter.Float64Histogram(
		HTTPRequestDuration,
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request duration histogram: %w", err)
	}

	return nil
}

// Shutdown flushes and stops the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp == nil {
		return nil
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}

// RecordLedgerTransaction records a committed ledger mutation
func (mp *MetricsProvider) RecordLedgerTransaction(ctx context.Context, ledger, txType string, amount int64) {
	if !mp.isEnabled() {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(LabelLedger, ledger),
		attribute.String(LabelType, txType),
	)
	mp.ledgerTransactionsCounter.Add(ctx, 1, attrs)
	if amount > 0 {
		mp.ledgerAmountCounter.Add(ctx, amount, attrs)
	}
}

// RecordLedgerRejection records an operation the ledger refused
func (mp *MetricsProvider) RecordLedgerRejection(ctx context.Context, ledger, reason string) {
	if !mp.isEnabled() {
		return
	}

	mp.ledgerRejectionsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(LabelLedger, ledger),
			attribute.String(LabelReason, reason),
		),
	)
}

// RecordSettlement records the outcome of a settlement attempt
func (mp *MetricsProvider) RecordSettlement(ctx context.Context, outcome string) {
	if !mp.isEnabled() {
		return
	}

	mp.settlementsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(LabelOutcome, outcome),
		),
	)
}

// RecordDispatchItem records one processed due item
func (mp *MetricsProvider) RecordDispatchItem(ctx context.Context, kind, outcome string) {
	if !mp.isEnabled() {
		return
	}

	mp.dispatchItemsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(LabelKind, kind),
			attribute.String(LabelOutcome, outcome),
		),
	)
}

// RecordDispatchPass records a dispatcher pass
func (mp *MetricsProvider) RecordDispatchPass(ctx context.Context, claimed int, duration time.Duration) {
	if !mp.isEnabled() {
		return
	}

	mp.dispatchClaimedCounter.Add(ctx, int64(claimed))
	mp.dispatchPassDurationHist.Record(ctx, duration.Seconds())
}

// RecordNATSMessagePublished records a NATS message being published
func (mp *MetricsProvider) RecordNATSMessagePublished(eventType string) {
	if !mp.isEnabled() {
		return
	}

	mp.natsPublishedCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelEventType, eventType),
		),
	)
}

// RecordHTTPRequest records a served HTTP request
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, route string, status int, duration time.Duration) {
	if !mp.isEnabled() {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(LabelRoute, route),
		attribute.Int(LabelStatus, status),
	)
	mp.httpRequestsCounter.Add(ctx, 1, attrs)
	mp.httpRequestDurationHist.Record(ctx, duration.Seconds(), attrs)
}

// isEnabled checks if metrics are initialized and an exporter is attached
func (mp *MetricsProvider) isEnabled() bool {
	if mp == nil {
		return false
	}
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.initialized && mp.exporting
}

// Global metrics provider instance
var (
	globalMetrics *MetricsProvider
	metricsOnce   sync.Once
)

// InitializeGlobalMetrics initializes the global metrics provider
func InitializeGlobalMetrics(ctx context.Context, cfg *config.Config) error {
	var err error
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsProvider(cfg)
		err = globalMetrics.Initialize(ctx)
	})
	return err
}

// GetMetrics returns the global metrics provider. Before initialization it
// returns nil, which is safe to record against.
func GetMetrics() *MetricsProvider {
	return globalMetrics
}

// ShutdownGlobalMetrics shuts down the global metrics provider
func ShutdownGlobalMetrics(ctx context.Context) error {
	return globalMetrics.Shutdown(ctx)
}
