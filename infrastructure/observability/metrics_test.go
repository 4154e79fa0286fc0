package observability

import (
	"context"
	"testing"
	"time"

	"rewarder/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsProvider_NilIsNoop(t *testing.T) {
	var mp *MetricsProvider
	ctx := context.Background()

	assert.NotPanics(t, func() {
		mp.RecordLedgerTransaction(ctx, "budget", "payout", 500)
		mp.RecordLedgerRejection(ctx, "budget", "insufficient_funds")
		mp.RecordSettlement(ctx, "completed")
		mp.RecordDispatchItem(ctx, "notification", DispatchOutcomeSent)
		mp.RecordDispatchPass(ctx, 3, time.Second)
		mp.RecordNATSMessagePublished("points_earned")
		mp.RecordHTTPRequest(ctx, "/healthz", 200, time.Millisecond)
	})
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestMetricsProvider_ExporterNoneRecordsNothing(t *testing.T) {
	ctx := context.Background()
	mp := NewMetricsProvider(&config.Config{
		OTelEnabled:      true,
		OTelExporterType: "none",
	})

	require.NoError(t, mp.Initialize(ctx))
	assert.False(t, mp.isEnabled())
	assert.NotPanics(t, func() {
		mp.RecordSettlement(ctx, "completed")
	})
}

func TestMetricsProvider_DisabledSkipsExporter(t *testing.T) {
	mp := NewMetricsProvider(&config.Config{OTelEnabled: false})

	require.NoError(t, mp.Initialize(context.Background()))
	assert.False(t, mp.isEnabled())
}

func TestMetricsProvider_UnknownExporter(t *testing.T) {
	mp := NewMetricsProvider(&config.Config{
		OTelEnabled:      true,
		OTelExporterType: "carrier-pigeon",
	})

	err := mp.Initialize(context.Background())
	assert.ErrorContains(t, err, "unknown exporter type")
}

func TestMetricsProvider_ConsoleExporter(t *testing.T) {
	ctx := context.Background()
	mp := NewMetricsProvider(&config.Config{
		OTelEnabled:              true,
		OTelExporterType:         "console",
		OTelServiceName:          "rewarder-test",
		OTelExportIntervalMillis: 60000,
		Environment:              "test",
	})

	require.NoError(t, mp.Initialize(ctx))
	assert.True(t, mp.isEnabled())
	mp.RecordLedgerTransaction(ctx, "points", "earn", 500)
	mp.RecordDispatchPass(ctx, 2, 10*time.Millisecond)
	require.NoError(t, mp.Shutdown(ctx))
}
