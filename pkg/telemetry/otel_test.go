package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupInstallsProviders(t *testing.T) {
	tel, err := Setup("hedged-test")
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("hedge-cycle"))
	assert.NotNil(t, GetMeter("hedge-cycle"))

	// Setup registers the hedging instruments: recording through the
	// holder must not panic once providers are installed.
	GetGlobalMetrics().AddBucketsComputed(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
}

func TestServiceResourceCarriesVersion(t *testing.T) {
	res, err := newResource("hedged-test")
	require.NoError(t, err)

	attrs := res.Attributes()
	var name, version string
	for _, kv := range attrs {
		switch string(kv.Key) {
		case "service.name":
			name = kv.Value.AsString()
		case "service.version":
			version = kv.Value.AsString()
		}
	}
	assert.Equal(t, "hedged-test", name)
	assert.Equal(t, serviceVersion, version)
}
