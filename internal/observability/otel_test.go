package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blitzorm/internal/dbexec"
)

func TestInitMeterProvider(t *testing.T) {
	mp, err := InitMeterProvider(Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, mp)
	require.NotNil(t, mp.provider)
	require.NotNil(t, mp.exporter)
	assert.NotNil(t, mp.Handler())

	// Statement metrics register against the provider just installed.
	metrics, err := dbexec.InitQueryMetrics()
	require.NoError(t, err)
	require.NotNil(t, metrics)

	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMeterProviderShutdownNil(t *testing.T) {
	var mp *MeterProvider
	assert.NoError(t, mp.Shutdown(context.Background()))
}
