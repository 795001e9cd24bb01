package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetupWithoutExporters(t *testing.T) {
	tel, err := Setup(context.Background(), "test:finscrape", Config{})
	require.NoError(t, err)
	require.Nil(t, tel.TracerProvider)
	require.Nil(t, tel.MeterProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestOtlpConnEnabled(t *testing.T) {
	require.False(t, OtlpConnConfig{}.Enabled())
	require.True(t, OtlpConnConfig{HttpEndpoint: "http://localhost:4318"}.Enabled())
	require.True(t, OtlpConnConfig{GrpcEndpoint: "http://localhost:4317"}.Enabled())
}

func TestSamplePerfStats(t *testing.T) {
	err := SamplePerfStats(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
}
