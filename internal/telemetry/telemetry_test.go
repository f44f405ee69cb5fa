package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetupDisabled(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.IsType(t, noop.TracerProvider{}, tp)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupHTTP(t *testing.T) {
	ctx := context.Background()
	tp, shutdown, err := Setup(ctx, Config{Endpoint: "localhost:4318", Protocol: "http", Insecure: true})
	require.NoError(t, err)
	require.IsType(t, &sdktrace.TracerProvider{}, tp)

	_, span := tp.Tracer(TracerName).Start(ctx, "probe")
	span.End()

	// nothing is listening; only the provider teardown is under test
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	_ = shutdown(ctx)
}

func TestSetupUnknownProtocol(t *testing.T) {
	_, _, err := Setup(context.Background(), Config{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	require.Error(t, err)
}
