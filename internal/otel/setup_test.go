package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		version     string
	}{
		{"basic setup", "test-service", "1.0.0"},
		{"dev version", "veil", "dev"},
		{"empty version", "veil", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
			t.Cleanup(func() {
				otel.SetTracerProvider(prevTP)
				otel.SetMeterProvider(prevMP)
			})

			shutdown, err := Setup(tt.serviceName, tt.version, true)
			require.NoError(t, err)
			require.NotNil(t, shutdown)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			assert.NoError(t, shutdown(ctx))
		})
	}
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup("veil", "dev", false)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracer_CreatesValidSpansAfterSetup(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})
	shutdown, err := Setup("test-service", "0.0.1", true)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	_, span := Tracer("github.com/dativo-io/veil/internal/otel/test").Start(context.Background(), "test.operation")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().HasTraceID())
}
