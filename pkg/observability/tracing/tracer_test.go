package tracing

import (
	"context"
	"testing"
	"time"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewTracerProvider(ctx, TracerConfig{ServiceName: "test-service", Enabled: false})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider to be non-nil")
	}

	_, span := provider.Tracer("test").Start(ctx, "test-span")
	if span.SpanContext().IsSampled() {
		t.Fatal("disabled provider should not sample")
	}
	span.End()
}

func TestNewTracerProvider_ValidationErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		config      TracerConfig
		expectedErr string
	}{
		{
			name:        "missing service name",
			config:      TracerConfig{Enabled: true, Endpoint: "localhost:4317"},
			expectedErr: "service name is required",
		},
		{
			name:        "missing endpoint",
			config:      TracerConfig{ServiceName: "test-service", Enabled: true},
			expectedErr: "OTLP endpoint is required",
		},
		{
			name:        "invalid sample rate - negative",
			config:      TracerConfig{ServiceName: "test-service", Endpoint: "localhost:4317", SampleRate: -0.1, Enabled: true},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name:        "invalid sample rate - too high",
			config:      TracerConfig{ServiceName: "test-service", Endpoint: "localhost:4317", SampleRate: 1.5, Enabled: true},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(ctx, tt.config)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestTracerProvider_Shutdown(t *testing.T) {
	ctx := context.Background()

	provider, err := NewTracerProvider(ctx, TracerConfig{ServiceName: "test-service"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		t.Errorf("expected no error on shutdown, got: %v", err)
	}

	var nilProvider *TracerProvider
	if err := nilProvider.Shutdown(ctx); err != nil {
		t.Errorf("nil provider shutdown should be a no-op, got: %v", err)
	}
}
