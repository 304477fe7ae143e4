package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/Tyrowin/chatdrop/internal/config"
)

// TestInitDisabled tests that an empty endpoint installs nothing.
func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{})
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() = %v", err)
	}
}

// TestInitWithEndpoint tests that an endpoint builds a provider without
// contacting the collector.
func TestInitWithEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "chatdrop-test",
	})
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// No spans were recorded, so shutdown never reaches the collector.
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown() = %v", err)
	}
}

// TestEndpointOptions tests both accepted endpoint forms.
func TestEndpointOptions(t *testing.T) {
	if got := len(endpointOptions("collector:4318")); got != 2 {
		t.Errorf("host:port produced %d options, want 2", got)
	}
	if got := len(endpointOptions("https://otel.example.com/v1/traces")); got != 2 {
		t.Errorf("https URL produced %d options, want 2", got)
	}
	if got := len(endpointOptions("http://localhost:4318")); got != 2 {
		t.Errorf("http URL produced %d options, want 2", got)
	}
}
