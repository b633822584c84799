package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"metrics only", Config{ServiceName: "collabd", ServiceVersion: "1", MetricsEnabled: true}, false},
		{"missing name", Config{ServiceVersion: "1"}, true},
		{"missing version", Config{ServiceName: "collabd"}, true},
		{"bad sample rate", Config{ServiceName: "collabd", ServiceVersion: "1", TracingSampleRate: 2}, true},
		{"otlp metrics without interval", Config{ServiceName: "collabd", ServiceVersion: "1", MetricsEnabled: true, MetricsEndpoint: "localhost:4317"}, true},
		{"tracing without exporter", Config{ServiceName: "collabd", ServiceVersion: "1", TracingEnabled: true}, true},
		{"tracing to console", Config{ServiceName: "collabd", ServiceVersion: "1", TracingEnabled: true, ConsoleExporter: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCollectorEndpoint(t *testing.T) {
	assert.Equal(t, "collector:4317", collectorEndpoint("http://collector:4317/"))
	assert.Equal(t, "collector:4317", collectorEndpoint("https://collector:4317"))
	assert.Equal(t, "collector:4317", collectorEndpoint("collector:4317"))
}

func TestNewService_MetricsExposition(t *testing.T) {
	svc, err := NewService(t.Context(), &Config{
		ServiceName:    "collabd-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		MetricsEnabled: true,
	})
	require.NoError(t, err)
	defer func() { _ = svc.Shutdown(t.Context()) }()

	metrics, err := NewCollabMetrics(svc.GetMeter())
	require.NoError(t, err)
	metrics.MessageReceived(t.Context(), "cursor_update")

	server := httptest.NewServer(svc.MetricsHandler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "collab_messages_received")
	assert.Contains(t, string(body), "cursor_update")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewService_MetricsDisabledUsesNoopMeter(t *testing.T) {
	svc, err := NewService(t.Context(), &Config{
		ServiceName:    "collabd-test",
		ServiceVersion: "1.0.0",
	})
	require.NoError(t, err)

	assert.NotNil(t, svc.GetMeter())
	assert.NotNil(t, svc.GetTracer())
	assert.Nil(t, svc.meterProvider)
	assert.NoError(t, svc.Shutdown(t.Context()))
}

func TestNewService_OTLPExportersAreLazy(t *testing.T) {
	// gRPC exporters dial lazily, so an unreachable collector must not fail startup
	svc, err := NewService(t.Context(), &Config{
		ServiceName:       "collabd-test",
		ServiceVersion:    "1.0.0",
		TracingEnabled:    true,
		TracingSampleRate: 0.5,
		TracingEndpoint:   "http://127.0.0.1:1",
		MetricsEnabled:    true,
		MetricsEndpoint:   "127.0.0.1:1",
		MetricsInterval:   time.Hour,
		Insecure:          true,
	})
	require.NoError(t, err)
	assert.NotNil(t, svc.tracerProvider)
	assert.NotNil(t, svc.meterProvider)
}

func TestNewService_InvalidConfig(t *testing.T) {
	_, err := NewService(t.Context(), &Config{})
	assert.Error(t, err)
}
