package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "helm-ledger", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.Equal(t, 5*time.Second, config.BatchTimeout)
	require.False(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Enabled())
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx, done := p.TrackOperation(context.Background(), "ledger.verify", attribute.String("sink", "file"))
	require.NotNil(t, ctx)
	done(nil)
	_, done = p.TrackOperation(context.Background(), "ledger.append")
	done(errors.New("boom"))

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
}

func TestNewProviderEnabled(t *testing.T) {
	// Exporters connect lazily, so construction succeeds without a collector.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Insecure = true
	cfg.OTLPEndpoint = "127.0.0.1:14317"
	cfg.SampleRate = 0.5

	p, err := New(ctx, cfg)
	if err != nil {
		t.Logf("Provider creation failed (expected in some test envs): %v", err)
		return
	}
	assert.True(t, p.Enabled())

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelShutdown()
	_ = p.Shutdown(shutdownCtx)
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1).Description(), "AlwaysOn")
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOff")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("chain has no entries", "path", "ledger.jsonl")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"chain has no entries"`)

	buf.Reset()
	logger, err = NewLogger(&buf, "debug", "text")
	require.NoError(t, err)
	logger.Debug("appended entry")
	assert.Contains(t, buf.String(), "msg=\"appended entry\"")

	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
}
