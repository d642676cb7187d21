package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// Metrics is the recording surface used across the services. A nil
// receiver records nothing.
type Metrics interface {
	RecordTurn(ctx context.Context, duration time.Duration, tokens int, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordProbe(ctx context.Context, hits int, skipped bool)
	RecordHandoff(ctx context.Context, outcome string)
}

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, possibly nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// PrometheusMetrics records to otel instruments backed by the
// Prometheus exporter. The zero value drops everything.
type PrometheusMetrics struct {
	turnDuration metric.Float64Histogram
	turnsTotal   metric.Int64Counter
	turnErrors   metric.Int64Counter
	turnTokens   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	probeCalls metric.Int64Counter
	probeHits  metric.Int64Counter

	handoffsTotal metric.Int64Counter
}

// InitMetrics builds the instruments. Disabled config returns a no-op
// recorder.
func InitMetrics(cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter("gaia")

	m := &PrometheusMetrics{}
	if m.turnDuration, err = meter.Float64Histogram("gaia_turn_duration_seconds",
		metric.WithDescription("Cognition turn latency in seconds")); err != nil {
		return nil, err
	}
	if m.turnsTotal, err = meter.Int64Counter("gaia_turns_total",
		metric.WithDescription("Total cognition turns")); err != nil {
		return nil, err
	}
	if m.turnErrors, err = meter.Int64Counter("gaia_turn_errors_total",
		metric.WithDescription("Total failed or aborted turns")); err != nil {
		return nil, err
	}
	if m.turnTokens, err = meter.Int64Counter("gaia_turn_tokens_total",
		metric.WithDescription("Total completion tokens across turns")); err != nil {
		return nil, err
	}
	if m.llmDuration, err = meter.Float64Histogram("gaia_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds")); err != nil {
		return nil, err
	}
	if m.llmInputTokens, err = meter.Int64Counter("gaia_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLMs")); err != nil {
		return nil, err
	}
	if m.llmOutputTokens, err = meter.Int64Counter("gaia_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLMs")); err != nil {
		return nil, err
	}
	if m.llmErrors, err = meter.Int64Counter("gaia_llm_errors_total",
		metric.WithDescription("Total LLM call failures")); err != nil {
		return nil, err
	}
	if m.probeCalls, err = meter.Int64Counter("gaia_probe_calls_total",
		metric.WithDescription("Total semantic probe invocations")); err != nil {
		return nil, err
	}
	if m.probeHits, err = meter.Int64Counter("gaia_probe_hits_total",
		metric.WithDescription("Total semantic probe hits above threshold")); err != nil {
		return nil, err
	}
	if m.handoffsTotal, err = meter.Int64Counter("gaia_gpu_handoffs_total",
		metric.WithDescription("Total GPU handoff attempts by outcome")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, duration time.Duration, tokens int, err error) {
	if m == nil || m.turnDuration == nil {
		return
	}
	m.turnDuration.Record(ctx, duration.Seconds())
	m.turnsTotal.Add(ctx, 1)
	if tokens > 0 {
		m.turnTokens.Add(ctx, int64(tokens))
	}
	if err != nil {
		m.turnErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordProbe(ctx context.Context, hits int, skipped bool) {
	if m == nil || m.probeCalls == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("skipped", skipped))
	m.probeCalls.Add(ctx, 1, attrs)
	if hits > 0 {
		m.probeHits.Add(ctx, int64(hits))
	}
}

func (m *PrometheusMetrics) RecordHandoff(ctx context.Context, outcome string) {
	if m == nil || m.handoffsTotal == nil {
		return
	}
	m.handoffsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
