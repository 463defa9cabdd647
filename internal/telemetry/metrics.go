package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestsTotal       metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	AnswersTotal        metric.Int64Counter
	AnswerDuration      metric.Float64Histogram
	IndexBuilds         metric.Int64Counter
	IndexBuildDuration  metric.Float64Histogram
	IndexedPassages     metric.Int64Histogram
	EmbeddingRequests   metric.Int64Counter
	EmbeddingCache      metric.Int64Counter
	GenerationRequests  metric.Int64Counter
	TokensUsed          metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics on the global meter provider.
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("rag-chatbot-platform")
	m := &Metrics{}
	var err error

	if m.RequestsTotal, err = meter.Int64Counter("http.server.requests.total",
		metric.WithDescription("HTTP requests, by route and status")); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.AnswersTotal, err = meter.Int64Counter("rag.answers.total",
		metric.WithDescription("Answers served, by outcome")); err != nil {
		return nil, err
	}
	if m.AnswerDuration, err = meter.Float64Histogram("rag.answer.duration",
		metric.WithDescription("End-to-end answer latency in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.IndexBuilds, err = meter.Int64Counter("rag.index.builds.total",
		metric.WithDescription("Index builds, by status")); err != nil {
		return nil, err
	}
	if m.IndexBuildDuration, err = meter.Float64Histogram("rag.index.build.duration",
		metric.WithDescription("Index build duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.IndexedPassages, err = meter.Int64Histogram("rag.index.passages",
		metric.WithDescription("Passages per built index")); err != nil {
		return nil, err
	}
	if m.EmbeddingRequests, err = meter.Int64Counter("rag.embedding.requests.total",
		metric.WithDescription("Embedding backend calls, by provider and status")); err != nil {
		return nil, err
	}
	if m.EmbeddingCache, err = meter.Int64Counter("rag.embedding.cache.total",
		metric.WithDescription("Embedding cache lookups, by result")); err != nil {
		return nil, err
	}
	if m.GenerationRequests, err = meter.Int64Counter("rag.generation.requests.total",
		metric.WithDescription("Generation calls, by model and status")); err != nil {
		return nil, err
	}
	if m.TokensUsed, err = meter.Int64Counter("rag.generation.tokens.used",
		metric.WithDescription("Tokens consumed by generation")); err != nil {
		return nil, err
	}
	if m.CircuitBreakerState, err = meter.Int64Counter("circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)
	m.RequestsTotal.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), seconds, attrs)
}

// RecordAnswer records one answered question. outcome is "answered",
// "fallback" or "not_ready".
func (m *Metrics) RecordAnswer(outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.AnswersTotal.Add(context.Background(), 1, attrs)
	m.AnswerDuration.Record(context.Background(), seconds, attrs)
}

func (m *Metrics) RecordIndexBuild(success bool, seconds float64, passages int) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.IndexBuilds.Add(context.Background(), 1, attrs)
	m.IndexBuildDuration.Record(context.Background(), seconds, attrs)
	if success {
		m.IndexedPassages.Record(context.Background(), int64(passages))
	}
}

func (m *Metrics) RecordEmbedding(provider string, success bool) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordEmbeddingCache records a cache "hit" or "miss".
func (m *Metrics) RecordEmbeddingCache(result string) {
	if m == nil {
		return
	}
	m.EmbeddingCache.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordGeneration(model string, success bool) {
	if m == nil {
		return
	}
	m.GenerationRequests.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.Bool("success", success),
	))
}

func (m *Metrics) RecordTokensUsed(tokens int64, model string) {
	if m == nil {
		return
	}
	m.TokensUsed.Add(context.Background(), tokens, metric.WithAttributes(attribute.String("model", model)))
}

func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}
