//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultNamespace prefixes every prometheus metric name.
const DefaultNamespace = "studio"

// Cache lookup outcomes.
const (
	CacheHit        = "hit"
	CacheMiss       = "miss"
	CacheBuildError = "build_error"
	CacheInvalidate = "invalidate"
)

// Collector records runtime metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	activeRuns     prometheus.Gauge
	toolCallsTotal *prometheus.CounterVec
	cacheTotal     *prometheus.CounterVec
	graphBuild     prometheus.Histogram
	threads        *prometheus.GaugeVec
	checkpoints    *prometheus.CounterVec

	otelRuns      metric.Int64Counter
	otelToolCalls metric.Int64Counter
}

// NewCollector registers the vectors on reg. An empty namespace selects
// DefaultNamespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)
	c := &Collector{}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished runs by outcome",
		},
		[]string{"status"},
	)
	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)
	c.activeRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Number of runs currently streaming",
	})
	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)
	c.cacheTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_cache_total",
			Help:      "Graph cache lookups by result",
		},
		[]string{"result"},
	)
	c.graphBuild = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "graph_build_duration_seconds",
		Help:      "Time spent compiling execution graphs",
		Buckets:   prometheus.DefBuckets,
	})
	c.threads = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads",
			Help:      "Number of threads by status",
		},
		[]string{"status"},
	)
	c.checkpoints = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_written_total",
			Help:      "Checkpoints written by source",
		},
		[]string{"source"},
	)

	c.otelRuns, _ = Meter.Int64Counter("studio.runs",
		metric.WithDescription("Finished runs by outcome"))
	c.otelToolCalls, _ = Meter.Int64Counter("studio.tool_calls",
		metric.WithDescription("Tool calls by status"))
	return c
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RunStarted marks a run as active.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.activeRuns.Inc()
}

// RunFinished records a run outcome.
func (c *Collector) RunFinished(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.activeRuns.Dec()
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(d.Seconds())
	if c.otelRuns != nil {
		c.otelRuns.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordToolCall records one tool invocation.
func (c *Collector) RecordToolCall(tool, status string) {
	if c == nil {
		return
	}
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
	if c.otelToolCalls != nil {
		c.otelToolCalls.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("tool", tool), attribute.String("status", status)))
	}
}

// RecordCache records a graph cache lookup outcome.
func (c *Collector) RecordCache(result string) {
	if c == nil {
		return
	}
	c.cacheTotal.WithLabelValues(result).Inc()
}

// ObserveGraphBuild records a graph compilation.
func (c *Collector) ObserveGraphBuild(d time.Duration) {
	if c == nil {
		return
	}
	c.graphBuild.Observe(d.Seconds())
}

// SetThreads sets the number of threads in status.
func (c *Collector) SetThreads(status string, n int) {
	if c == nil {
		return
	}
	c.threads.WithLabelValues(status).Set(float64(n))
}

// RecordCheckpoint records a checkpoint write.
func (c *Collector) RecordCheckpoint(source string) {
	if c == nil {
		return
	}
	c.checkpoints.WithLabelValues(source).Inc()
}
