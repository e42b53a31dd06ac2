// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector collects Prometheus metrics for workflow/step execution.
// Grounded on the teacher's internal/controller/metrics/persistence.go
// promauto.NewCounterVec idiom, extended with the Float64Histogram duration
// metric pattern shown in the retrieval pack's DAG-engine reference
// (_examples/other_examples/..._dag_engine.go.go), and scoped to the events
// spec.md §6.3 defines rather than the teacher's run/LLM-specific labels.
type MetricsCollector struct {
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	cacheTotal   *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	timeoutsTotal *prometheus.CounterVec
	scopeTotal   *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
}

// NewMetricsCollector registers the engine's metric instruments against reg.
// Pass prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions between runs.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_steps_total",
			Help: "Total number of step completions by outcome",
		}, []string{"name", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepflow_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"name", "outcome"}),
		cacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_cache_total",
			Help: "Total step cache lookups by result",
		}, []string{"result"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_retries_total",
			Help: "Total retry attempts and exhaustions",
		}, []string{"name", "kind"}),
		timeoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_timeouts_total",
			Help: "Total per-attempt timeouts observed",
		}, []string{"name"}),
		scopeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_scope_total",
			Help: "Total parallel/race scope completions by type and outcome",
		}, []string{"scope_type", "outcome"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_runs_total",
			Help: "Total workflow runs by outcome",
		}, []string{"workflow", "outcome"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepflow_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow", "outcome"}),
	}
}

// RecordRun records a completed workflow invocation.
func (m *MetricsCollector) RecordRun(workflowName, outcome string, duration time.Duration) {
	m.runsTotal.WithLabelValues(workflowName, outcome).Inc()
	m.runDuration.WithLabelValues(workflowName, outcome).Observe(duration.Seconds())
}

// RecordStep records a completed step attempt (post retry/timeout).
func (m *MetricsCollector) RecordStep(name, outcome string, duration time.Duration) {
	m.stepsTotal.WithLabelValues(name, outcome).Inc()
	m.stepDuration.WithLabelValues(name, outcome).Observe(duration.Seconds())
}

// RecordCacheHit / RecordCacheMiss track the step cache's hit rate.
func (m *MetricsCollector) RecordCacheHit()  { m.cacheTotal.WithLabelValues("hit").Inc() }
func (m *MetricsCollector) RecordCacheMiss() { m.cacheTotal.WithLabelValues("miss").Inc() }

// RecordRetry tracks a single retry attempt for name.
func (m *MetricsCollector) RecordRetry(name string) {
	m.retriesTotal.WithLabelValues(name, "attempt").Inc()
}

// RecordRetriesExhausted tracks a retry loop that ran out of attempts.
func (m *MetricsCollector) RecordRetriesExhausted(name string) {
	m.retriesTotal.WithLabelValues(name, "exhausted").Inc()
}

// RecordTimeout tracks a single per-attempt timeout for name.
func (m *MetricsCollector) RecordTimeout(name string) {
	m.timeoutsTotal.WithLabelValues(name).Inc()
}

// RecordScope tracks a parallel/race scope's outcome.
func (m *MetricsCollector) RecordScope(scopeType, outcome string) {
	m.scopeTotal.WithLabelValues(scopeType, outcome).Inc()
}
