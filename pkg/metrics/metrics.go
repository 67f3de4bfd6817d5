/*
Copyright 2026 The FiskAI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the Prometheus surface every pipeline stage
// records into: jobs processed/retried/dead-lettered, circuit-breaker
// state, release counts, rejected extractions, and LLM call latency.
// Package-level collectors plus Record*/Set* wrapper functions keep call
// sites one-liners.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobsProcessedTotal counts successfully acked jobs per queue.
var JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fiskai_jobs_processed_total",
	Help: "Total jobs acknowledged as complete, by queue name.",
}, []string{"queue"})

// JobRetriesTotal counts nacked jobs rescheduled for another attempt.
var JobRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fiskai_job_retries_total",
	Help: "Total job retry reschedules, by queue name and failure class.",
}, []string{"queue", "class"})

// DeadLettersTotal counts jobs moved to the shared dead-letter queue.
var DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fiskai_dead_letters_total",
	Help: "Total jobs moved to the dead-letter queue, by origin queue.",
}, []string{"origin_queue"})

// CircuitState reports each provider breaker's current state as a gauge:
// 0 = CLOSED, 1 = HALF_OPEN, 2 = OPEN.
var CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "fiskai_circuit_breaker_state",
	Help: "Circuit breaker state per provider (0=CLOSED, 1=HALF_OPEN, 2=OPEN).",
}, []string{"provider"})

// ReleasesTotal counts published releases by derived release type.
var ReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fiskai_releases_total",
	Help: "Total releases published, by release type.",
}, []string{"release_type"})

// RejectedExtractionsTotal counts dead-lettered extractions by reason.
var RejectedExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fiskai_rejected_extractions_total",
	Help: "Total extractions rejected before becoming a CandidateFact, by reason.",
}, []string{"reason"})

// AgentRunDuration records LLM call latency by agent type and outcome.
var AgentRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "fiskai_agent_run_duration_seconds",
	Help:    "LLM agent run latency in seconds, by agent type and outcome.",
	Buckets: prometheus.DefBuckets,
}, []string{"agent_type", "outcome"})

// AlertsRaisedTotal counts watchdog alerts raised (post-dedup), by check and severity.
var AlertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fiskai_alerts_raised_total",
	Help: "Total watchdog alerts raised after dedup, by check name and severity.",
}, []string{"check", "severity"})

// RecordJobProcessed increments JobsProcessedTotal for queue.
func RecordJobProcessed(queue string) {
	JobsProcessedTotal.WithLabelValues(queue).Inc()
}

// RecordJobRetry increments JobRetriesTotal for queue/class.
func RecordJobRetry(queue, class string) {
	JobRetriesTotal.WithLabelValues(queue, class).Inc()
}

// RecordDeadLetter increments DeadLettersTotal for originQueue.
func RecordDeadLetter(originQueue string) {
	DeadLettersTotal.WithLabelValues(originQueue).Inc()
}

// circuitStateValue maps a breaker state name to CircuitState's gauge
// encoding; unrecognized states map to 0, the same value as CLOSED.
func circuitStateValue(state string) float64 {
	switch state {
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	default:
		return 0
	}
}

// SetCircuitState records provider's current breaker state.
func SetCircuitState(provider, state string) {
	CircuitState.WithLabelValues(provider).Set(circuitStateValue(state))
}

// RecordRelease increments ReleasesTotal for releaseType.
func RecordRelease(releaseType string) {
	ReleasesTotal.WithLabelValues(releaseType).Inc()
}

// RecordRejectedExtraction increments RejectedExtractionsTotal for reason.
func RecordRejectedExtraction(reason string) {
	RejectedExtractionsTotal.WithLabelValues(reason).Inc()
}

// RecordAgentRun observes an LLM call's latency.
func RecordAgentRun(agentType, outcome string, d time.Duration) {
	AgentRunDuration.WithLabelValues(agentType, outcome).Observe(d.Seconds())
}

// RecordAlert increments AlertsRaisedTotal for a (check, severity) pair.
func RecordAlert(check, severity string) {
	AlertsRaisedTotal.WithLabelValues(check, severity).Inc()
}
