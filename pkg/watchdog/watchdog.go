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

// Package watchdog runs the periodic health monitors: stale source,
// scraper failure rate, quality degradation, rejection rate, drainer
// stall, queue backlog/dead-letter depth, the three inter-stage progress
// gates, and LLM provider health. Each check raises a deduplicated Alert
// through pkg/store.AlertRepository and fans CRITICAL alerts out through
// pkg/notify.
package watchdog

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wandeon/FiskAI-App-sub004/internal/config"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/circuitbreaker"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/metrics"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// Notifier receives CRITICAL alerts. pkg/notify.Fanout satisfies this.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert)
}

// Provider names one LLM surface the watchdog pings for health, alongside
// the circuit breaker its failures/successes feed.
type Provider struct {
	Name     string
	Endpoint string
	Local    bool // local (Ollama) pings GET /api/tags; cloud pings GET /v1/models
	Breaker  *circuitbreaker.Breaker
}

// Watchdog runs the periodic health checks.
type Watchdog struct {
	repos     store.Repositories
	queues    queue.Queue
	providers []Provider
	notifier  Notifier
	log       *logrus.Logger
	hc        *http.Client
	now       func() time.Time

	mu  sync.RWMutex
	cfg config.WatchdogConfig
}

// New constructs a Watchdog. queues and providers may be nil/empty when
// those checks are not applicable to the deployment (e.g. a queue-less
// single-process test run).
func New(repos store.Repositories, queues queue.Queue, providers []Provider, cfg config.WatchdogConfig, notifier Notifier, log *logrus.Logger) *Watchdog {
	if log == nil {
		log = logrus.New()
	}
	return &Watchdog{
		repos: repos, queues: queues, providers: providers, cfg: cfg, notifier: notifier, log: log,
		hc:  &http.Client{Timeout: 5 * time.Second},
		now: time.Now,
	}
}

// SetConfig swaps the threshold set, for live reload from a config overlay.
func (w *Watchdog) SetConfig(cfg config.WatchdogConfig) {
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

// config snapshots the current thresholds so one check cycle sees a
// consistent set even while SetConfig swaps them.
func (w *Watchdog) config() config.WatchdogConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// CheckResult is one health check's outcome, independent of whether it
// ended up deduplicated against a prior alert.
type CheckResult struct {
	CheckName string
	EntityID  string
	Severity  domain.AlertSeverity
	Message   string
}

// Run executes every configured check once and returns the results it
// raised (after dedup bookkeeping; HEALTHY results are never persisted or
// returned). Errors from individual checks are logged and skipped — one
// check's failure must never prevent the others from running.
func (w *Watchdog) Run(ctx context.Context) []CheckResult {
	var results []CheckResult
	checks := []func(context.Context) ([]CheckResult, error){
		w.checkStaleSources,
		w.checkScraperFailureRate,
		w.checkQualityDegradation,
		w.checkRejectionRate,
		w.checkDrainerStall,
		w.checkQueueBacklog,
		w.checkProgressGates,
		w.checkProviderHealth,
	}
	for _, check := range checks {
		rs, err := check(ctx)
		if err != nil {
			w.log.WithError(err).Warn("watchdog: check failed")
			continue
		}
		for _, r := range rs {
			if w.raise(ctx, r) {
				results = append(results, r)
			}
		}
	}
	return results
}

// raise applies the alert-dedup window (a repeat (type,entityId) within
// the window increments Occurrences on the existing row and keeps its
// FirstSeenAt) and fans every CRITICAL alert out to the Notifier, repeats
// included. It always returns true; HEALTHY results never reach raise at
// all since checks only return WARNING/CRITICAL.
func (w *Watchdog) raise(ctx context.Context, r CheckResult) bool {
	window := time.Duration(w.config().AlertDedupWindowMinutes) * time.Minute
	if window <= 0 {
		window = 60 * time.Minute
	}
	now := w.now()

	prior, found, err := w.repos.Alerts.LastRaised(ctx, r.CheckName, r.EntityID)
	occurrences := 1
	firstSeen := now
	if err == nil && found && now.Sub(prior.LastSeenAt) < window {
		occurrences = prior.Occurrences + 1
		firstSeen = prior.FirstSeenAt
	}

	alert := domain.Alert{
		ID:          r.CheckName + "\x00" + r.EntityID,
		AlertType:   r.CheckName,
		EntityID:    r.EntityID,
		Severity:    r.Severity,
		Message:     r.Message,
		Occurrences: occurrences,
		FirstSeenAt: firstSeen,
		LastSeenAt:  now,
	}
	if err := w.repos.Alerts.Upsert(ctx, alert); err != nil {
		w.log.WithError(err).Warn("watchdog: failed to persist alert")
	}

	metrics.RecordAlert(r.CheckName, string(r.Severity))
	if r.Severity == domain.AlertCritical && w.notifier != nil {
		w.notifier.Notify(ctx, alert)
	}
	return true
}

func classify(warn, crit float64, value float64, higherIsWorse bool) domain.AlertSeverity {
	if higherIsWorse {
		switch {
		case value >= crit:
			return domain.AlertCritical
		case value >= warn:
			return domain.AlertWarning
		default:
			return domain.AlertHealthy
		}
	}
	switch {
	case value <= crit:
		return domain.AlertCritical
	case value <= warn:
		return domain.AlertWarning
	default:
		return domain.AlertHealthy
	}
}

// checkStaleSources raises a WARNING/CRITICAL per source whose last
// Evidence fetch is older than the configured day thresholds.
func (w *Watchdog) checkStaleSources(ctx context.Context) ([]CheckResult, error) {
	summaries, err := w.repos.Evidence.SourceSummaries(ctx, 30*24*time.Hour)
	if err != nil {
		return nil, errs.Wrap(err, errs.InternalError, "load source summaries")
	}
	cfg := w.config()
	var out []CheckResult
	for _, s := range summaries {
		days := w.now().Sub(s.LastFetchedAt).Hours() / 24
		sev := classify(float64(cfg.StaleSourceWarnDays), float64(cfg.StaleSourceCriticalDays), days, true)
		if sev == domain.AlertHealthy {
			continue
		}
		out = append(out, CheckResult{
			CheckName: "STALE_SOURCE", EntityID: s.SourceID, Severity: sev,
			Message: fmt.Sprintf("source %s has no new evidence for %.0f days", s.SourceID, days),
		})
	}
	return out, nil
}

// checkScraperFailureRate raises per-source when its empty-content fraction
// over the trailing 24h window crosses a threshold.
func (w *Watchdog) checkScraperFailureRate(ctx context.Context) ([]CheckResult, error) {
	summaries, err := w.repos.Evidence.SourceSummaries(ctx, 24*time.Hour)
	if err != nil {
		return nil, errs.Wrap(err, errs.InternalError, "load source summaries")
	}
	cfg := w.config()
	var out []CheckResult
	for _, s := range summaries {
		if s.TotalInWindow == 0 {
			continue
		}
		rate := float64(s.EmptyInWindow) / float64(s.TotalInWindow)
		sev := classify(cfg.FailureRateWarn, cfg.FailureRateCritical, rate, true)
		if sev == domain.AlertHealthy {
			continue
		}
		out = append(out, CheckResult{
			CheckName: "SCRAPER_FAILURE_RATE", EntityID: s.SourceID, Severity: sev,
			Message: fmt.Sprintf("source %s empty-content rate %.0f%% over 24h", s.SourceID, rate*100),
		})
	}
	return out, nil
}

// checkQualityDegradation raises when mean Rule confidence over the
// trailing 7 days drops below threshold.
func (w *Watchdog) checkQualityDegradation(ctx context.Context) ([]CheckResult, error) {
	mean, n, err := w.repos.Rules.MeanConfidenceSince(ctx, w.now().Add(-7*24*time.Hour))
	if err != nil {
		return nil, errs.Wrap(err, errs.InternalError, "compute mean confidence")
	}
	if n == 0 {
		return nil, nil
	}
	cfg := w.config()
	sev := classify(cfg.ConfidenceWarn, cfg.ConfidenceCritical, mean, false)
	if sev == domain.AlertHealthy {
		return nil, nil
	}
	return []CheckResult{{
		CheckName: "QUALITY_DEGRADATION", EntityID: "", Severity: sev,
		Message: fmt.Sprintf("mean rule confidence over 7d is %.2f across %d rules", mean, n),
	}}, nil
}

// checkRejectionRate raises when REJECTED/(APPROVED+REJECTED) over the
// trailing 7 days crosses a threshold.
func (w *Watchdog) checkRejectionRate(ctx context.Context) ([]CheckResult, error) {
	since := w.now().Add(-7 * 24 * time.Hour)
	approved, err := w.repos.Rules.CountByStatusSince(ctx, domain.RuleApproved, since)
	if err != nil {
		return nil, errs.Wrap(err, errs.InternalError, "count approved rules")
	}
	rejected, err := w.repos.Rules.CountByStatusSince(ctx, domain.RuleRejected, since)
	if err != nil {
		return nil, errs.Wrap(err, errs.InternalError, "count rejected rules")
	}
	total := approved + rejected
	if total == 0 {
		return nil, nil
	}
	rate := float64(rejected) / float64(total)
	cfg := w.config()
	sev := classify(cfg.RejectionRateWarn, cfg.RejectionRateCritical, rate, true)
	if sev == domain.AlertHealthy {
		return nil, nil
	}
	return []CheckResult{{
		CheckName: "REJECTION_RATE", EntityID: "", Severity: sev,
		Message: fmt.Sprintf("rejection rate over 7d is %.0f%% (%d/%d)", rate*100, rejected, total),
	}}, nil
}

// queueNames lists the stage queues whose drainer heartbeat and backlog
// the watchdog monitors, one per stage worker pool.
var queueNames = []string{"fetch", "extract", "compose", "review", "release"}

// checkDrainerStall raises per queue when its heartbeat is idle beyond
// threshold, or missing entirely (WARN).
func (w *Watchdog) checkDrainerStall(ctx context.Context) ([]CheckResult, error) {
	if w.queues == nil {
		return nil, nil
	}
	cfg := w.config()
	var out []CheckResult
	for _, name := range queueNames {
		hb, found, err := w.queues.LastHeartbeat(ctx, name)
		if err != nil {
			return nil, errs.Wrap(err, errs.InternalError, "load heartbeat for "+name)
		}
		if !found {
			out = append(out, CheckResult{CheckName: "DRAINER_STALL", EntityID: name, Severity: domain.AlertWarning, Message: "no heartbeat recorded for " + name})
			continue
		}
		idleMinutes := w.now().Sub(hb.At).Minutes()
		sev := classify(float64(cfg.DrainerStallWarnMinutes), float64(cfg.DrainerStallCritMinutes), idleMinutes, true)
		if sev == domain.AlertHealthy {
			continue
		}
		out = append(out, CheckResult{
			CheckName: "DRAINER_STALL", EntityID: name, Severity: sev,
			Message: fmt.Sprintf("queue %s drainer idle for %.0f minutes", name, idleMinutes),
		})
	}
	return out, nil
}

// checkQueueBacklog raises per queue on backlog depth and separately for
// the single shared dead-letter queue's depth.
func (w *Watchdog) checkQueueBacklog(ctx context.Context) ([]CheckResult, error) {
	if w.queues == nil {
		return nil, nil
	}
	cfg := w.config()
	var out []CheckResult
	for _, name := range queueNames {
		depth, err := w.queues.Depth(ctx, name)
		if err != nil {
			return nil, errs.Wrap(err, errs.InternalError, "load depth for "+name)
		}
		sev := classify(float64(cfg.QueueBacklogWarn), float64(cfg.QueueBacklogCritical), float64(depth), true)
		if sev != domain.AlertHealthy {
			out = append(out, CheckResult{
				CheckName: "QUEUE_BACKLOG", EntityID: name, Severity: sev,
				Message: fmt.Sprintf("queue %s backlog depth %d", name, depth),
			})
		}
	}
	dlDepth, err := w.queues.Depth(ctx, queue.DeadLetterQueue)
	if err != nil {
		return nil, errs.Wrap(err, errs.InternalError, "load dead-letter depth")
	}
	sev := classify(float64(cfg.DeadLetterWarn), float64(cfg.DeadLetterCritical), float64(dlDepth), true)
	if sev != domain.AlertHealthy {
		out = append(out, CheckResult{
			CheckName: "DEAD_LETTER_DEPTH", EntityID: queue.DeadLetterQueue, Severity: sev,
			Message: fmt.Sprintf("dead-letter queue depth %d", dlDepth),
		})
	}
	return out, nil
}

// gateSeverity classifies a progress gate's stalled count: HEALTHY at 0,
// WARNING below 20, CRITICAL at or above 20.
func gateSeverity(count int) domain.AlertSeverity {
	switch {
	case count == 0:
		return domain.AlertHealthy
	case count < 20:
		return domain.AlertWarning
	default:
		return domain.AlertCritical
	}
}

// checkProgressGates runs the three inter-stage progress gates against
// the single canonical ProgressGateQuery.
func (w *Watchdog) checkProgressGates(ctx context.Context) ([]CheckResult, error) {
	type gate struct {
		name      string
		olderThan time.Duration
		query     func(context.Context, time.Duration) (int, error)
	}
	gates := []gate{
		{"PROGRESS_GATE_EVIDENCE_TO_FACTS", 4 * time.Hour, w.repos.ProgressGates.StaleEvidenceWithoutFacts},
		{"PROGRESS_GATE_FACTS_TO_RULE", 6 * time.Hour, w.repos.ProgressGates.StaleFactsWithoutRule},
		{"PROGRESS_GATE_APPROVED_TO_RELEASE", 24 * time.Hour, w.repos.ProgressGates.StaleApprovedWithoutRelease},
	}
	var out []CheckResult
	for _, g := range gates {
		count, err := g.query(ctx, g.olderThan)
		if err != nil {
			return nil, errs.Wrap(err, errs.InternalError, "run "+g.name)
		}
		sev := gateSeverity(count)
		if sev == domain.AlertHealthy {
			continue
		}
		out = append(out, CheckResult{
			CheckName: g.name, EntityID: "", Severity: sev,
			Message: fmt.Sprintf("%d items stalled past %s", count, g.olderThan),
		})
	}
	return out, nil
}

// PingStatus classifies an LLM provider health ping's outcome.
type PingStatus string

const (
	PingOK         PingStatus = "OK"
	PingTimeout    PingStatus = "TIMEOUT"
	PingDNS        PingStatus = "DNS"
	PingAuth       PingStatus = "AUTH"
	Ping5XX        PingStatus = "5XX"
	PingRateLimit  PingStatus = "RATE_LIMIT"
	PingUnknown    PingStatus = "UNKNOWN"
)

// ping performs the provider health ping: GET /api/tags for a local
// (Ollama) provider, GET /v1/models for a cloud one.
func (w *Watchdog) ping(ctx context.Context, p Provider) PingStatus {
	path := "/v1/models"
	if p.Local {
		path = "/api/tags"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint+path, nil)
	if err != nil {
		return PingUnknown
	}
	resp, err := w.hc.Do(req)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return PingTimeout
		}
		if strings.Contains(err.Error(), "no such host") || strings.Contains(err.Error(), "lookup") {
			return PingDNS
		}
		return PingUnknown
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return PingRateLimit
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return PingAuth
	case resp.StatusCode >= 500:
		return Ping5XX
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return PingOK
	default:
		return PingUnknown
	}
}

// checkProviderHealth pings every configured provider, records the result
// into its circuit breaker, and raises LLM_CIRCUIT_OPEN (CRITICAL) when the
// breaker is OPEN after recording.
func (w *Watchdog) checkProviderHealth(ctx context.Context) ([]CheckResult, error) {
	var out []CheckResult
	for _, p := range w.providers {
		status := w.ping(ctx, p)
		if p.Breaker == nil {
			continue
		}
		if status == PingOK {
			if err := p.Breaker.RecordSuccess(ctx); err != nil {
				w.log.WithError(err).Warn("watchdog: failed to record provider success")
			}
		} else {
			if err := p.Breaker.RecordFailure(ctx, string(status)); err != nil {
				w.log.WithError(err).Warn("watchdog: failed to record provider failure")
			}
		}
		st, err := p.Breaker.GetState(ctx)
		if err != nil {
			return nil, errs.Wrap(err, errs.InternalError, "load breaker state for "+p.Name)
		}
		if st.State == circuitbreaker.Open {
			out = append(out, CheckResult{
				CheckName: "LLM_CIRCUIT_OPEN", EntityID: p.Name, Severity: domain.AlertCritical,
				Message: fmt.Sprintf("provider %s circuit is OPEN (last ping %s)", p.Name, status),
			})
		}
	}
	return out, nil
}
