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

// Package config reads the environment variables named in the external
// interfaces section: LLM endpoint selection, watchdog thresholds, and
// alert routing.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures one named LLM surface (extraction, embeddings, …).
type LLMConfig struct {
	Provider       string
	Endpoint       string
	Model          string
	APIKey         string
	Timeout        time.Duration
	MaxContextSize int
}

// WatchdogConfig carries the per-threshold overrides recognized via
// WATCHDOG_* env vars.
type WatchdogConfig struct {
	StaleSourceWarnDays      int
	StaleSourceCriticalDays  int
	FailureRateWarn          float64
	FailureRateCritical      float64
	ConfidenceWarn           float64
	ConfidenceCritical       float64
	RejectionRateWarn        float64
	RejectionRateCritical    float64
	DrainerStallWarnMinutes  int
	DrainerStallCritMinutes  int
	QueueBacklogWarn         int
	QueueBacklogCritical     int
	DeadLetterWarn           int
	DeadLetterCritical       int
	AlertDedupWindowMinutes  int
}

// NotifyConfig carries alert-routing env vars.
type NotifyConfig struct {
	SlackWebhookURL  string
	SlackChannel     string
	DigestEmail      string
}

// Config is the process-wide configuration assembled from the environment.
type Config struct {
	Extraction LLMConfig
	Embeddings LLMConfig
	AIProvider string
	Watchdog   WatchdogConfig
	Notify     NotifyConfig
	DatabaseURL string
	RedisAddr   string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

// firstNonEmptyEnv returns the value of the first env var in keys that is
// set and non-empty, or def.
func firstNonEmptyEnv(def string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// FileOverlay is a partial, YAML-sourced override layered on top of the
// environment-derived Config when CONFIG_FILE names a readable file. Every
// field is optional; a zero value in the overlay leaves the env-derived
// value untouched. Env-driven defaults stay authoritative for process
// config; an operator-supplied YAML file can override deployment-specific
// fields (watchdog thresholds, alert routing, store DSNs) without
// re-exporting every env var.
type FileOverlay struct {
	AIProvider  string `yaml:"aiProvider"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisAddr   string `yaml:"redisAddr"`
	Watchdog    struct {
		StaleSourceWarnDays     int     `yaml:"staleSourceWarnDays"`
		StaleSourceCriticalDays int     `yaml:"staleSourceCriticalDays"`
		FailureRateWarn         float64 `yaml:"failureRateWarn"`
		FailureRateCritical     float64 `yaml:"failureRateCritical"`
		ConfidenceWarn          float64 `yaml:"confidenceWarn"`
		ConfidenceCritical      float64 `yaml:"confidenceCritical"`
		RejectionRateWarn       float64 `yaml:"rejectionRateWarn"`
		RejectionRateCritical   float64 `yaml:"rejectionRateCritical"`
		DrainerStallWarnMinutes int     `yaml:"drainerStallWarnMinutes"`
		DrainerStallCritMinutes int     `yaml:"drainerStallCriticalMinutes"`
		QueueBacklogWarn        int     `yaml:"queueBacklogWarn"`
		QueueBacklogCritical    int     `yaml:"queueBacklogCritical"`
		DeadLetterWarn          int     `yaml:"deadLetterWarn"`
		DeadLetterCritical      int     `yaml:"deadLetterCritical"`
		AlertDedupWindowMinutes int     `yaml:"alertDedupWindowMinutes"`
	} `yaml:"watchdog"`
	Notify struct {
		SlackWebhookURL string `yaml:"slackWebhookUrl"`
		SlackChannel    string `yaml:"slackChannel"`
		DigestEmail     string `yaml:"digestEmail"`
	} `yaml:"notify"`
}

// LoadOverlay reads and parses a YAML overlay file. Callers apply it onto a
// base Config with ApplyOverlay.
func LoadOverlay(path string) (FileOverlay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileOverlay{}, err
	}
	var overlay FileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return FileOverlay{}, err
	}
	return overlay, nil
}

// ApplyOverlay merges non-zero overlay fields onto cfg and returns the
// result; cfg itself is left untouched.
func ApplyOverlay(cfg Config, overlay FileOverlay) Config {
	if overlay.AIProvider != "" {
		cfg.AIProvider = overlay.AIProvider
		cfg.Extraction.Provider = overlay.AIProvider
		cfg.Embeddings.Provider = overlay.AIProvider
	}
	if overlay.DatabaseURL != "" {
		cfg.DatabaseURL = overlay.DatabaseURL
	}
	if overlay.RedisAddr != "" {
		cfg.RedisAddr = overlay.RedisAddr
	}

	w := &cfg.Watchdog
	ow := overlay.Watchdog
	applyIntOverlay(&w.StaleSourceWarnDays, ow.StaleSourceWarnDays)
	applyIntOverlay(&w.StaleSourceCriticalDays, ow.StaleSourceCriticalDays)
	applyFloatOverlay(&w.FailureRateWarn, ow.FailureRateWarn)
	applyFloatOverlay(&w.FailureRateCritical, ow.FailureRateCritical)
	applyFloatOverlay(&w.ConfidenceWarn, ow.ConfidenceWarn)
	applyFloatOverlay(&w.ConfidenceCritical, ow.ConfidenceCritical)
	applyFloatOverlay(&w.RejectionRateWarn, ow.RejectionRateWarn)
	applyFloatOverlay(&w.RejectionRateCritical, ow.RejectionRateCritical)
	applyIntOverlay(&w.DrainerStallWarnMinutes, ow.DrainerStallWarnMinutes)
	applyIntOverlay(&w.DrainerStallCritMinutes, ow.DrainerStallCritMinutes)
	applyIntOverlay(&w.QueueBacklogWarn, ow.QueueBacklogWarn)
	applyIntOverlay(&w.QueueBacklogCritical, ow.QueueBacklogCritical)
	applyIntOverlay(&w.DeadLetterWarn, ow.DeadLetterWarn)
	applyIntOverlay(&w.DeadLetterCritical, ow.DeadLetterCritical)
	applyIntOverlay(&w.AlertDedupWindowMinutes, ow.AlertDedupWindowMinutes)

	if overlay.Notify.SlackWebhookURL != "" {
		cfg.Notify.SlackWebhookURL = overlay.Notify.SlackWebhookURL
	}
	if overlay.Notify.SlackChannel != "" {
		cfg.Notify.SlackChannel = overlay.Notify.SlackChannel
	}
	if overlay.Notify.DigestEmail != "" {
		cfg.Notify.DigestEmail = overlay.Notify.DigestEmail
	}
	return cfg
}

func applyIntOverlay(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func applyFloatOverlay(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// Load assembles Config from the process environment. OLLAMA_EXTRACT_*
// falls back to OLLAMA_*, then to https://ollama.com + llama3.1;
// OLLAMA_EMBED_* is
// independent with its own default and must never inherit extraction's
// env vars. When CONFIG_FILE names a readable YAML file, its fields
// overlay the env-derived defaults (see FileOverlay); a missing or
// unparsable file is ignored and Load falls back to the environment alone.
func Load() Config {
	cfg := envConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg = overlayFile(cfg, path)
	}
	return cfg
}

// envConfig assembles the environment-only Config, before any file overlay.
func envConfig() Config {
	extractEndpoint := firstNonEmptyEnv("https://ollama.com", "OLLAMA_EXTRACT_ENDPOINT", "OLLAMA_ENDPOINT")
	extractModel := firstNonEmptyEnv("llama3.1", "OLLAMA_EXTRACT_MODEL", "OLLAMA_MODEL")
	extractKey := firstNonEmptyEnv("", "OLLAMA_EXTRACT_API_KEY", "OLLAMA_API_KEY")
	return buildEnvConfig(extractEndpoint, extractModel, extractKey)
}

// overlayFile applies the YAML overlay at path onto cfg, returning cfg
// unchanged when the file is missing or unparsable.
func overlayFile(cfg Config, path string) Config {
	overlay, err := LoadOverlay(path)
	if err != nil {
		return cfg
	}
	return ApplyOverlay(cfg, overlay)
}

func buildEnvConfig(extractEndpoint, extractModel, extractKey string) Config {
	return Config{
		Extraction: LLMConfig{
			Provider:       getenv("AI_PROVIDER", "ollama"),
			Endpoint:       extractEndpoint,
			Model:          extractModel,
			APIKey:         extractKey,
			Timeout:        60 * time.Second,
			MaxContextSize: getenvInt("OLLAMA_EXTRACT_MAX_CONTEXT", 8000),
		},
		Embeddings: LLMConfig{
			Provider: getenv("AI_PROVIDER", "ollama"),
			Endpoint: getenv("OLLAMA_EMBED_ENDPOINT", "http://localhost:11434"),
			Model:    getenv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
			APIKey:   getenv("OLLAMA_EMBED_API_KEY", ""),
			Timeout:  30 * time.Second,
		},
		AIProvider: getenv("AI_PROVIDER", "ollama"),
		Watchdog: WatchdogConfig{
			StaleSourceWarnDays:     getenvInt("WATCHDOG_STALE_SOURCE_WARN_DAYS", 7),
			StaleSourceCriticalDays: getenvInt("WATCHDOG_STALE_SOURCE_CRITICAL_DAYS", 14),
			FailureRateWarn:         getenvFloat("WATCHDOG_FAILURE_RATE_WARN", 0.30),
			FailureRateCritical:     getenvFloat("WATCHDOG_FAILURE_RATE_CRITICAL", 0.50),
			ConfidenceWarn:          getenvFloat("WATCHDOG_CONFIDENCE_WARN", 0.85),
			ConfidenceCritical:      getenvFloat("WATCHDOG_CONFIDENCE_CRITICAL", 0.75),
			RejectionRateWarn:       getenvFloat("WATCHDOG_REJECTION_RATE_WARN", 0.40),
			RejectionRateCritical:   getenvFloat("WATCHDOG_REJECTION_RATE_CRITICAL", 0.60),
			DrainerStallWarnMinutes: getenvInt("WATCHDOG_DRAINER_STALL_WARN_MINUTES", 15),
			DrainerStallCritMinutes: getenvInt("WATCHDOG_DRAINER_STALL_CRITICAL_MINUTES", 30),
			QueueBacklogWarn:        getenvInt("WATCHDOG_QUEUE_BACKLOG_WARN", 100),
			QueueBacklogCritical:    getenvInt("WATCHDOG_QUEUE_BACKLOG_CRITICAL", 500),
			DeadLetterWarn:          getenvInt("WATCHDOG_DEAD_LETTER_WARN", 10),
			DeadLetterCritical:      getenvInt("WATCHDOG_DEAD_LETTER_CRITICAL", 50),
			AlertDedupWindowMinutes: getenvInt("ALERT_DEDUP_WINDOW_MINUTES", 60),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: getenv("SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getenv("SLACK_CHANNEL", ""),
			DigestEmail:     getenv("TRUTH_DIGEST_EMAIL", ""),
		},
		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
	}
}
