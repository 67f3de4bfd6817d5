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

// server is the pipeline's HTTP surface: /healthz, /metrics (Prometheus),
// and the webhook intake endpoint, with source-scoped webhook.NewHandler
// instances mounted under a chi router. It also runs the stage worker
// pools that drain the queues the webhook handler feeds.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Wandeon/FiskAI-App-sub004/internal/bootstrap"
	"github.com/Wandeon/FiskAI-App-sub004/internal/config"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/hashing"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/webhook"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/workerpool"
)

// webhookSink turns a verified webhook's resolved URLs into fetch jobs on
// the "fetch" queue. Enqueue must stay fast since it runs on the HTTP
// request path.
type webhookSink struct {
	q   queue.Queue
	log *zap.Logger
}

func (s *webhookSink) Enqueue(sourceID string, event webhook.ParsedEvent) error {
	for _, u := range event.URLs {
		body, err := json.Marshal(map[string]string{"sourceId": sourceID, "url": u})
		if err != nil {
			return err
		}
		// Deterministic job id: a replayed webhook for the same URL on the
		// same day dedups into the existing pending fetch.
		jobID := "fetch-" + sourceID + "-" + time.Now().UTC().Format("2006-01-02") + "-" + hashing.Hash8(u)
		if _, err := s.q.Enqueue(context.Background(), "fetch", body, queue.EnqueueOptions{JobID: jobID}); err != nil {
			return err
		}
	}
	s.log.Info("webhook: enqueued fetch jobs", zap.String("sourceId", sourceID), zap.Int("urls", len(event.URLs)))
	return nil
}

func main() {
	ctx := context.Background()
	app, err := bootstrap.Build(ctx)
	if err != nil {
		panic(err)
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST", "GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	sink := &webhookSink{q: app.Queue, log: app.Zap}
	r.Post("/webhooks/{sourceId}", func(w http.ResponseWriter, req *http.Request) {
		sourceID := chi.URLParam(req, "sourceId")
		handler := webhook.NewHandler(sourceID, webhookConfigFor(sourceID), sink, app.Zap)
		handler.ServeHTTP(w, req)
	})

	// dispatcherCtx drives the stage pools: one bounded worker pool per
	// stage, consuming "fetch" jobs this process's own webhook handler
	// enqueues (and every job stage after it) until shutdown.
	dispatcherCtx, cancelDispatcher := context.WithCancel(ctx)

	// With a CONFIG_FILE overlay configured, watch it so watchdog threshold
	// edits take effect without a restart.
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		go func() {
			err := config.Watch(dispatcherCtx, path, app.Log, func(c config.Config) {
				app.Watchdog.SetConfig(c.Watchdog)
				app.Log.Info("server: watchdog thresholds reloaded from config overlay")
			})
			if err != nil {
				app.Log.WithError(err).Warn("server: config watcher stopped")
			}
		}()
	}
	dispatcher := workerpool.New(app.Queue, app.Log)
	for _, stage := range app.PipelineStages(uuid.NewString()) {
		dispatcher.AddStage(stage)
	}
	go func() {
		if err := dispatcher.Run(dispatcherCtx); err != nil {
			app.Log.WithError(err).Warn("server: dispatcher stopped")
		}
	}()

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		app.Log.Info("server: shutting down")
		cancelDispatcher()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.Log.WithField("addr", srv.Addr).Info("server: listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.Log.WithError(err).Fatal("server: failed")
	}
}

// webhookConfigFor resolves per-source webhook signing config. Source
// registration (secret/algorithm per sourceId) is out of this gateway's
// scope, so every source currently shares the WEBHOOK_SECRET env var with
// SHA-256 default.
func webhookConfigFor(_ string) webhook.Config {
	return webhook.Config{Secret: os.Getenv("WEBHOOK_SECRET")}
}
