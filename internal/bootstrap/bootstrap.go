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

// Package bootstrap wires the process-wide dependency graph shared by every
// cmd/ entry point: config, logging, the Postgres store, the Redis-backed
// queue and circuit breaker, the LLM runner, and the pipeline components.
// Keeping this in one place means cmd/truthctl and cmd/server never
// duplicate how a component gets constructed.
package bootstrap

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/Wandeon/FiskAI-App-sub004/internal/config"
	"github.com/Wandeon/FiskAI-App-sub004/internal/obslog"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/audit"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/circuitbreaker"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/composer"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/extractor"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/fetch"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/llmrunner"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/notify"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/queue"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/releaser"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/reviewer"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store/postgres"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/watchdog"
)

// defaultDomainAllowList is a representative, closed set of regulatory
// domain categories for the EXTRACTOR's domain guard; the full ontology
// lives outside this service.
var defaultDomainAllowList = extractor.DomainAllowList{
	"vat_rate":            true,
	"vat_threshold":       true,
	"reporting_deadline":  true,
	"penalty_amount":      true,
	"exemption_threshold": true,
}

// staticAuthorityResolver always returns GUIDANCE. A resolver backed by a
// source hierarchy table replaces it once the source ontology is
// modeled.
type staticAuthorityResolver struct{}

func (staticAuthorityResolver) AuthorityFor(string) domain.AuthorityLevel {
	return domain.AuthorityGuidance
}

// App bundles every constructed component a cmd/ entry point dispatches to.
type App struct {
	Config config.Config
	Log    *logrus.Logger
	Zap    *zap.Logger

	Repos   store.Repositories
	Queue   queue.Queue
	Redis   *redis.Client
	Breaker *circuitbreaker.Breaker

	Runner    *llmrunner.Runner
	Extractor *extractor.Extractor
	Composer  *composer.Composer
	Reviewer  *reviewer.Reviewer
	Arbiter   *reviewer.Arbiter
	Releaser  *releaser.Releaser
	Watchdog  *watchdog.Watchdog
	Fanout    *notify.Fanout
}

// Build assembles the full dependency graph from the environment. ctx is
// used only for the Postgres connect/migrate step.
func Build(ctx context.Context) (*App, error) {
	cfg := config.Load()
	logger := obslog.NewLogrus("info")

	zapLogger, err := zap.NewProduction()
	if err != nil {
		zapLogger = zap.NewNop()
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(db.DB); err != nil {
		return nil, err
	}
	pgStore := postgres.New(db, zapLogger)
	repos := pgStore.Repositories()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	q := queue.NewRedisQueue(redisClient)
	breakerStore := circuitbreaker.NewRedisStore(redisClient)
	breaker := circuitbreaker.New("ollama-extract", breakerStore)

	httpClient, err := llmrunner.NewHTTPClient(cfg.Extraction)
	if err != nil {
		return nil, err
	}
	runner := llmrunner.New(cfg.Extraction.Provider, httpClient, breaker, repos.AgentRuns, nil, logger)

	auditStore := audit.NewDLQFallback(postgres.NewAuditStore(db), redisClient, obslog.NewLogr("info"))

	x := extractor.New(runner, repos.Facts, repos.Evidence, defaultDomainAllowList, nil, false, logger)
	c := composer.New(runner, repos.Facts, repos.Rules, repos.Conflicts, staticAuthorityResolver{}, auditStore, logger)
	rv := reviewer.New(repos.Rules, auditStore, logger)
	arb := reviewer.NewArbiter(repos.Rules, repos.Conflicts, auditStore, logger)
	contentSync := releaser.NewQueueContentSync(q, "content-sync", repos.Rules, repos.Facts, repos.Evidence)
	rl := releaser.New(repos.Rules, repos.Facts, repos.Evidence, repos.Conflicts, repos.Releases, q, contentSync, auditStore, logger)

	fanout := notify.NewFanout(cfg.Notify, logger)
	providers := []watchdog.Provider{
		{Name: "ollama-extract", Endpoint: cfg.Extraction.Endpoint, Local: cfg.Extraction.Provider == "ollama", Breaker: breaker},
	}
	wd := watchdog.New(repos, q, providers, cfg.Watchdog, fanout, logger)

	return &App{
		Config: cfg, Log: logger, Zap: zapLogger,
		Repos: repos, Queue: q, Redis: redisClient, Breaker: breaker,
		Runner: runner, Extractor: x, Composer: c, Reviewer: rv, Arbiter: arb,
		Releaser: rl, Watchdog: wd, Fanout: fanout,
	}, nil
}

// NewFetcher builds a rate-limited Fetcher over this App's evidence
// repository, for cmd/server's webhook-triggered fetch path.
func (a *App) NewFetcher() *fetch.Fetcher {
	limiter := fetch.NewRedisRateLimiter(a.Redis)
	return fetch.NewFetcher(http.DefaultClient, limiter, a.Repos.Evidence, nil, a.Zap)
}
