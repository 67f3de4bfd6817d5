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

// Package circuitbreaker implements the per-provider CLOSED/OPEN/HALF_OPEN
// state machine, persisted in a shared key-value store so every process
// calling the same LLM provider observes the same state.
package circuitbreaker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/metrics"
)

// State is one of the three circuit states.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

const (
	failureThreshold = 5
	failureWindow    = 120 * time.Second
	openDuration     = 300 * time.Second
	kvTTL            = 3600 * time.Second
)

// ProviderState is the persisted shape for one provider's circuit.
type ProviderState struct {
	State               State      `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	OpenedAt            *time.Time `json:"openedAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
}

func initialState() ProviderState {
	return ProviderState{State: Closed}
}

// Store is the shared KV the breaker persists to. redisStore (below) is the
// production implementation; tests use miniredis-backed redis clients so
// the same Store satisfies both.
type Store interface {
	Load(ctx context.Context, key string) (ProviderState, bool, error)
	Save(ctx context.Context, key string, state ProviderState) error
}

// redisStore stores one JSON blob per provider key, with the standard TTL.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing go-redis client as a circuit-breaker Store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Load(ctx context.Context, key string) (ProviderState, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ProviderState{}, false, nil
	}
	if err != nil {
		return ProviderState{}, false, err
	}
	var st ProviderState
	if err := json.Unmarshal(raw, &st); err != nil {
		// Corrupt persisted state is discarded and the provider
		// reinitialized to CLOSED.
		return initialState(), false, nil
	}
	return st, true, nil
}

func (s *redisStore) Save(ctx context.Context, key string, state ProviderState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, raw, kvTTL).Err()
}

// Breaker gates calls to a single external provider.
type Breaker struct {
	provider string
	store    Store
	now      func() time.Time
}

// New constructs a Breaker for provider, persisting through store.
func New(provider string, store Store) *Breaker {
	return &Breaker{provider: provider, store: store, now: time.Now}
}

func (b *Breaker) key() string { return "circuitbreaker:" + b.provider }

// GetState returns the provider's current state, lazily transitioning
// OPEN -> HALF_OPEN when the open duration has elapsed.
func (b *Breaker) GetState(ctx context.Context) (ProviderState, error) {
	st, found, err := b.store.Load(ctx, b.key())
	if err != nil {
		return ProviderState{}, err
	}
	if !found {
		st = initialState()
	}
	if st.State == Open && st.OpenedAt != nil && b.now().Sub(*st.OpenedAt) >= openDuration {
		st.State = HalfOpen
		if err := b.store.Save(ctx, b.key(), st); err != nil {
			return ProviderState{}, err
		}
	}
	metrics.SetCircuitState(b.provider, string(st.State))
	return st, nil
}

// CanCall reports whether a call may proceed: true for CLOSED and HALF_OPEN
// (the single probe), false for OPEN.
func (b *Breaker) CanCall(ctx context.Context) (bool, error) {
	st, err := b.GetState(ctx)
	if err != nil {
		return false, err
	}
	return st.State != Open, nil
}

// RecordSuccess clears the failure counter and (from CLOSED or HALF_OPEN)
// closes the circuit.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	st, err := b.GetState(ctx)
	if err != nil {
		return err
	}
	now := b.now()
	st.State = Closed
	st.ConsecutiveFailures = 0
	st.LastError = ""
	st.OpenedAt = nil
	st.LastSuccessAt = &now
	metrics.SetCircuitState(b.provider, string(st.State))
	return b.store.Save(ctx, b.key(), st)
}

// RecordFailure increments the failure counter (resetting it first if the
// failure window has elapsed since the last failure), opens the circuit at
// the threshold from CLOSED, and immediately reopens from HALF_OPEN.
func (b *Breaker) RecordFailure(ctx context.Context, errMsg string) error {
	st, err := b.GetState(ctx)
	if err != nil {
		return err
	}
	now := b.now()

	if st.LastFailureAt == nil || now.Sub(*st.LastFailureAt) > failureWindow {
		st.ConsecutiveFailures = 0
	}
	st.ConsecutiveFailures++
	st.LastFailureAt = &now
	st.LastError = errMsg

	switch st.State {
	case HalfOpen:
		st.State = Open
		st.OpenedAt = &now
	case Closed:
		if st.ConsecutiveFailures >= failureThreshold {
			st.State = Open
			st.OpenedAt = &now
		}
	}

	metrics.SetCircuitState(b.provider, string(st.State))
	return b.store.Save(ctx, b.key(), st)
}

// Reset forces the circuit back to CLOSED with cleared counters.
func (b *Breaker) Reset(ctx context.Context) error {
	metrics.SetCircuitState(b.provider, string(Closed))
	return b.store.Save(ctx, b.key(), initialState())
}
