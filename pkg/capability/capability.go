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

// Package capability implements the capability-driven action executor. It
// validates and dispatches a business action through an ordered gate
// sequence (session -> handler -> user context -> capability state ->
// action enablement -> dispatch), gating real business actions on
// resolved, per-entity permission/workflow state rather than a static role
// check. The handler registry is an explicit construct-at-startup value,
// never a process-wide global, so tests can build a fresh one per case.
package capability

import (
	"context"
	"fmt"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
)

// Session is the minimal authenticated-session surface the executor needs:
// a present, non-empty UserID. A nil Session models "no session".
type Session struct {
	UserID string
}

// CapabilityStateName is the resolved state of a capability for a given
// entity.
type CapabilityStateName string

const (
	StateReady          CapabilityStateName = "READY"
	StateBlocked        CapabilityStateName = "BLOCKED"
	StateUnauthorized   CapabilityStateName = "UNAUTHORIZED"
	StateMissingInputs  CapabilityStateName = "MISSING_INPUTS"
)

// Blocker is one reason a capability is BLOCKED for an entity.
type Blocker struct {
	Type       string
	Message    string
	Resolution string
}

// ActionAvailability is one action's enabled/disabled status within a
// resolved capability.
type ActionAvailability struct {
	Enabled        bool
	DisabledReason string
}

// CapabilityState is what ResolveCapabilityState returns for
// (capabilityID, entity).
type CapabilityState struct {
	State    CapabilityStateName
	Blockers []Blocker
	Actions  map[string]ActionAvailability
}

// CapabilityResolver resolves a capability's current state for an entity.
// Implementations wrap the domain's workflow/permission model; this
// package only consumes the resolved state.
type CapabilityResolver interface {
	ResolveCapabilityState(ctx context.Context, capabilityID, entityID, entityType string) (CapabilityState, error)
}

// UserContext is a user's default company membership and permission set,
// resolved once per Execute call (gate 3).
type UserContext struct {
	CompanyID   string
	Permissions []string
}

// UserContextResolver resolves a user's default company context. ok=false
// (with no error) means the user has no company context available.
type UserContextResolver interface {
	ResolveUserContext(ctx context.Context, userID string) (UserContext, bool, error)
}

// ActionContext is the context a Handler receives, built from the
// resolved session/company/capability state.
type ActionContext struct {
	UserID      string
	CompanyID   string
	EntityID    string
	EntityType  string
	Permissions []string
}

// Handler performs a single business action. handlerParams is
// {"id": entityID, ...params} when entityID is non-empty, else params
// verbatim.
type Handler func(ctx context.Context, actx ActionContext, handlerParams map[string]any) (any, error)

// handlerKey identifies one (capabilityID, actionId) pair in the registry.
type handlerKey struct {
	CapabilityID string
	ActionID     string
}

// Registry is the explicit, construct-at-startup handler registry (no
// process-wide global, per the "Global registry singletons" design note).
type Registry struct {
	handlers map[handlerKey]Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[handlerKey]Handler)}
}

// Register adds a handler for (capabilityID, actionID), overwriting any
// prior registration for the same pair.
func (r *Registry) Register(capabilityID, actionID string, h Handler) {
	r.handlers[handlerKey{capabilityID, actionID}] = h
}

func (r *Registry) lookup(capabilityID, actionID string) (Handler, bool) {
	h, ok := r.handlers[handlerKey{capabilityID, actionID}]
	return h, ok
}

// ExecuteRequest is one Execute call's input.
type ExecuteRequest struct {
	CapabilityID string
	ActionID     string
	EntityID     string
	EntityType   string
	Params       map[string]any
}

// ActionResult is the executor's user-visible outcome: success plus data,
// or a typed code with message and optional details.
type ActionResult struct {
	Success bool
	Code    errs.Code
	Error   string
	Details map[string]any
	Data    any
}

func failure(code errs.Code, message string, details map[string]any) ActionResult {
	return ActionResult{Success: false, Code: code, Error: message, Details: details}
}

// Executor runs the ordered gate sequence and dispatches to the
// registered handler.
type Executor struct {
	registry  *Registry
	users     UserContextResolver
	resolvers map[string]CapabilityResolver
}

// New constructs an Executor. resolvers maps capabilityID to the
// CapabilityResolver responsible for it (each capability may have its own
// workflow/permission backing).
func New(registry *Registry, users UserContextResolver, resolvers map[string]CapabilityResolver) *Executor {
	return &Executor{registry: registry, users: users, resolvers: resolvers}
}

// Execute runs the ordered gate chain (session -> handler -> user context
// -> capability state -> action enablement -> dispatch), returning the
// first gate's failure as an ActionResult, or the handler's result on
// success.
func (e *Executor) Execute(ctx context.Context, sess *Session, req ExecuteRequest) ActionResult {
	// Gate 1: session present and session.user.id set.
	if sess == nil || sess.UserID == "" {
		return failure(errs.Unauthorized, "Authentication required", nil)
	}

	// Gate 2: handler registry lookup.
	handler, found := e.registry.lookup(req.CapabilityID, req.ActionID)
	if !found {
		return failure(errs.NotFound, "No handler registered for this action", nil)
	}

	// Gate 3: resolve user's default company membership and permissions.
	if e.users == nil {
		return failure(errs.Unauthorized, "No company context available", nil)
	}
	userCtx, ok, err := e.users.ResolveUserContext(ctx, sess.UserID)
	if err != nil {
		return failure(errs.InternalError, err.Error(), nil)
	}
	if !ok {
		return failure(errs.Unauthorized, "No company context available", nil)
	}

	// Gate 4: resolve capability state for (capabilityId, entity).
	resolver, ok := e.resolvers[req.CapabilityID]
	if !ok {
		return failure(errs.NotFound, fmt.Sprintf("capability %s is not registered", req.CapabilityID), nil)
	}
	state, err := resolver.ResolveCapabilityState(ctx, req.CapabilityID, req.EntityID, req.EntityType)
	if err != nil {
		return failure(errs.InternalError, err.Error(), nil)
	}
	switch state.State {
	case StateBlocked:
		if len(state.Blockers) == 0 {
			return failure(errs.CapabilityBlocked, "Action is not available", nil)
		}
		b := state.Blockers[0]
		return failure(errs.CapabilityBlocked, b.Message, map[string]any{
			"blockerType": b.Type,
			"resolution":  b.Resolution,
		})
	case StateUnauthorized:
		return failure(errs.Unauthorized, "Not authorized to perform this action", nil)
	case StateMissingInputs:
		return failure(errs.ValidationError, "Required inputs are missing", nil)
	}

	// Gate 5: action lookup/enablement within the resolved capability.
	action, ok := state.Actions[req.ActionID]
	if !ok || !action.Enabled {
		msg := "Action is not available"
		if ok && action.DisabledReason != "" {
			msg = action.DisabledReason
		}
		return failure(errs.CapabilityBlocked, msg, nil)
	}

	// Gate 6: build context and dispatch.
	actx := ActionContext{
		UserID:      sess.UserID,
		CompanyID:   userCtx.CompanyID,
		EntityID:    req.EntityID,
		EntityType:  req.EntityType,
		Permissions: userCtx.Permissions,
	}
	handlerParams := req.Params
	if req.EntityID != "" {
		merged := map[string]any{"id": req.EntityID}
		for k, v := range req.Params {
			merged[k] = v
		}
		handlerParams = merged
	}

	data, err := e.dispatch(ctx, handler, actx, handlerParams)
	if err != nil {
		return failure(errs.InternalError, err.Error(), nil)
	}
	return ActionResult{Success: true, Data: data}
}

// dispatch invokes handler, recovering from a panic into an
// INTERNAL_ERROR so a single misbehaving handler never brings down the
// caller.
func (e *Executor) dispatch(ctx context.Context, h Handler, actx ActionContext, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if asErr, ok := r.(error); ok {
				err = asErr
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	return h(ctx, actx, params)
}

// BatchExecuteRequest runs one capability/action across many entities.
type BatchExecuteRequest struct {
	CapabilityID    string
	ActionID        string
	EntityType      string
	EntityIDs       []string
	Params          map[string]any
	// ContinueOnError defaults to true when left nil; set to a pointer to
	// false to stop the batch at the first failure.
	ContinueOnError *bool
}

// BatchItemResult is one entity's outcome within a batch run.
type BatchItemResult struct {
	EntityID string
	Success  bool
	Data     any
	Error    string
	Code     errs.Code
}

// BatchResult aggregates a batch run's outcome.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []BatchItemResult
}

// ExecuteBatch sequences Execute over req.EntityIDs in the supplied
// order, never in parallel, to preserve rate-limit and ordering. The
// session check is performed once, upfront: an authentication failure
// short-circuits the whole batch into a single UNAUTHORIZED item rather
// than repeating the check per entity.
func (e *Executor) ExecuteBatch(ctx context.Context, sess *Session, req BatchExecuteRequest) BatchResult {
	if sess == nil || sess.UserID == "" {
		r := failure(errs.Unauthorized, "Authentication required", nil)
		return BatchResult{
			Total: 1, Failed: 1,
			Results: []BatchItemResult{{Success: false, Error: r.Error, Code: r.Code}},
		}
	}

	continueOnError := true
	if req.ContinueOnError != nil {
		continueOnError = *req.ContinueOnError
	}
	out := BatchResult{Total: len(req.EntityIDs)}
	for _, id := range req.EntityIDs {
		res := e.Execute(ctx, sess, ExecuteRequest{
			CapabilityID: req.CapabilityID,
			ActionID:     req.ActionID,
			EntityID:     id,
			EntityType:   req.EntityType,
			Params:       req.Params,
		})
		item := BatchItemResult{EntityID: id, Success: res.Success, Data: res.Data, Error: res.Error, Code: res.Code}
		out.Results = append(out.Results, item)
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
			if !continueOnError {
				break
			}
		}
	}
	return out
}
