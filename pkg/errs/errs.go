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

// Package errs defines the error taxonomy shared across pipeline boundaries.
package errs

import (
	"github.com/go-faster/errors"
)

// Code classifies an error at a system boundary (action executor, release
// gate, LLM runner). Boundaries surface Code rather than raw error strings.
type Code string

const (
	Unauthorized     Code = "UNAUTHORIZED"
	ValidationError  Code = "VALIDATION_ERROR"
	NotFound         Code = "NOT_FOUND"
	CapabilityBlocked Code = "CAPABILITY_BLOCKED"
	PeriodLocked     Code = "PERIOD_LOCKED"
	EntityImmutable  Code = "ENTITY_IMMUTABLE"
	RateLimited      Code = "RATE_LIMITED"
	InternalError    Code = "INTERNAL_ERROR"
)

// Error is the typed error surfaced at every boundary named in the error
// handling design. Details carries boundary-specific structured context
// (e.g. a capability blocker's type and resolution hint).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a boundary error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a boundary Code to an existing error, preserving it as the
// cause via go-faster/errors so the chain still supports errors.Is/As.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: errors.Wrap(cause, message)}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, defaulting to InternalError otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}
