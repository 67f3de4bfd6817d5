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

// Package dsl implements the Applies-When expression language: a small JSON
// boolean/comparison language the Composer validates into a Rule and the
// capability/workflow layer can later evaluate against a concrete context.
package dsl

import (
	"fmt"
)

// MaxDepth bounds expression recursion.
const MaxDepth = 16

// TrivialAccept is substituted for any expression that fails validation:
// invalid expressions are replaced, never rejected.
var TrivialAccept = map[string]any{"op": "true"}

// Fields is the closed field vocabulary this deployment's Applies-When
// expressions may reference. An unknown field is a validation error, not a
// silent no-match.
var Fields = map[string]bool{
	"buyer_type":      true,
	"jurisdiction":    true,
	"effective_date":  true,
	"amount":          true,
	"currency":        true,
	"vat_registered":  true,
}

// arity gives the expected number of arguments for each operator, where
// "field+value" ops take a field name plus one (or two, for between) value
// argument, and boolean combinators take one or more sub-expressions.
const (
	arityUnary  = 1 // not
	arityBinary = 2 // eq, neq, gt, gte, lt, lte, in
	arityBetween = 3 // between: field, low, high
)

// Validate checks an Applies-When expression: exactly one op field,
// correct arity, string field names, and bounded recursion depth.
func Validate(expr map[string]any) error {
	return validateDepth(expr, 0)
}

func validateDepth(expr map[string]any, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("applies-when: recursion depth exceeds %d", MaxDepth)
	}
	if len(expr) != 1 {
		return fmt.Errorf("applies-when: expression must have exactly one op field, got %d", len(expr))
	}

	var op string
	var args any
	for k, v := range expr {
		op, args = k, v
	}
	if op == "op" {
		if s, ok := args.(string); ok && (s == "true" || s == "false") {
			op = s
		}
	}

	switch op {
	case "true", "false":
		return nil
	case "not":
		sub, ok := args.(map[string]any)
		if !ok {
			return fmt.Errorf("applies-when: %q expects a single sub-expression", op)
		}
		return validateDepth(sub, depth+1)
	case "and", "or":
		list, ok := args.([]any)
		if !ok || len(list) == 0 {
			return fmt.Errorf("applies-when: %q expects a non-empty list of sub-expressions", op)
		}
		for _, item := range list {
			sub, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("applies-when: %q list item is not an expression object", op)
			}
			if err := validateDepth(sub, depth+1); err != nil {
				return err
			}
		}
		return nil
	case "eq", "neq", "gt", "gte", "lt", "lte", "in":
		return validateFieldValueArgs(op, args, 2)
	case "between":
		return validateFieldValueArgs(op, args, 3)
	default:
		return fmt.Errorf("applies-when: unknown operator %q", op)
	}
}

func validateFieldValueArgs(op string, args any, wantLen int) error {
	list, ok := args.([]any)
	if !ok || len(list) != wantLen {
		return fmt.Errorf("applies-when: %q expects %d arguments, got arity mismatch", op, wantLen)
	}
	field, ok := list[0].(string)
	if !ok {
		return fmt.Errorf("applies-when: %q's first argument (field) must be a string", op)
	}
	if !Fields[field] {
		return fmt.Errorf("applies-when: unknown field %q", field)
	}
	return nil
}

// ValidateOrFallback validates expr and returns it unchanged if valid;
// otherwise it returns TrivialAccept and a note describing the auto-fix,
// matching the Composer's "replace, don't reject" policy.
func ValidateOrFallback(expr map[string]any) (map[string]any, string) {
	if err := Validate(expr); err != nil {
		return TrivialAccept, fmt.Sprintf("applies-when auto-fixed to {op:true}: %v", err)
	}
	return expr, ""
}
