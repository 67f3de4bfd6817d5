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

package dsl

import (
	"fmt"

	"github.com/itchyny/gojq"
)

// Evaluate runs a validated Applies-When expression against a context
// (named fields such as buyer_type, amount, jurisdiction) and reports
// whether the rule applies. Callers must Validate (or ValidateOrFallback)
// expr before evaluating it; Evaluate does not re-validate.
func Evaluate(expr map[string]any, context map[string]any) (bool, error) {
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
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "not":
		sub := args.(map[string]any)
		v, err := Evaluate(sub, context)
		return !v, err
	case "and":
		for _, item := range args.([]any) {
			v, err := Evaluate(item.(map[string]any), context)
			if err != nil || !v {
				return false, err
			}
		}
		return true, nil
	case "or":
		for _, item := range args.([]any) {
			v, err := Evaluate(item.(map[string]any), context)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil
	case "eq", "neq", "gt", "gte", "lt", "lte", "in":
		list := args.([]any)
		field := list[0].(string)
		actual, err := fieldValue(field, context)
		if err != nil {
			return false, err
		}
		return compare(op, actual, list[1])
	case "between":
		list := args.([]any)
		field := list[0].(string)
		actual, err := fieldValue(field, context)
		if err != nil {
			return false, err
		}
		low, lowOK := compareNumeric(actual, list[1])
		high, highOK := compareNumeric(actual, list[2])
		if !lowOK || !highOK {
			return false, fmt.Errorf("applies-when: between requires numeric operands")
		}
		return low >= 0 && high <= 0, nil
	default:
		return false, fmt.Errorf("applies-when: unknown operator %q", op)
	}
}

// fieldValue extracts field from context using gojq, which gives the
// evaluator a uniform path-extraction mechanism even as the context shape
// grows beyond flat string keys (nested buyer/jurisdiction objects).
func fieldValue(field string, context map[string]any) (any, error) {
	query, err := gojq.Parse("." + field)
	if err != nil {
		return nil, fmt.Errorf("applies-when: invalid field path %q: %w", field, err)
	}
	iter := query.Run(context)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}

func compare(op string, actual, expected any) (bool, error) {
	switch op {
	case "eq":
		return fmt.Sprint(actual) == fmt.Sprint(expected), nil
	case "neq":
		return fmt.Sprint(actual) != fmt.Sprint(expected), nil
	case "in":
		list, ok := expected.([]any)
		if !ok {
			return false, fmt.Errorf("applies-when: in expects a list operand")
		}
		for _, item := range list {
			if fmt.Sprint(item) == fmt.Sprint(actual) {
				return true, nil
			}
		}
		return false, nil
	case "gt", "gte", "lt", "lte":
		cmp, ok := compareNumeric(actual, expected)
		if !ok {
			return false, fmt.Errorf("applies-when: %q requires numeric operands", op)
		}
		switch op {
		case "gt":
			return cmp > 0, nil
		case "gte":
			return cmp >= 0, nil
		case "lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return false, fmt.Errorf("applies-when: unsupported comparison %q", op)
}

// compareNumeric returns sign(actual-expected) when both convert cleanly to
// float64, and ok=false otherwise.
func compareNumeric(actual, expected any) (sign int, ok bool) {
	a, aok := toFloat(actual)
	b, bok := toFloat(expected)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case a > b:
		return 1, true
	case a < b:
		return -1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
