package runbook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/sentryfrogg/engine/internal/dynvalue"
	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// scope is the compiled set of addressable roots a step's templates and
// predicates evaluate against (spec §4.8 "Addressable scopes").
type scope struct {
	Input   map[string]interface{}
	Steps   map[string]interface{}
	State   map[string]interface{}
	Env     map[string]interface{}
	Context map[string]interface{}
}

func (s *scope) asValue() dynvalue.Value {
	return map[string]interface{}{
		"input":   s.Input,
		"steps":   s.Steps,
		"state":   s.State,
		"env":     s.Env,
		"context": s.Context,
	}
}

// newScopeVM builds a fresh, sandboxed goja runtime for one template or
// predicate evaluation: no require, no filesystem/network globals, just the
// compiled scope bound by name (SPEC_FULL §5.8).
func newScopeVM(s *scope) *goja.Runtime {
	vm := goja.New()
	_ = vm.Set("input", s.Input)
	_ = vm.Set("steps", s.Steps)
	_ = vm.Set("state", s.State)
	_ = vm.Set("env", s.Env)
	_ = vm.Set("context", s.Context)
	return vm
}

var templatePattern = regexp.MustCompile(`\{\{\s*(\??)\s*(.*?)\s*\}\}`)

// missingPolicy controls how an unresolved template expression renders.
type missingPolicy string

const (
	missingError     missingPolicy = "error"
	missingEmpty     missingPolicy = "empty"
	missingNull      missingPolicy = "null"
	missingUndefined missingPolicy = "undefined"
)

func missingReplacement(policy missingPolicy) interface{} {
	switch policy {
	case missingNull, missingUndefined:
		return nil
	default:
		return ""
	}
}

// expandTemplates recursively expands `{{ expr }}` (required-resolve) and
// `{{ ?expr }}` (optional-resolve) placeholders in every string reached by
// walking v, evaluating expr as a JavaScript expression against s. A value
// that is exactly one placeholder (nothing else in the string) keeps the
// expression's native type; a value with surrounding text renders to a
// string (spec §4.8 "Template expansion").
func expandTemplates(v dynvalue.Value, s *scope, policy missingPolicy) (dynvalue.Value, error) {
	if policy == "" {
		policy = missingError
	}
	var walkErr error
	out := dynvalue.Walk(v, func(_ string, val dynvalue.Value) dynvalue.Value {
		if walkErr != nil {
			return val
		}
		str, ok := dynvalue.IsString(val)
		if !ok {
			return val
		}
		expanded, err := expandString(str, s, policy)
		if err != nil {
			walkErr = err
			return val
		}
		return expanded
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

func expandString(str string, s *scope, policy missingPolicy) (interface{}, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(str, -1)
	if matches == nil {
		return str, nil
	}

	// A string that is nothing but one placeholder preserves the
	// expression's native (possibly non-string) type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(str) {
		m := matches[0]
		optional := str[m[2]:m[3]] == "?"
		expr := str[m[4]:m[5]]
		val, missing, err := evalExpr(expr, s)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidParams, "template_eval_failed", fmt.Sprintf("failed to evaluate template expression %q", expr), err)
		}
		if missing {
			if !optional && policy == missingError {
				return nil, apperr.New(apperr.InvalidParams, "template_missing", "template expression resolved to nothing").
					WithDetails("expr", expr)
			}
			return missingReplacement(policy), nil
		}
		return val, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(str[last:m[0]])
		optional := str[m[2]:m[3]] == "?"
		expr := str[m[4]:m[5]]
		val, missing, err := evalExpr(expr, s)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidParams, "template_eval_failed", fmt.Sprintf("failed to evaluate template expression %q", expr), err)
		}
		if missing {
			if !optional && policy == missingError {
				return nil, apperr.New(apperr.InvalidParams, "template_missing", "template expression resolved to nothing").
					WithDetails("expr", expr)
			}
			repl := missingReplacement(policy)
			if repl == nil {
				b.WriteString("")
			} else {
				b.WriteString(fmt.Sprint(repl))
			}
		} else {
			b.WriteString(stringifyForInterpolation(val))
		}
		last = m[1]
	}
	b.WriteString(str[last:])
	return b.String(), nil
}

func stringifyForInterpolation(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// evalExpr runs expr against s's compiled scope in a fresh VM, returning
// (value, missing, error). "Missing" covers JS undefined and null, a thrown
// ReferenceError for an unknown root name, and the TypeError thrown when
// reading a property of undefined or null, which is how `steps.x.y` reads
// when `steps.x` doesn't exist yet. Integral numbers come back as float64,
// the type JSON decoding gives every number elsewhere in the engine.
func evalExpr(expr string, s *scope) (interface{}, bool, error) {
	vm := newScopeVM(s)
	result, err := vm.RunString("(" + expr + ")")
	if err != nil {
		if isReferenceError(err) {
			return nil, true, nil
		}
		return nil, false, err
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, true, nil
	}
	exported := result.Export()
	if i, ok := exported.(int64); ok {
		return float64(i), false, nil
	}
	return exported, false, nil
}

func isReferenceError(err error) bool {
	var ex *goja.Exception
	if e, ok := err.(*goja.Exception); ok {
		ex = e
	}
	if ex == nil {
		return false
	}
	msg := ex.Error()
	if strings.Contains(msg, "ReferenceError") {
		return true
	}
	return strings.Contains(msg, "TypeError") &&
		(strings.Contains(msg, "of undefined") || strings.Contains(msg, "of null"))
}

// evaluatePredicate implements spec §4.8's predicate operators for `when`
// and `retry.until`, reading p.Path out of s via dynvalue.
func evaluatePredicate(p model.Predicate, s *scope) (bool, error) {
	actual, found := dynvalue.Get(s.asValue(), p.Path)

	switch p.Op {
	case "exists":
		return found, nil
	case "equals":
		return found && looseEqual(actual, p.Value), nil
	case "not_equals":
		return !found || !looseEqual(actual, p.Value), nil
	case "in":
		items, ok := dynvalue.AsSlice(p.Value)
		if !ok {
			return false, apperr.InvalidParam("value", "predicate op 'in' requires an array value")
		}
		for _, item := range items {
			if looseEqual(actual, item) {
				return true, nil
			}
		}
		return false, nil
	case "matches":
		str, ok := dynvalue.IsString(actual)
		if !ok {
			return false, nil
		}
		pattern, ok := dynvalue.IsString(p.Value)
		if !ok {
			return false, apperr.InvalidParam("value", "predicate op 'matches' requires a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, apperr.Wrap(apperr.InvalidParams, "predicate_bad_pattern", "invalid regular expression", err)
		}
		return re.MatchString(str), nil
	case "gt", "gte", "lt", "lte":
		if !found {
			return false, nil
		}
		a, aok := toFloat(actual)
		b, bok := toFloat(p.Value)
		if !aok || !bok {
			return false, apperr.InvalidParam("value", "predicate comparison requires numeric operands")
		}
		switch p.Op {
		case "gt":
			return a > b, nil
		case "gte":
			return a >= b, nil
		case "lt":
			return a < b, nil
		default:
			return a <= b, nil
		}
	default:
		return false, apperr.InvalidParam("op", "unknown predicate operator")
	}
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
