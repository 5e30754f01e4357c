// Package runbook implements the Runbook Engine of spec §4.8: a declarative
// multi-step interpreter with template expansion, conditional/until retries,
// and per-step result addressing. Grounded on the teacher's TEE script
// engine (system/tee/script_engine.go), which creates a fresh goja.New()
// runtime per script execution for isolation; this package applies the same
// one-VM-per-evaluation idiom to template/predicate expressions instead of
// whole user scripts.
package runbook

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/logging"
	"github.com/sentryfrogg/engine/internal/statestore"
)

// StepStatus is the terminal or in-flight state of one step (spec §4.8
// "Pending → Running → {Succeeded | Retrying | Failed}").
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepRetrying  StepStatus = "retrying"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult is what a completed step contributes to `steps.<id>.*` and to
// the overall RunResult.
type StepResult struct {
	Status   StepStatus  `json:"status"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Attempts int         `json:"attempts"`
}

// RunResult is the outcome of one Run call.
type RunResult struct {
	Succeeded bool                  `json:"succeeded"`
	Steps     map[string]StepResult `json:"steps"`
}

// Dispatcher is the subset of internal/dispatcher a runbook step needs: one
// tool invocation, already normalized and audited by the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error)
}

// Engine runs Runbook programs against a Dispatcher and a state store.
type Engine struct {
	dispatcher    Dispatcher
	state         *statestore.Store
	log           *logging.Logger
	missingPolicy missingPolicy
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithTemplateMissingPolicy overrides the default `template_missing='error'`
// policy (spec §4.8 "Template expansion").
func WithTemplateMissingPolicy(policy string) Option {
	return func(e *Engine) { e.missingPolicy = missingPolicy(policy) }
}

func New(dispatcher Dispatcher, state *statestore.Store, log *logging.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logging.Default()
	}
	e := &Engine{dispatcher: dispatcher, state: state, log: log, missingPolicy: missingError}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes rb's steps in order against input, stopping at the first
// step that fails with stop_on_error in effect (spec §4.8).
func (e *Engine) Run(ctx context.Context, rb model.Runbook, input map[string]interface{}) (RunResult, error) {
	s, err := e.compileScope(input)
	if err != nil {
		return RunResult{}, err
	}

	if rb.When != nil {
		hold, err := evaluatePredicate(*rb.When, s)
		if err != nil {
			return RunResult{}, err
		}
		if !hold {
			return RunResult{Succeeded: true, Steps: map[string]StepResult{}}, nil
		}
	}

	result := RunResult{Steps: make(map[string]StepResult, len(rb.Steps)), Succeeded: true}
	for _, step := range rb.Steps {
		if err := ctx.Err(); err != nil {
			return result, apperr.Wrap(apperr.Timeout, "runbook_canceled", "context canceled before step completed", err)
		}

		if step.When != nil {
			hold, err := evaluatePredicate(*step.When, s)
			if err != nil {
				result.Succeeded = false
				result.Steps[step.ID] = StepResult{Status: StepFailed, Error: err.Error()}
				return result, err
			}
			if !hold {
				result.Steps[step.ID] = StepResult{Status: StepSkipped}
				continue
			}
		}

		sr := e.runStep(ctx, step, s)
		result.Steps[step.ID] = sr
		s.Steps[step.ID] = stepResultForScope(sr)

		if sr.Status == StepFailed {
			result.Succeeded = false
			stop := true
			if step.StopOnError != nil {
				stop = *step.StopOnError
			}
			if stop {
				return result, apperr.New(apperr.Internal, "runbook_step_failed", "step failed and halted the runbook").
					WithDetails("step_id", step.ID).WithDetails("error", sr.Error)
			}
		}
	}
	return result, nil
}

// stepResultForScope is what `steps.<id>.*` addresses: the tool's own
// response on success, or `{error, attempts}` on failure (spec §4.8 "Result
// propagation").
func stepResultForScope(sr StepResult) interface{} {
	if sr.Status == StepFailed {
		return map[string]interface{}{"error": sr.Error, "attempts": sr.Attempts}
	}
	if m, ok := sr.Result.(map[string]interface{}); ok {
		return m
	}
	return sr.Result
}

func (e *Engine) runStep(ctx context.Context, step model.Step, s *scope) StepResult {
	policy := e.missingPolicy
	attempts := 0
	maxAttempts := 1
	var delay time.Duration
	var until *model.Predicate
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		delay = time.Duration(step.Retry.DelayMS) * time.Millisecond
		until = step.Retry.Until
	}

	var lastErr string
	for {
		attempts++
		expandedAny, err := expandTemplates(step.Args, s, policy)
		if err != nil {
			return StepResult{Status: StepFailed, Error: err.Error(), Attempts: attempts}
		}
		args, _ := expandedAny.(map[string]interface{})

		res, dispatchErr := e.dispatcher.Dispatch(ctx, step.Tool, args)
		if dispatchErr == nil {
			if until != nil {
				scratch := *s
				scratch.Steps = mergeStepsForCheck(s.Steps, step.ID, res)
				hold, predErr := evaluatePredicate(*until, &scratch)
				if predErr != nil {
					return StepResult{Status: StepFailed, Error: predErr.Error(), Attempts: attempts}
				}
				if hold {
					return StepResult{Status: StepSucceeded, Result: res, Attempts: attempts}
				}
				if attempts >= maxAttempts {
					return StepResult{Status: StepFailed, Error: "retry.until never held", Attempts: attempts}
				}
				if !sleepOrCanceled(ctx, delay) {
					return StepResult{Status: StepFailed, Error: "context canceled during retry delay", Attempts: attempts}
				}
				continue
			}
			return StepResult{Status: StepSucceeded, Result: res, Attempts: attempts}
		}

		lastErr = dispatchErr.Error()
		if attempts >= maxAttempts {
			return StepResult{Status: StepFailed, Error: lastErr, Attempts: attempts}
		}
		if !sleepOrCanceled(ctx, delay) {
			return StepResult{Status: StepFailed, Error: "context canceled during retry delay", Attempts: attempts}
		}
	}
}

func mergeStepsForCheck(steps map[string]interface{}, id string, res map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(steps)+1)
	for k, v := range steps {
		out[k] = v
	}
	out[id] = res
	return out
}

func sleepOrCanceled(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// compileScope builds the initial addressable scope (spec §4.8 "Addressable
// scopes"): input is the caller's argument, steps starts empty and fills in
// as each step completes, state is snapshotted from the store, env is the
// process environment, and context is reserved for host-supplied values
// (currently empty; no host wiring exists yet in this engine).
func (e *Engine) compileScope(input map[string]interface{}) (*scope, error) {
	s := &scope{
		Input:   input,
		Steps:   map[string]interface{}{},
		State:   map[string]interface{}{"session": map[string]interface{}{}, "persistent": map[string]interface{}{}},
		Env:     envMap(),
		Context: map[string]interface{}{},
	}
	if input == nil {
		s.Input = map[string]interface{}{}
	}
	if e.state == nil {
		return s, nil
	}

	session, err := e.state.List(model.ScopeSession)
	if err != nil {
		return nil, err
	}
	s.State["session"] = flattenEntries(session)

	persistent, err := e.state.List(model.ScopePersistent)
	if err != nil {
		return nil, err
	}
	s.State["persistent"] = flattenEntries(persistent)
	return s, nil
}

func flattenEntries(entries map[string]model.StateEntry) map[string]interface{} {
	out := make(map[string]interface{}, len(entries))
	for k, v := range entries {
		out[k] = v.Value
	}
	return out
}

func envMap() map[string]interface{} {
	out := map[string]interface{}{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}
