package runbook

import (
	"context"
	"errors"
	"testing"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/statestore"
)

type fakeDispatcher struct {
	calls   []call
	results map[string][]dispatchOutcome
}

type call struct {
	tool string
	args map[string]interface{}
}

type dispatchOutcome struct {
	res map[string]interface{}
	err error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	f.calls = append(f.calls, call{tool, args})
	outcomes := f.results[tool]
	if len(outcomes) == 0 {
		return map[string]interface{}{}, nil
	}
	idx := 0
	for i := 0; i < len(f.calls); i++ {
		if f.calls[i].tool == tool {
			idx++
		}
	}
	idx--
	if idx >= len(outcomes) {
		idx = len(outcomes) - 1
	}
	o := outcomes[idx]
	return o.res, o.err
}

func newTestEngine(d *fakeDispatcher) *Engine {
	return New(d, statestore.New(""), nil)
}

func TestRunSucceedsAndPropagatesStepResultToNextStep(t *testing.T) {
	d := &fakeDispatcher{results: map[string][]dispatchOutcome{
		"fetch": {{res: map[string]interface{}{"id": float64(42)}}},
	}}
	e := newTestEngine(d)

	rb := model.Runbook{Steps: []model.Step{
		{ID: "fetch", Tool: "fetch", Args: map[string]interface{}{"url": "http://x"}},
		{ID: "use", Tool: "use", Args: map[string]interface{}{"val": "{{ steps.fetch.id }}"}},
	}}

	res, err := e.Run(context.Background(), rb, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded {
		t.Fatalf("expected success: %+v", res)
	}
	if len(d.calls) != 2 {
		t.Fatalf("expected 2 dispatch calls, got %d", len(d.calls))
	}
	if d.calls[1].args["val"] != float64(42) {
		t.Fatalf("template did not resolve to native type: %+v", d.calls[1].args)
	}
}

func TestRunStopsOnErrorByDefault(t *testing.T) {
	d := &fakeDispatcher{results: map[string][]dispatchOutcome{
		"bad": {{err: errors.New("boom")}},
	}}
	e := newTestEngine(d)
	rb := model.Runbook{Steps: []model.Step{
		{ID: "a", Tool: "bad"},
		{ID: "b", Tool: "never"},
	}}

	res, err := e.Run(context.Background(), rb, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Succeeded {
		t.Fatal("expected failure")
	}
	if _, ok := res.Steps["b"]; ok {
		t.Fatal("step b should not have run")
	}
}

func TestRunContinuesWhenStopOnErrorFalse(t *testing.T) {
	stopFalse := false
	d := &fakeDispatcher{results: map[string][]dispatchOutcome{
		"bad": {{err: errors.New("boom")}},
	}}
	e := newTestEngine(d)
	rb := model.Runbook{Steps: []model.Step{
		{ID: "a", Tool: "bad", StopOnError: &stopFalse},
		{ID: "b", Tool: "good"},
	}}

	res, _ := e.Run(context.Background(), rb, nil)
	if res.Succeeded {
		t.Fatal("expected overall failure recorded")
	}
	if _, ok := res.Steps["b"]; !ok {
		t.Fatal("step b should have run after non-halting failure")
	}
}

func TestRunRetriesUntilPredicateHolds(t *testing.T) {
	d := &fakeDispatcher{results: map[string][]dispatchOutcome{
		"poll": {
			{res: map[string]interface{}{"status": "pending"}},
			{res: map[string]interface{}{"status": "pending"}},
			{res: map[string]interface{}{"status": "done"}},
		},
	}}
	e := newTestEngine(d)
	rb := model.Runbook{Steps: []model.Step{
		{ID: "poll", Tool: "poll", Retry: &model.RetryPolicy{
			MaxAttempts: 5, DelayMS: 1,
			Until: &model.Predicate{Path: "steps.poll.status", Op: "equals", Value: "done"},
		}},
	}}

	res, err := e.Run(context.Background(), rb, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps["poll"].Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Steps["poll"].Attempts)
	}
}

func TestRunSkipsStepWhenPredicateFalse(t *testing.T) {
	d := &fakeDispatcher{}
	e := newTestEngine(d)
	rb := model.Runbook{Steps: []model.Step{
		{ID: "maybe", Tool: "maybe", When: &model.Predicate{Path: "input.flag", Op: "equals", Value: true}},
	}}

	res, err := e.Run(context.Background(), rb, map[string]interface{}{"flag": false})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps["maybe"].Status != StepSkipped {
		t.Fatalf("status = %v, want skipped", res.Steps["maybe"].Status)
	}
	if len(d.calls) != 0 {
		t.Fatal("skipped step should not dispatch")
	}
}

func TestRunRequiredTemplateMissingErrorsByDefault(t *testing.T) {
	d := &fakeDispatcher{}
	e := newTestEngine(d)
	rb := model.Runbook{Steps: []model.Step{
		{ID: "a", Tool: "a", Args: map[string]interface{}{"v": "{{ steps.nope.x }}"}},
	}}
	res, err := e.Run(context.Background(), rb, nil)
	if err == nil {
		t.Fatal("expected error for unresolved required template")
	}
	if res.Steps["a"].Status != StepFailed {
		t.Fatalf("status = %v, want failed", res.Steps["a"].Status)
	}
}

func TestRunOptionalTemplateMissingNeverErrors(t *testing.T) {
	d := &fakeDispatcher{}
	e := newTestEngine(d)
	rb := model.Runbook{Steps: []model.Step{
		{ID: "a", Tool: "a", Args: map[string]interface{}{"v": "{{ ?steps.nope.x }}"}},
	}}
	res, err := e.Run(context.Background(), rb, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps["a"].Status != StepSucceeded {
		t.Fatalf("status = %v, want succeeded", res.Steps["a"].Status)
	}
	if d.calls[0].args["v"] != "" {
		t.Fatalf("expected empty-string replacement, got %+v", d.calls[0].args["v"])
	}
}

func TestRunRetryExhaustsAttemptsAndFails(t *testing.T) {
	d := &fakeDispatcher{results: map[string][]dispatchOutcome{
		"flaky": {{err: errors.New("fail 1")}, {err: errors.New("fail 2")}},
	}}
	e := newTestEngine(d)
	rb := model.Runbook{Steps: []model.Step{
		{ID: "flaky", Tool: "flaky", Retry: &model.RetryPolicy{MaxAttempts: 2, DelayMS: 1}},
	}}

	res, err := e.Run(context.Background(), rb, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Steps["flaky"].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Steps["flaky"].Attempts)
	}
}
