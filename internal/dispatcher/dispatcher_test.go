package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/statestore"
)

type fakeAliases struct {
	aliasMap map[string]string
	presets  map[string]map[string]map[string]interface{}
}

func (f *fakeAliases) ResolveAlias(tool string) (string, error) {
	if canonical, ok := f.aliasMap[tool]; ok {
		return canonical, nil
	}
	return tool, nil
}

func (f *fakeAliases) PresetGet(tool, name string) (map[string]interface{}, error) {
	if p, ok := f.presets[tool][name]; ok {
		return p, nil
	}
	return nil, errors.New("preset not found")
}

func TestDispatchResolvesAliasAndInvokesHandler(t *testing.T) {
	d := New(&fakeAliases{aliasMap: map[string]string{"sql": "postgres"}}, statestore.New(""), nil, nil)
	var gotTool string
	d.Register("postgres", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		gotTool = "postgres"
		return map[string]interface{}{"ok": true}, nil
	})

	res, err := d.Dispatch(context.Background(), "sql", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotTool != "postgres" {
		t.Fatal("expected alias to resolve to postgres handler")
	}
	if res["ok"] != true {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res["trace_id"] == "" || res["span_id"] == "" {
		t.Fatalf("expected generated trace/span ids: %+v", res)
	}
}

func TestDispatchUnknownToolReturnsKnownTools(t *testing.T) {
	d := New(nil, statestore.New(""), nil, nil)
	d.Register("known", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	})
	_, err := d.Dispatch(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected unknown tool error")
	}
	te, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected a ToolError, got %T", err)
	}
	known, _ := te.Details["known_tools"].([]string)
	if len(known) != 1 || known[0] != "known" {
		t.Fatalf("known_tools = %v, want [known]", te.Details["known_tools"])
	}
}

func TestDispatchMergesPresetWithExplicitArgsWinning(t *testing.T) {
	d := New(&fakeAliases{presets: map[string]map[string]map[string]interface{}{
		"tool": {"p1": {"a": "preset-a", "b": "preset-b"}},
	}}, statestore.New(""), nil, nil)

	var gotArgs map[string]interface{}
	d.Register("tool", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		gotArgs = args
		return map[string]interface{}{}, nil
	})

	_, err := d.Dispatch(context.Background(), "tool", map[string]interface{}{"preset": "p1", "a": "explicit-a"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotArgs["a"] != "explicit-a" || gotArgs["b"] != "preset-b" {
		t.Fatalf("unexpected merged args: %+v", gotArgs)
	}
	if _, ok := gotArgs["preset"]; ok {
		t.Fatal("preset control key should not reach the handler")
	}
}

func TestDispatchHandlerErrorIsNormalized(t *testing.T) {
	d := New(nil, statestore.New(""), nil, nil)
	d.Register("boom", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("plain error")
	})
	_, err := d.Dispatch(context.Background(), "boom", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if cat := apperr.CategoryOf(err); cat != apperr.Internal {
		t.Fatalf("category = %v, want %v", cat, apperr.Internal)
	}
}

func TestDispatchOutputShapingAppliesPath(t *testing.T) {
	d := New(nil, statestore.New(""), nil, nil)
	d.Register("tool", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"data": map[string]interface{}{"id": float64(1)}}, nil
	})
	res, err := d.Dispatch(context.Background(), "tool", map[string]interface{}{
		"output": map[string]interface{}{"path": "data"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res["id"] != float64(1) {
		t.Fatalf("unexpected shaped result: %+v", res)
	}
}

func TestDispatchStoreAsPersistsShapedResult(t *testing.T) {
	state := statestore.New("")
	d := New(nil, state, nil, nil)
	d.Register("tool", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"value": "hello"}, nil
	})
	_, err := d.Dispatch(context.Background(), "tool", map[string]interface{}{"store_as": "last_result"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	entry, found, err := state.Get("session", "last_result")
	if err != nil || !found {
		t.Fatalf("expected stored entry: found=%v err=%v", found, err)
	}
	stored, ok := entry.Value.(map[string]interface{})
	if !ok || stored["value"] != "hello" {
		t.Fatalf("unexpected stored value: %+v", entry.Value)
	}
}
