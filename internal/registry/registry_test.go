package registry

import (
	"testing"

	"github.com/sentryfrogg/engine/internal/model"
)

func TestProjectUpsertRejectsUnknownDefaultTarget(t *testing.T) {
	r := New(t.TempDir())
	_, err := r.ProjectUpsert(model.Project{
		Name:          "p1",
		DefaultTarget: "prod",
		Targets:       map[string]model.TargetBinding{"staging": {}},
	})
	if err == nil {
		t.Fatal("expected error for default_target not in targets")
	}
}

func TestProjectUpsertThenGet(t *testing.T) {
	r := New(t.TempDir())
	p := model.Project{
		Name:          "p1",
		DefaultTarget: "prod",
		Targets:       map[string]model.TargetBinding{"prod": {PostgresProfile: "pg1"}},
	}
	if _, err := r.ProjectUpsert(p); err != nil {
		t.Fatalf("ProjectUpsert: %v", err)
	}
	got, err := r.ProjectGet("p1")
	if err != nil {
		t.Fatalf("ProjectGet: %v", err)
	}
	if got.Targets["prod"].PostgresProfile != "pg1" {
		t.Fatalf("unexpected target: %+v", got)
	}
}

func TestTargetForFallsBackToDefault(t *testing.T) {
	r := New(t.TempDir())
	r.ProjectUpsert(model.Project{
		Name: "p1", DefaultTarget: "prod",
		Targets: map[string]model.TargetBinding{"prod": {APIProfile: "api1"}},
	})
	target, err := r.TargetFor("p1", "")
	if err != nil {
		t.Fatalf("TargetFor: %v", err)
	}
	if target.APIProfile != "api1" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestRunbookUpsertRejectsDuplicateStepIDs(t *testing.T) {
	r := New(t.TempDir())
	_, err := r.RunbookUpsert(model.Runbook{
		Name: "rb1",
		Steps: []model.Step{
			{ID: "a", Tool: "postgres"},
			{ID: "a", Tool: "ssh"},
		},
	})
	if err == nil {
		t.Fatal("expected error for duplicate step id")
	}
}

func TestResolveAliasFallsBackToToolName(t *testing.T) {
	r := New(t.TempDir())
	r.AliasSet("sql", "postgres")

	canonical, err := r.ResolveAlias("sql")
	if err != nil {
		t.Fatalf("ResolveAlias: %v", err)
	}
	if canonical != "postgres" {
		t.Fatalf("canonical = %q, want postgres", canonical)
	}

	unaliased, err := r.ResolveAlias("vault")
	if err != nil {
		t.Fatalf("ResolveAlias: %v", err)
	}
	if unaliased != "vault" {
		t.Fatalf("unaliased = %q, want vault", unaliased)
	}
}

func TestPresetSetThenGet(t *testing.T) {
	r := New(t.TempDir())
	if err := r.PresetSet("postgres", "prod_read", map[string]interface{}{"profile_name": "pg1"}); err != nil {
		t.Fatalf("PresetSet: %v", err)
	}
	preset, err := r.PresetGet("postgres", "prod_read")
	if err != nil {
		t.Fatalf("PresetGet: %v", err)
	}
	if preset["profile_name"] != "pg1" {
		t.Fatalf("unexpected preset: %+v", preset)
	}
}
