// Package registry implements the State & Registry Stores of spec §2/§9:
// persistent JSON stores (atomic write-temp+rename) for projects, runbooks,
// tool aliases, and argument presets, all layered on
// internal/platform/filestore.JSONStore.
package registry

import (
	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/filestore"
)

// Registry owns the projects, runbooks, aliases, and presets stores.
type Registry struct {
	projects *filestore.JSONStore[map[string]model.Project]
	runbooks *filestore.JSONStore[map[string]model.Runbook]
	aliases  *filestore.JSONStore[map[string]string]
	presets  *filestore.JSONStore[map[string]map[string]map[string]interface{}]
}

// New binds a registry to a directory; each store gets its own file
// (projects.json, runbooks.json, aliases.json, presets.json).
func New(dir string) *Registry {
	join := func(name string) string { return dir + "/" + name }
	return &Registry{
		projects: filestore.NewJSONStore[map[string]model.Project](join("projects.json")),
		runbooks: filestore.NewJSONStore[map[string]model.Runbook](join("runbooks.json")),
		aliases:  filestore.NewJSONStore[map[string]string](join("aliases.json")),
		presets:  filestore.NewJSONStore[map[string]map[string]map[string]interface{}](join("presets.json")),
	}
}

// ProjectUpsert creates or replaces a named project. Invariant:
// default_target must be a key of targets (spec §3 "Project").
func (r *Registry) ProjectUpsert(p model.Project) (model.Project, error) {
	if p.Name == "" {
		return model.Project{}, apperr.MissingParam("name")
	}
	if _, ok := p.Targets[p.DefaultTarget]; !ok {
		return model.Project{}, apperr.InvalidParam("default_target", "must be a key of targets")
	}
	_, err := r.projects.Mutate(func(current map[string]model.Project) (map[string]model.Project, error) {
		if current == nil {
			current = map[string]model.Project{}
		}
		current[p.Name] = p
		return current, nil
	})
	if err != nil {
		return model.Project{}, apperr.Wrap(apperr.Internal, "project_save_failed", "failed to persist project", err)
	}
	return p, nil
}

func (r *Registry) ProjectGet(name string) (model.Project, error) {
	all, err := r.projects.Load()
	if err != nil {
		return model.Project{}, apperr.Wrap(apperr.Internal, "project_load_failed", "failed to load projects", err)
	}
	p, ok := all[name]
	if !ok {
		return model.Project{}, apperr.NotFoundErr("project", name)
	}
	return p, nil
}

func (r *Registry) ProjectList() ([]model.Project, error) {
	all, err := r.projects.Load()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "project_load_failed", "failed to load projects", err)
	}
	out := make([]model.Project, 0, len(all))
	for _, p := range all {
		out = append(out, p)
	}
	return out, nil
}

func (r *Registry) ProjectDelete(name string) error {
	_, err := r.projects.Mutate(func(current map[string]model.Project) (map[string]model.Project, error) {
		delete(current, name)
		return current, nil
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "project_delete_failed", "failed to persist project deletion", err)
	}
	return nil
}

// TargetFor resolves a project's named target (its default target if name
// is empty), per spec §3's "Consumed by the Context Resolver" rule.
func (r *Registry) TargetFor(projectName, targetName string) (model.TargetBinding, error) {
	p, err := r.ProjectGet(projectName)
	if err != nil {
		return model.TargetBinding{}, err
	}
	if targetName == "" {
		targetName = p.DefaultTarget
	}
	t, ok := p.Targets[targetName]
	if !ok {
		return model.TargetBinding{}, apperr.NotFoundErr("target", targetName)
	}
	return t, nil
}

// RunbookUpsert creates or replaces a named runbook. Invariant: step IDs
// are unique within the runbook (spec §3 "Runbook").
func (r *Registry) RunbookUpsert(rb model.Runbook) (model.Runbook, error) {
	if rb.Name == "" {
		return model.Runbook{}, apperr.MissingParam("name")
	}
	seen := make(map[string]bool, len(rb.Steps))
	for _, step := range rb.Steps {
		if step.ID == "" {
			return model.Runbook{}, apperr.MissingParam("steps[].id")
		}
		if seen[step.ID] {
			return model.Runbook{}, apperr.ConflictErr("duplicate step id " + step.ID)
		}
		seen[step.ID] = true
	}
	_, err := r.runbooks.Mutate(func(current map[string]model.Runbook) (map[string]model.Runbook, error) {
		if current == nil {
			current = map[string]model.Runbook{}
		}
		current[rb.Name] = rb
		return current, nil
	})
	if err != nil {
		return model.Runbook{}, apperr.Wrap(apperr.Internal, "runbook_save_failed", "failed to persist runbook", err)
	}
	return rb, nil
}

func (r *Registry) RunbookGet(name string) (model.Runbook, error) {
	all, err := r.runbooks.Load()
	if err != nil {
		return model.Runbook{}, apperr.Wrap(apperr.Internal, "runbook_load_failed", "failed to load runbooks", err)
	}
	rb, ok := all[name]
	if !ok {
		return model.Runbook{}, apperr.NotFoundErr("runbook", name)
	}
	return rb, nil
}

func (r *Registry) RunbookList() ([]model.Runbook, error) {
	all, err := r.runbooks.Load()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "runbook_load_failed", "failed to load runbooks", err)
	}
	out := make([]model.Runbook, 0, len(all))
	for _, rb := range all {
		out = append(out, rb)
	}
	return out, nil
}

func (r *Registry) RunbookDelete(name string) error {
	_, err := r.runbooks.Mutate(func(current map[string]model.Runbook) (map[string]model.Runbook, error) {
		delete(current, name)
		return current, nil
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "runbook_delete_failed", "failed to persist runbook deletion", err)
	}
	return nil
}

// ResolveAlias maps a short tool name (e.g. "sql", "http") to its canonical
// name (e.g. "postgres", "api"), per spec §4.9 "Normalization". Tools with
// no alias entry resolve to themselves.
func (r *Registry) ResolveAlias(tool string) (string, error) {
	all, err := r.aliases.Load()
	if err != nil {
		return tool, apperr.Wrap(apperr.Internal, "alias_load_failed", "failed to load aliases", err)
	}
	if canonical, ok := all[tool]; ok {
		return canonical, nil
	}
	return tool, nil
}

func (r *Registry) AliasSet(short, canonical string) error {
	_, err := r.aliases.Mutate(func(current map[string]string) (map[string]string, error) {
		if current == nil {
			current = map[string]string{}
		}
		current[short] = canonical
		return current, nil
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "alias_save_failed", "failed to persist alias", err)
	}
	return nil
}

func (r *Registry) AliasList() (map[string]string, error) {
	all, err := r.aliases.Load()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "alias_load_failed", "failed to load aliases", err)
	}
	return all, nil
}

// PresetGet returns the stored default args for tool/name, per spec §4.9's
// "preset values are defaults; explicit args win" merge rule.
func (r *Registry) PresetGet(tool, name string) (map[string]interface{}, error) {
	all, err := r.presets.Load()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "preset_load_failed", "failed to load presets", err)
	}
	byName, ok := all[tool]
	if !ok {
		return nil, apperr.NotFoundErr("preset", tool+"/"+name)
	}
	preset, ok := byName[name]
	if !ok {
		return nil, apperr.NotFoundErr("preset", tool+"/"+name)
	}
	return preset, nil
}

func (r *Registry) PresetSet(tool, name string, args map[string]interface{}) error {
	_, err := r.presets.Mutate(func(current map[string]map[string]map[string]interface{}) (map[string]map[string]map[string]interface{}, error) {
		if current == nil {
			current = map[string]map[string]map[string]interface{}{}
		}
		if current[tool] == nil {
			current[tool] = map[string]map[string]interface{}{}
		}
		current[tool][name] = args
		return current, nil
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "preset_save_failed", "failed to persist preset", err)
	}
	return nil
}

func (r *Registry) PresetList(tool string) (map[string]map[string]interface{}, error) {
	all, err := r.presets.Load()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "preset_load_failed", "failed to load presets", err)
	}
	return all[tool], nil
}
