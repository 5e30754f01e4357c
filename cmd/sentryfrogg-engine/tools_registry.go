package main

import (
	"context"

	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/registry"
	"github.com/sentryfrogg/engine/internal/statestore"
)

// registerProjectTools binds project CRUD and the alias/preset tables that
// back the dispatcher's own normalization step (spec §4.9 "Normalization").
func registerProjectTools(d *dispatcher.Dispatcher, reg *registry.Registry) {
	d.Register("project", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}

		switch act {
		case "upsert":
			var p model.Project
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			saved, err := reg.ProjectUpsert(p)
			if err != nil {
				return nil, err
			}
			return encode(saved)

		case "get":
			p, err := reg.ProjectGet(stringArg(args, "name"))
			if err != nil {
				return nil, err
			}
			return encode(p)

		case "list":
			list, err := reg.ProjectList()
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"projects": list})

		case "delete":
			if err := reg.ProjectDelete(stringArg(args, "name")); err != nil {
				return nil, err
			}
			return encode(nil)

		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "project has no such action").WithDetails("action", act)
		}
	})

	d.Register("alias", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}
		switch act {
		case "set":
			if err := reg.AliasSet(stringArg(args, "alias"), stringArg(args, "tool")); err != nil {
				return nil, err
			}
			return encode(nil)
		case "list":
			list, err := reg.AliasList()
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"aliases": list})
		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "alias has no such action").WithDetails("action", act)
		}
	})

	d.Register("preset", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}
		tool := stringArg(args, "tool")
		name := stringArg(args, "name")
		switch act {
		case "set":
			presetArgs, _ := args["args"].(map[string]interface{})
			if err := reg.PresetSet(tool, name, presetArgs); err != nil {
				return nil, err
			}
			return encode(nil)
		case "get":
			preset, err := reg.PresetGet(tool, name)
			if err != nil {
				return nil, err
			}
			return encode(preset)
		case "list":
			list, err := reg.PresetList(tool)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"presets": list})
		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "preset has no such action").WithDetails("action", act)
		}
	})
}

// registerStateTools exposes state.session.*/state.persistent.* as a tool
// in its own right, for runbooks and callers that want to read/write state
// without going through another tool's store_as.
func registerStateTools(d *dispatcher.Dispatcher, state *statestore.Store) {
	d.Register("state", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}
		scope := model.StateScope(stringArg(args, "scope"))
		if scope == "" {
			scope = model.ScopeSession
		}
		key := stringArg(args, "key")

		switch act {
		case "get":
			entry, found, err := state.Get(scope, key)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, apperr.NotFoundErr("state", key)
			}
			return encode(entry)

		case "set":
			entry, err := state.Set(scope, key, args["value"])
			if err != nil {
				return nil, err
			}
			return encode(entry)

		case "delete":
			if err := state.Delete(scope, key); err != nil {
				return nil, err
			}
			return encode(nil)

		case "list":
			entries, err := state.List(scope)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"entries": entries})

		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "state has no such action").WithDetails("action", act)
		}
	})
}
