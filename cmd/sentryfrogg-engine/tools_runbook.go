package main

import (
	"context"

	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/registry"
	"github.com/sentryfrogg/engine/internal/runbook"
)

// registerRunbookTools wires the registry's named runbooks to the runbook
// engine: `run` resolves a stored runbook by name (or takes one inline
// under `runbook`), `upsert`/`get`/`list`/`delete` manage the registry
// entries directly (spec §3 "Runbook" CRUD, not itself a §4.8 operation but
// needed for runbooks to be nameable at all).
func registerRunbookTools(d *dispatcher.Dispatcher, rb *runbook.Engine, reg *registry.Registry) {
	d.Register("runbook", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}

		switch act {
		case "upsert":
			var def model.Runbook
			if err := decode(args, &def); err != nil {
				return nil, err
			}
			saved, err := reg.RunbookUpsert(def)
			if err != nil {
				return nil, err
			}
			return encode(saved)

		case "get":
			def, err := reg.RunbookGet(stringArg(args, "name"))
			if err != nil {
				return nil, err
			}
			return encode(def)

		case "list":
			list, err := reg.RunbookList()
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"runbooks": list})

		case "delete":
			if err := reg.RunbookDelete(stringArg(args, "name")); err != nil {
				return nil, err
			}
			return encode(nil)

		case "run":
			def, err := resolveRunbookDef(args, reg)
			if err != nil {
				return nil, err
			}
			input, _ := args["input"].(map[string]interface{})
			result, err := rb.Run(ctx, def, input)
			if err != nil {
				return nil, err
			}
			return encode(result)

		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "runbook has no such action").WithDetails("action", act)
		}
	})
}

func resolveRunbookDef(args map[string]interface{}, reg *registry.Registry) (model.Runbook, error) {
	if inline, ok := args["runbook"].(map[string]interface{}); ok {
		var def model.Runbook
		if err := decode(inline, &def); err != nil {
			return model.Runbook{}, err
		}
		return def, nil
	}
	name := stringArg(args, "name")
	if name == "" {
		return model.Runbook{}, apperr.MissingParam("name or runbook")
	}
	return reg.RunbookGet(name)
}
