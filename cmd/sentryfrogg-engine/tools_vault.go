package main

import (
	"context"

	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/vault"
)

func registerVaultTools(d *dispatcher.Dispatcher, vc *vault.Client) {
	d.Register("vault", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}
		profile := stringArg(args, "profile_name")

		switch act {
		case "sys_health":
			res, err := vc.SysHealth(ctx, profile)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "token_lookup_self":
			res, err := vc.TokenLookupSelf(ctx, profile)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "kv2_get":
			var opts vault.Options
			if err := decode(args, &opts); err != nil {
				return nil, err
			}
			var version *int
			if v, ok := args["version"].(float64); ok {
				n := int(v)
				version = &n
			}
			res, err := vc.KV2Get(ctx, profile, stringArg(args, "mount_path"), version, opts)
			if err != nil {
				return nil, err
			}
			return encode(res)

		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "vault has no such action").WithDetails("action", act)
		}
	})
}
