package main

import (
	"context"

	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/pipeline"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// registerPipelineTools binds the engine's six streaming flows (spec §4.7)
// to dispatcher actions named after them directly, since each flow's
// request shape is distinct enough that a shared decode path would obscure
// more than it saves.
func registerPipelineTools(d *dispatcher.Dispatcher, pl *pipeline.Engine) {
	d.Register("pipeline", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}

		switch act {
		case "http_to_sftp":
			var req pipeline.HTTPToSFTPRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pl.HTTPToSFTP(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "sftp_to_http":
			var req pipeline.SFTPToHTTPRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pl.SFTPToHTTP(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "http_to_postgres":
			var req pipeline.HTTPToPostgresRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pl.HTTPToPostgres(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "sftp_to_postgres":
			var req pipeline.SFTPToPostgresRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pl.SFTPToPostgres(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "postgres_to_sftp":
			var req pipeline.PostgresToSFTPRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pl.PostgresToSFTP(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "postgres_to_http":
			var req pipeline.PostgresToHTTPRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pl.PostgresToHTTP(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "pipeline has no such flow").WithDetails("action", act)
		}
	})
}
