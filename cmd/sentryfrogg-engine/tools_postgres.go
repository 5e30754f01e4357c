package main

import (
	"context"
	"os"

	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/pgmanager"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// connSpecArgs is the subset of a postgres-tool call that identifies the
// target database (spec §4.4 "Pool keying"); it is decoded alongside
// whatever action-specific request struct applies.
type connSpecArgs struct {
	ProfileName string
	Connection  map[string]interface{}
	PoolOpts    pgmanager.PoolOpts
}

func (a connSpecArgs) toConnSpec() pgmanager.ConnSpec {
	return pgmanager.ConnSpec{ProfileName: a.ProfileName, Inline: a.Connection, PoolOpts: a.PoolOpts}
}

func registerPostgresTools(d *dispatcher.Dispatcher, pg *pgmanager.Manager) {
	d.Register("postgres", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}

		var cs connSpecArgs
		if err := decode(args, &cs); err != nil {
			return nil, err
		}
		spec := cs.toConnSpec()

		switch act {
		case "profile_upsert":
			var req struct {
				Name    string
				Data    map[string]interface{}
				Secrets map[string]string
			}
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			prof, err := pg.ProfileUpsert(req.Name, req.Data, req.Secrets)
			if err != nil {
				return nil, err
			}
			return encode(prof)

		case "profile_get":
			prof, err := pg.ProfileGet(stringArg(args, "name"))
			if err != nil {
				return nil, err
			}
			return encode(prof)

		case "profile_list":
			list, err := pg.ProfileList()
			if err != nil {
				return nil, err
			}
			return encode(list)

		case "profile_delete":
			if err := pg.ProfileDelete(stringArg(args, "name")); err != nil {
				return nil, err
			}
			return encode(nil)

		case "profile_test":
			if err := pg.ProfileTest(ctx, stringArg(args, "name")); err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"ok": true})

		case "query":
			var req pgmanager.QueryRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pg.Query(ctx, spec, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "batch":
			var req struct{ Queries []pgmanager.QueryRequest }
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pg.Batch(ctx, spec, req.Queries)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"results": res})

		case "transaction":
			var req struct{ Queries []pgmanager.QueryRequest }
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pg.Transaction(ctx, spec, req.Queries)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"results": res})

		case "insert":
			var req pgmanager.InsertRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pg.Insert(ctx, spec, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "insert_bulk":
			var req pgmanager.InsertBulkRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			n, err := pg.InsertBulk(ctx, spec, req)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"rows_inserted": n})

		case "update":
			var req pgmanager.UpdateRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pg.Update(ctx, spec, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "delete":
			var req pgmanager.DeleteRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := pg.Delete(ctx, spec, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "select":
			var req pgmanager.SelectRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			rows, err := pg.Select(ctx, spec, req)
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"rows": rows})

		case "count":
			n, err := pg.Count(ctx, spec, stringArg(args, "table"), args["filter"])
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"count": n})

		case "exists":
			ok, err := pg.Exists(ctx, spec, stringArg(args, "table"), args["filter"])
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"exists": ok})

		case "catalog_tables":
			tables, err := pg.CatalogTables(ctx, spec, stringArg(args, "schema"))
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"tables": tables})

		case "catalog_columns":
			cols, err := pg.CatalogColumns(ctx, spec, stringArg(args, "schema"), stringArg(args, "table"))
			if err != nil {
				return nil, err
			}
			return encode(map[string]interface{}{"columns": cols})

		case "export":
			var req pgmanager.ExportRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			path := stringArg(args, "path")
			if path == "" {
				return nil, apperr.MissingParam("path")
			}
			f, err := os.Create(path)
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "export_open_failed", "failed to open export destination", err)
			}
			res, err := pg.ExportToFile(ctx, spec, req, f)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "database_info":
			info, err := pg.DatabaseInfo(ctx, spec)
			if err != nil {
				return nil, err
			}
			return encode(info)

		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "postgres has no such action").WithDetails("action", act)
		}
	})
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}
