package main

import (
	"context"
	"encoding/json"

	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/httpclient"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

func registerHTTPTools(d *dispatcher.Dispatcher, hc *httpclient.Client) {
	d.Register("http", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		act, err := requireAction(args)
		if err != nil {
			return nil, err
		}

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
			prof, err := hc.ProfileUpsert(req.Name, req.Data, req.Secrets)
			if err != nil {
				return nil, err
			}
			return encode(prof)

		case "profile_get":
			prof, err := hc.ProfileGet(stringArg(args, "name"))
			if err != nil {
				return nil, err
			}
			return encode(prof)

		case "profile_list":
			list, err := hc.ProfileList()
			if err != nil {
				return nil, err
			}
			return encode(list)

		case "profile_delete":
			if err := hc.ProfileDelete(stringArg(args, "name")); err != nil {
				return nil, err
			}
			return encode(nil)

		case "request":
			req, err := decodeHTTPRequest(args)
			if err != nil {
				return nil, err
			}
			res, err := hc.Do(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "check":
			req, err := decodeHTTPRequest(args)
			if err != nil {
				return nil, err
			}
			res, err := hc.Check(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "paginate":
			base, err := decodeHTTPRequest(args)
			if err != nil {
				return nil, err
			}
			var tail struct {
				Type        httpclient.PaginationType
				ItemsPath   string
				PageParam   string
				StartPage   int
				OffsetParam string
				LimitParam  string
				PageSize    int
				CursorPath  string
				CursorParam string
				MaxPages    int
				StopOnEmpty bool
				Strict      bool
			}
			if err := decode(args, &tail); err != nil {
				return nil, err
			}
			res, err := hc.Paginate(ctx, httpclient.PaginateRequest{
				Request: base, Type: tail.Type, ItemsPath: tail.ItemsPath, PageParam: tail.PageParam,
				StartPage: tail.StartPage, OffsetParam: tail.OffsetParam, LimitParam: tail.LimitParam,
				PageSize: tail.PageSize, CursorPath: tail.CursorPath, CursorParam: tail.CursorParam,
				MaxPages: tail.MaxPages, StopOnEmpty: tail.StopOnEmpty, Strict: tail.Strict,
			})
			if err != nil {
				return nil, err
			}
			return encode(res)

		case "download":
			var req httpclient.DownloadRequest
			if err := decode(args, &req); err != nil {
				return nil, err
			}
			res, err := hc.Download(ctx, req)
			if err != nil {
				return nil, err
			}
			return encode(res)

		default:
			return nil, apperr.New(apperr.InvalidParams, "unknown_action", "http has no such action").WithDetails("action", act)
		}
	})
}

// decodeHTTPRequest decodes the shared request fields, translating the
// millisecond knobs and a JSON/string/raw body into httpclient.Request's
// time.Duration and []byte fields (neither round-trips through a plain
// json.Unmarshal).
func decodeHTTPRequest(args map[string]interface{}) (httpclient.Request, error) {
	var req struct {
		ProfileName       string
		Method            string
		URL               string
		Headers           map[string]string
		Query             map[string]string
		ResponseType      string
		RequireComplete   bool
		CaptureBytes      int
	}
	if err := decode(args, &req); err != nil {
		return httpclient.Request{}, err
	}

	var body []byte
	switch v := args["body"].(type) {
	case nil:
	case string:
		body = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return httpclient.Request{}, apperr.InvalidParam("body", "must be JSON-serializable")
		}
		body = b
	}

	return httpclient.Request{
		ProfileName:     req.ProfileName,
		Method:          req.Method,
		URL:             req.URL,
		Headers:         req.Headers,
		Query:           req.Query,
		Body:            body,
		Timeout:         durationMS(args, "timeout_ms"),
		ResponseType:    req.ResponseType,
		RequireComplete: req.RequireComplete,
		CaptureBytes:    req.CaptureBytes,
		CacheTTL:        durationMS(args, "cache_ttl_ms"),
	}, nil
}
