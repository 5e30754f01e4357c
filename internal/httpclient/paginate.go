package httpclient

import (
	"context"
	"regexp"
	"strconv"

	"github.com/sentryfrogg/engine/internal/dynvalue"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// PaginationType selects how the next page is located (spec §4.6
// "Pagination").
type PaginationType string

const (
	PagePagination   PaginationType = "page"
	OffsetPagination PaginationType = "offset"
	CursorPagination PaginationType = "cursor"
	LinkPagination   PaginationType = "link"
)

// PaginateRequest is one `paginate` call.
type PaginateRequest struct {
	Request
	Type        PaginationType
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

// PaginateResult aggregates every page's extracted items.
type PaginateResult struct {
	Items []interface{} `json:"items"`
	Pages int           `json:"pages"`
}

var linkHeaderRe = regexp.MustCompile(`<([^>]+)>;\s*rel="?next"?`)

// Paginate walks successive pages per req.Type, extracting req.ItemsPath
// from each page's JSON body and stopping per spec §4.6's stop conditions.
func (c *Client) Paginate(ctx context.Context, req PaginateRequest) (PaginateResult, error) {
	result := PaginateResult{}

	if req.Query == nil {
		req.Query = map[string]string{}
	}
	query := cloneStringMap(req.Query)

	page := req.StartPage
	if page == 0 {
		page = 1
	}
	offset := 0
	cursor := ""
	nextLinkURL := ""
	currentURL := req.URL

	for {
		if req.MaxPages > 0 && result.Pages >= req.MaxPages {
			break
		}

		callReq := req.Request
		callReq.Query = cloneStringMap(query)
		if nextLinkURL != "" {
			callReq.URL = nextLinkURL
			callReq.Query = nil
		} else {
			callReq.URL = currentURL
		}

		switch req.Type {
		case PagePagination:
			param := req.PageParam
			if param == "" {
				param = "page"
			}
			callReq.Query[param] = strconv.Itoa(page)
		case OffsetPagination:
			offsetParam := req.OffsetParam
			if offsetParam == "" {
				offsetParam = "offset"
			}
			limitParam := req.LimitParam
			if limitParam == "" {
				limitParam = "limit"
			}
			callReq.Query[offsetParam] = strconv.Itoa(offset)
			if req.PageSize > 0 {
				callReq.Query[limitParam] = strconv.Itoa(req.PageSize)
			}
		case CursorPagination:
			if cursor != "" {
				param := req.CursorParam
				if param == "" {
					param = "cursor"
				}
				callReq.Query[param] = cursor
			}
			if req.CursorPath == "" {
				return result, apperr.MissingParam("cursor_path")
			}
		case LinkPagination:
			// URL already set from nextLinkURL, or the initial URL on page 1.
		default:
			return result, apperr.New(apperr.InvalidParams, "http_unknown_pagination_type", "unknown pagination type")
		}

		resp, err := c.Do(ctx, callReq)
		if err != nil {
			return result, err
		}
		if req.Strict && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
			return result, apperr.New(apperr.Denied, "http_paginate_non_success", "non-success response in strict pagination mode").
				WithDetails("status_code", resp.StatusCode)
		}

		items := extractItems(resp.Body, req.ItemsPath)
		result.Items = append(result.Items, items...)
		result.Pages++

		if len(items) == 0 && req.StopOnEmpty {
			break
		}

		switch req.Type {
		case PagePagination:
			page++
		case OffsetPagination:
			offset += len(items)
			if req.PageSize > 0 && len(items) < req.PageSize {
				return result, nil
			}
		case CursorPagination:
			next, ok := dynvalue.Get(resp.Body, req.CursorPath)
			s, isStr := next.(string)
			if !ok || !isStr || s == "" {
				return result, nil
			}
			cursor = s
		case LinkPagination:
			linkHeader := resp.Headers["Link"]
			m := linkHeaderRe.FindStringSubmatch(linkHeader)
			if m == nil {
				return result, nil
			}
			nextLinkURL = m[1]
		}
	}
	return result, nil
}

func extractItems(body interface{}, itemsPath string) []interface{} {
	v := body
	if itemsPath != "" {
		extracted, ok := dynvalue.Get(body, itemsPath)
		if !ok {
			return nil
		}
		v = extracted
	}
	items, _ := dynvalue.AsSlice(v)
	return items
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
