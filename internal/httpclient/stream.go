package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// StreamRequest is a single-attempt request whose body and response are
// handed to the caller as raw streams, for the pipeline engine's
// http_to_sftp/http_to_postgres (GET) and postgres_to_http (POST/PUT) flows
// where the full payload must never be materialized in memory (spec §4.7
// "bounded memory").
type StreamRequest struct {
	ProfileName string
	Method      string
	URL         string
	Headers     map[string]string
	Query       map[string]string
	Body        io.Reader
}

// OpenStream issues req and returns the live *http.Response for the caller
// to stream from (GET-like flows) or have already streamed its body to
// (PUT/POST-like flows). The caller must close the response body. No
// retry/circuit-breaker wrapping applies: a mid-stream failure cannot be
// safely replayed once bytes have started flowing to the destination.
func (c *Client) OpenStream(ctx context.Context, req StreamRequest) (*http.Response, error) {
	prof, secrets, err := c.resolveProfile(req.ProfileName)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, Request{
		ProfileName: req.ProfileName,
		Method:      req.Method,
		URL:         req.URL,
		Headers:     req.Headers,
		Query:       req.Query,
	}, prof, secrets)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		if rc, ok := req.Body.(io.ReadCloser); ok {
			httpReq.Body = rc
		} else {
			httpReq.Body = io.NopCloser(req.Body)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.RetryableErr("http stream request failed", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, apperr.New(apperr.Denied, "http_stream_failed", "stream request returned a non-success status").
			WithDetails("status_code", httpResp.StatusCode).
			WithDetails("body_preview", strings.TrimSpace(string(data)))
	}
	return httpResp, nil
}
