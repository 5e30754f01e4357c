package httpclient

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// DownloadRequest is one `download` call (spec §4.6 "Download").
type DownloadRequest struct {
	ProfileName string
	URL         string
	Headers     map[string]string
	TargetPath  string
	Overwrite   bool
	MakeDirs    bool
}

// DownloadResult reports what was written.
type DownloadResult struct {
	BytesWritten int64  `json:"bytes_written"`
	Path         string `json:"path"`
	StatusCode   int    `json:"status_code"`
}

// Download streams req.URL's body to req.TargetPath via a temp sibling
// file `*.part`, then an atomic rename to `0600`, refusing to overwrite
// unless req.Overwrite is set.
func (c *Client) Download(ctx context.Context, req DownloadRequest) (DownloadResult, error) {
	if !req.Overwrite {
		if _, err := os.Stat(req.TargetPath); err == nil {
			return DownloadResult{}, apperr.New(apperr.Conflict, "http_download_exists", "target file already exists; set overwrite=true").
				WithDetails("path", req.TargetPath)
		}
	}
	if req.MakeDirs {
		if err := os.MkdirAll(filepath.Dir(req.TargetPath), 0o755); err != nil {
			return DownloadResult{}, apperr.Wrap(apperr.Internal, "http_download_mkdir_failed", "failed to create target parent directories", err)
		}
	}

	prof, secrets, err := c.resolveProfile(req.ProfileName)
	if err != nil {
		return DownloadResult{}, err
	}

	httpReq, err := c.buildRequest(ctx, Request{Method: http.MethodGet, URL: req.URL, Headers: req.Headers}, prof, secrets)
	if err != nil {
		return DownloadResult{}, err
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return DownloadResult{}, apperr.RetryableErr("download request failed", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return DownloadResult{StatusCode: httpResp.StatusCode}, apperr.New(apperr.Denied, "http_download_failed", "download request returned a non-success status").
			WithDetails("status_code", httpResp.StatusCode)
	}

	partPath := req.TargetPath + ".part"
	part, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return DownloadResult{}, apperr.Wrap(apperr.Internal, "http_download_create_failed", "failed to create temp file", err)
	}

	n, copyErr := io.Copy(part, httpResp.Body)
	closeErr := part.Close()
	if copyErr != nil {
		os.Remove(partPath)
		return DownloadResult{}, apperr.Wrap(apperr.Internal, "http_download_write_failed", "failed to write downloaded body", copyErr)
	}
	if closeErr != nil {
		os.Remove(partPath)
		return DownloadResult{}, apperr.Wrap(apperr.Internal, "http_download_flush_failed", "failed to flush temp file", closeErr)
	}

	if err := os.Rename(partPath, req.TargetPath); err != nil {
		os.Remove(partPath)
		return DownloadResult{}, apperr.Wrap(apperr.Internal, "http_download_rename_failed", "failed to rename downloaded file into place", err)
	}

	return DownloadResult{BytesWritten: n, Path: req.TargetPath, StatusCode: httpResp.StatusCode}, nil
}

// Check performs a lightweight HEAD (falling back to GET when the target
// answers HEAD with 405 or 501) to confirm reachability for the `check`
// operation. An explicit req.Method is used as given, with no fallback.
func (c *Client) Check(ctx context.Context, req Request) (Response, error) {
	if req.Method != "" {
		return c.Do(ctx, req)
	}
	req.Method = http.MethodHead
	resp, err := c.Do(ctx, req)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		req.Method = http.MethodGet
		return c.Do(ctx, req)
	}
	return resp, err
}
