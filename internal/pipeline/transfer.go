package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/sentryfrogg/engine/internal/httpclient"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// TransferResult reports what a direct (no intermediate parsing) transfer
// flow moved.
type TransferResult struct {
	BytesTransferred int64  `json:"bytes_transferred"`
	TraceID          string `json:"trace_id"`
}

// HTTPToSFTPRequest is one `http_to_sftp` pipeline call: an HTTP response
// body written straight to a remote file, byte for byte.
type HTTPToSFTPRequest struct {
	ProjectName, TargetName string
	APIProfile              string
	Method                  string
	URL                     string
	Headers                 map[string]string
	SSHProfile              string
	RemotePath              string
	Overwrite               bool
	MakeDirs                bool
	ArtifactPath            string
	ArtifactBytes           int64
	TraceID                 string
}

// HTTPToSFTP copies an HTTP response body to a remote file without
// materializing it locally or parsing its contents.
func (e *Engine) HTTPToSFTP(ctx context.Context, req HTTPToSFTPRequest) (TransferResult, error) {
	traceID := traceIDOrNew(req.TraceID)
	if err := e.hydrate(req.ProjectName, req.TargetName, &req.APIProfile, nil, &req.SSHProfile); err != nil {
		return TransferResult{TraceID: traceID}, err
	}
	method := req.Method
	if method == "" {
		method = "GET"
	}

	start := time.Now()
	resp, err := e.http.OpenStream(ctx, httpclient.StreamRequest{
		ProfileName: req.APIProfile, Method: method, URL: req.URL, Headers: req.Headers,
	})
	e.auditSpan(ctx, traceID, "http_fetch", map[string]interface{}{"url": req.URL}, err, start)
	if err != nil {
		return TransferResult{TraceID: traceID}, err
	}
	defer resp.Body.Close()

	source, closeTap, tapErr := artifactTap(resp.Body, req.ArtifactPath, req.ArtifactBytes)
	if tapErr != nil {
		return TransferResult{TraceID: traceID}, tapErr
	}
	defer closeTap()

	upStart := time.Now()
	n, upErr := e.ssh.SFTPStreamUpload(ctx, req.SSHProfile, req.RemotePath, source, req.Overwrite, req.MakeDirs)
	e.auditSpan(ctx, traceID, "sftp_upload", map[string]interface{}{"remote_path": req.RemotePath, "bytes": n}, upErr, upStart)

	result := TransferResult{BytesTransferred: n, TraceID: traceID}
	if upErr != nil {
		return result, apperr.Normalize(upErr)
	}
	return result, nil
}

// SFTPToHTTPRequest is one `sftp_to_http` pipeline call: a remote file
// streamed as the body of an outbound HTTP request.
type SFTPToHTTPRequest struct {
	ProjectName, TargetName string
	SSHProfile              string
	RemotePath              string
	APIProfile              string
	Method                  string
	URL                     string
	Headers                 map[string]string
	TraceID                 string
}

// SFTPToHTTP streams a remote file into an outbound HTTP request body via an
// in-process pipe; the file is never written to local disk.
func (e *Engine) SFTPToHTTP(ctx context.Context, req SFTPToHTTPRequest) (TransferResult, error) {
	traceID := traceIDOrNew(req.TraceID)
	if err := e.hydrate(req.ProjectName, req.TargetName, &req.APIProfile, nil, &req.SSHProfile); err != nil {
		return TransferResult{TraceID: traceID}, err
	}
	method := req.Method
	if method == "" {
		method = "POST"
	}

	pr, pw := io.Pipe()
	type dlResult struct {
		n   int64
		err error
	}
	done := make(chan dlResult, 1)
	start := time.Now()
	go func() {
		n, err := e.ssh.SFTPStreamDownload(ctx, req.SSHProfile, req.RemotePath, pw)
		pw.CloseWithError(err)
		done <- dlResult{n, err}
	}()

	resp, httpErr := e.http.OpenStream(ctx, httpclient.StreamRequest{
		ProfileName: req.APIProfile, Method: method, URL: req.URL, Headers: req.Headers, Body: pr,
	})
	if httpErr == nil {
		resp.Body.Close()
	}
	pr.Close()
	dl := <-done
	e.auditSpan(ctx, traceID, "sftp_download", map[string]interface{}{"remote_path": req.RemotePath, "bytes": dl.n}, dl.err, start)
	e.auditSpan(ctx, traceID, "http_upload", map[string]interface{}{"url": req.URL}, httpErr, start)

	result := TransferResult{BytesTransferred: dl.n, TraceID: traceID}
	if dl.err != nil {
		return result, apperr.Normalize(dl.err)
	}
	if httpErr != nil {
		return result, apperr.Normalize(httpErr)
	}
	return result, nil
}
