package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/sentryfrogg/engine/internal/httpclient"
	"github.com/sentryfrogg/engine/internal/pgmanager"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// ExportResult reports what an export-driven flow moved.
type ExportResult struct {
	RowsWritten      int64  `json:"rows_written"`
	BytesTransferred int64  `json:"bytes_transferred"`
	TraceID          string `json:"trace_id"`
}

// buildExportRequest shares the pgmanager.ExportRequest construction
// between the two export flows.
func buildExportRequest(table, columnsSQL, orderBySQL string, filter interface{}, format IngestFormat, batchSize, maxRows int) pgmanager.ExportRequest {
	pgFormat := pgmanager.ExportJSONL
	if format == IngestCSV {
		pgFormat = pgmanager.ExportCSV
	}
	return pgmanager.ExportRequest{
		Table: table, ColumnsSQL: columnsSQL, Filter: filter, OrderBySQL: orderBySQL,
		Format: pgFormat, BatchSize: batchSize, MaxRows: maxRows,
	}
}

// PostgresToSFTPRequest is one `postgres_to_sftp` pipeline call.
type PostgresToSFTPRequest struct {
	ProjectName, TargetName string
	PostgresProfile         string
	Table                   string
	ColumnsSQL              string
	Filter                  interface{}
	OrderBySQL              string
	Format                  IngestFormat
	BatchSize               int
	MaxRows                 int
	SSHProfile              string
	RemotePath              string
	Overwrite               bool
	MakeDirs                bool
	TraceID                 string
}

// PostgresToSFTP streams a paginated LIMIT/OFFSET export straight into a
// remote file via an in-process pipe; no intermediate buffering of rows or
// bytes beyond one export page.
func (e *Engine) PostgresToSFTP(ctx context.Context, req PostgresToSFTPRequest) (ExportResult, error) {
	traceID := traceIDOrNew(req.TraceID)
	if err := e.hydrate(req.ProjectName, req.TargetName, nil, &req.PostgresProfile, &req.SSHProfile); err != nil {
		return ExportResult{TraceID: traceID}, err
	}

	pr, pw := io.Pipe()
	type exportDone struct {
		res pgmanager.ExportResult
		err error
	}
	done := make(chan exportDone, 1)
	spec := pgmanager.ConnSpec{ProfileName: req.PostgresProfile}
	exportReq := buildExportRequest(req.Table, req.ColumnsSQL, req.OrderBySQL, req.Filter, req.Format, req.BatchSize, req.MaxRows)

	start := time.Now()
	go func() {
		res, err := e.pg.ExportStream(ctx, spec, exportReq, pw)
		pw.CloseWithError(err)
		done <- exportDone{res, err}
	}()

	n, upErr := e.ssh.SFTPStreamUpload(ctx, req.SSHProfile, req.RemotePath, pr, req.Overwrite, req.MakeDirs)
	pr.Close()
	exp := <-done
	e.auditSpan(ctx, traceID, "postgres_export", map[string]interface{}{"table": req.Table, "rows": exp.res.RowsWritten}, exp.err, start)
	e.auditSpan(ctx, traceID, "sftp_upload", map[string]interface{}{"remote_path": req.RemotePath, "bytes": n}, upErr, start)

	result := ExportResult{RowsWritten: exp.res.RowsWritten, BytesTransferred: n, TraceID: traceID}
	if exp.err != nil {
		return result, apperr.Normalize(exp.err)
	}
	if upErr != nil {
		return result, apperr.Normalize(upErr)
	}
	return result, nil
}

// PostgresToHTTPRequest is one `postgres_to_http` pipeline call: a paginated
// export streamed as the body of an outbound HTTP request (e.g. a bulk
// webhook ingest endpoint).
type PostgresToHTTPRequest struct {
	ProjectName, TargetName string
	PostgresProfile         string
	Table                   string
	ColumnsSQL              string
	Filter                  interface{}
	OrderBySQL              string
	Format                  IngestFormat
	BatchSize               int
	MaxRows                 int
	APIProfile              string
	Method                  string
	URL                     string
	Headers                 map[string]string
	TraceID                 string
}

func (e *Engine) PostgresToHTTP(ctx context.Context, req PostgresToHTTPRequest) (ExportResult, error) {
	traceID := traceIDOrNew(req.TraceID)
	if err := e.hydrate(req.ProjectName, req.TargetName, &req.APIProfile, &req.PostgresProfile, nil); err != nil {
		return ExportResult{TraceID: traceID}, err
	}
	method := req.Method
	if method == "" {
		method = "POST"
	}

	pr, pw := io.Pipe()
	type exportDone struct {
		res pgmanager.ExportResult
		err error
	}
	done := make(chan exportDone, 1)
	spec := pgmanager.ConnSpec{ProfileName: req.PostgresProfile}
	exportReq := buildExportRequest(req.Table, req.ColumnsSQL, req.OrderBySQL, req.Filter, req.Format, req.BatchSize, req.MaxRows)

	start := time.Now()
	go func() {
		res, err := e.pg.ExportStream(ctx, spec, exportReq, pw)
		pw.CloseWithError(err)
		done <- exportDone{res, err}
	}()

	resp, httpErr := e.http.OpenStream(ctx, httpclient.StreamRequest{
		ProfileName: req.APIProfile, Method: method, URL: req.URL, Headers: req.Headers, Body: pr,
	})
	if httpErr == nil {
		resp.Body.Close()
	}
	pr.Close()
	exp := <-done
	e.auditSpan(ctx, traceID, "postgres_export", map[string]interface{}{"table": req.Table, "rows": exp.res.RowsWritten}, exp.err, start)
	e.auditSpan(ctx, traceID, "http_upload", map[string]interface{}{"url": req.URL}, httpErr, start)

	result := ExportResult{RowsWritten: exp.res.RowsWritten, TraceID: traceID}
	if exp.err != nil {
		return result, apperr.Normalize(exp.err)
	}
	if httpErr != nil {
		return result, apperr.Normalize(httpErr)
	}
	return result, nil
}
