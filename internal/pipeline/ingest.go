package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/sentryfrogg/engine/internal/httpclient"
	"github.com/sentryfrogg/engine/internal/pgmanager"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// IngestFormat selects how an ingestion source's bytes are parsed into rows
// (spec §4.7 "Ingestion to Postgres").
type IngestFormat string

const (
	IngestJSONL IngestFormat = "jsonl"
	IngestCSV   IngestFormat = "csv"
)

// IngestResult reports how much of an ingestion completed, including on
// partial failure (spec §4.7 "Failure semantics").
type IngestResult struct {
	RowsWritten int64  `json:"rows_written"`
	TraceID     string `json:"trace_id"`
}

const defaultIngestBatchSize = 500

// parseJSONLRows scans r line by line; each non-empty line must decode as a
// JSON object (spec's "each non-empty line must parse to an object").
// Batches of batchSize rows are handed to flush as they fill; maxRows (if
// >0) stops ingestion after that many rows have been parsed.
func parseJSONLRows(r io.Reader, maxRows, batchSize int, flush func([]pgmanager.OrderedFields) error) (int64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var batch []pgmanager.OrderedFields
	var total int64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var fields pgmanager.OrderedFields
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			return total, apperr.Wrap(apperr.InvalidParams, "pipeline_bad_jsonl", "line did not parse as a JSON object", err)
		}
		batch = append(batch, fields)
		total++

		stop := maxRows > 0 && total >= int64(maxRows)
		if len(batch) == batchSize || stop {
			if err := flush(batch); err != nil {
				return total, err
			}
			batch = nil
		}
		if stop {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return total, apperr.Wrap(apperr.Internal, "pipeline_read_failed", "failed to read ingestion source", err)
	}
	if len(batch) > 0 {
		if err := flush(batch); err != nil {
			return total, err
		}
	}
	return total, nil
}

// parseCSVRows reads r as CSV; the first row is the header unless columns
// is supplied (spec's "for csv, the first row is the header unless columns
// is supplied").
func parseCSVRows(r io.Reader, columns []string, maxRows, batchSize int, flush func([]pgmanager.OrderedFields) error) (int64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header := columns
	var batch []pgmanager.OrderedFields
	var total int64
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, apperr.Wrap(apperr.InvalidParams, "pipeline_bad_csv", "failed to parse csv row", err)
		}
		if header == nil {
			header = record
			continue
		}

		values := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(record) {
				values[col] = record[i]
			}
		}
		batch = append(batch, pgmanager.OrderedFields{Keys: header, Values: values})
		total++

		stop := maxRows > 0 && total >= int64(maxRows)
		if len(batch) == batchSize || stop {
			if err := flush(batch); err != nil {
				return total, err
			}
			batch = nil
		}
		if stop {
			break
		}
	}
	if len(batch) > 0 {
		if err := flush(batch); err != nil {
			return total, err
		}
	}
	return total, nil
}

// parseRows dispatches to the format-specific parser.
func parseRows(r io.Reader, format IngestFormat, columns []string, maxRows, batchSize int, flush func([]pgmanager.OrderedFields) error) (int64, error) {
	if format == IngestCSV {
		return parseCSVRows(r, columns, maxRows, batchSize, flush)
	}
	return parseJSONLRows(r, maxRows, batchSize, flush)
}

// HTTPToPostgresRequest is one `http_to_postgres` pipeline call.
type HTTPToPostgresRequest struct {
	ProjectName, TargetName string
	APIProfile              string
	Method                  string
	URL                     string
	Headers                 map[string]string
	PostgresProfile         string
	Table                   string
	Format                  IngestFormat
	Columns                 []string
	BatchSize               int
	MaxRows                 int
	ArtifactPath            string
	ArtifactBytes           int64
	TraceID                 string
}

// HTTPToPostgres streams an HTTP response body directly into batched
// insert_bulk calls, never materializing the full response.
func (e *Engine) HTTPToPostgres(ctx context.Context, req HTTPToPostgresRequest) (IngestResult, error) {
	traceID := traceIDOrNew(req.TraceID)
	if err := e.hydrate(req.ProjectName, req.TargetName, &req.APIProfile, &req.PostgresProfile, nil); err != nil {
		return IngestResult{TraceID: traceID}, err
	}
	if req.Table == "" {
		return IngestResult{TraceID: traceID}, apperr.MissingParam("table")
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultIngestBatchSize
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
		return IngestResult{TraceID: traceID}, err
	}
	defer resp.Body.Close()

	source, closeTap, tapErr := artifactTap(resp.Body, req.ArtifactPath, req.ArtifactBytes)
	if tapErr != nil {
		return IngestResult{TraceID: traceID}, tapErr
	}
	defer closeTap()

	spec := pgmanager.ConnSpec{ProfileName: req.PostgresProfile}
	var rows int64
	flush := func(batch []pgmanager.OrderedFields) error {
		flushStart := time.Now()
		n, ferr := e.pg.InsertBulk(ctx, spec, pgmanager.InsertBulkRequest{Table: req.Table, RowObjects: batch})
		e.auditSpan(ctx, traceID, "postgres_insert", map[string]interface{}{"table": req.Table, "batch_rows": len(batch)}, ferr, flushStart)
		rows += n
		return ferr
	}

	_, parseErr := parseRows(source, req.Format, req.Columns, req.MaxRows, batchSize, flush)
	result := IngestResult{RowsWritten: rows, TraceID: traceID}
	if parseErr != nil {
		return result, apperr.Normalize(parseErr)
	}
	return result, nil
}

// SFTPToPostgresRequest is one `sftp_to_postgres` pipeline call.
type SFTPToPostgresRequest struct {
	ProjectName, TargetName string
	SSHProfile              string
	RemotePath              string
	PostgresProfile         string
	Table                   string
	Format                  IngestFormat
	Columns                 []string
	BatchSize               int
	MaxRows                 int
	TraceID                 string
}

// SFTPToPostgres streams a remote file straight into batched insert_bulk
// calls via an in-process pipe, so the file is never written to local disk.
func (e *Engine) SFTPToPostgres(ctx context.Context, req SFTPToPostgresRequest) (IngestResult, error) {
	traceID := traceIDOrNew(req.TraceID)
	if err := e.hydrate(req.ProjectName, req.TargetName, nil, &req.PostgresProfile, &req.SSHProfile); err != nil {
		return IngestResult{TraceID: traceID}, err
	}
	if req.Table == "" {
		return IngestResult{TraceID: traceID}, apperr.MissingParam("table")
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultIngestBatchSize
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

	spec := pgmanager.ConnSpec{ProfileName: req.PostgresProfile}
	var rows int64
	flush := func(batch []pgmanager.OrderedFields) error {
		flushStart := time.Now()
		n, ferr := e.pg.InsertBulk(ctx, spec, pgmanager.InsertBulkRequest{Table: req.Table, RowObjects: batch})
		e.auditSpan(ctx, traceID, "postgres_insert", map[string]interface{}{"table": req.Table, "batch_rows": len(batch)}, ferr, flushStart)
		rows += n
		return ferr
	}

	_, parseErr := parseRows(pr, req.Format, req.Columns, req.MaxRows, batchSize, flush)
	pr.Close() // unblocks the download goroutine if we stopped (max_rows) before EOF
	dl := <-done
	e.auditSpan(ctx, traceID, "sftp_download", map[string]interface{}{"remote_path": req.RemotePath, "bytes": dl.n}, dl.err, start)

	result := IngestResult{RowsWritten: rows, TraceID: traceID}
	if dl.err != nil {
		return result, apperr.Normalize(dl.err)
	}
	if parseErr != nil {
		return result, apperr.Normalize(parseErr)
	}
	return result, nil
}
