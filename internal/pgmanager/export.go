package pgmanager

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// ExportFormat selects the sink encoding for Export.
type ExportFormat string

const (
	ExportCSV   ExportFormat = "csv"
	ExportJSONL ExportFormat = "jsonl"
)

// ExportRequest configures a paginated streaming export (spec §4.4
// "export"). N rows at batch B issue ⌈N/B⌉ pages when N is not a multiple
// of B. When it is (N = 0 included), the export issues one more SELECT,
// which returns no rows and ends the loop; that empty page is counted in
// ExportResult.Pages.
type ExportRequest struct {
	Table      string
	ColumnsSQL string
	Filter     interface{}
	OrderBySQL string
	Format     ExportFormat
	BatchSize  int
	MaxRows    int
}

// ExportResult reports what was written.
type ExportResult struct {
	RowsWritten int64
	Pages       int
}

// ExportStream runs the paginated LIMIT/OFFSET export, writing CSV (with a
// header line once) or JSONL to w. It is the variant pipelines drive
// directly so the whole transfer stays one bounded-memory stream.
func (m *Manager) ExportStream(ctx context.Context, spec ConnSpec, req ExportRequest, w io.Writer) (ExportResult, error) {
	if req.Table == "" {
		return ExportResult{}, apperr.MissingParam("table")
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	format := req.Format
	if format == "" {
		format = ExportJSONL
	}

	var csvWriter *csv.Writer
	var headerWritten bool
	if format == ExportCSV {
		csvWriter = csv.NewWriter(w)
	}

	var result ExportResult
	offset := 0
	for {
		if req.MaxRows > 0 && int64(offset) >= int64(req.MaxRows) {
			break
		}
		limit := batchSize
		if req.MaxRows > 0 && offset+limit > req.MaxRows {
			limit = req.MaxRows - offset
		}

		rows, err := m.Select(ctx, spec, SelectRequest{
			Table: req.Table, ColumnsSQL: req.ColumnsSQL, Filter: req.Filter,
			OrderBySQL: req.OrderBySQL, Limit: limit, Offset: offset,
		})
		if err != nil {
			return result, err
		}
		result.Pages++
		if len(rows) == 0 {
			break
		}

		switch format {
		case ExportCSV:
			if !headerWritten {
				if err := csvWriter.Write(csvHeader(rows[0])); err != nil {
					return result, apperr.InternalErr("write csv header", err)
				}
				headerWritten = true
			}
			for _, rec := range rows {
				if err := csvWriter.Write(csvRow(rec)); err != nil {
					return result, apperr.InternalErr("write csv row", err)
				}
			}
			csvWriter.Flush()
			if err := csvWriter.Error(); err != nil {
				return result, apperr.InternalErr("flush csv", err)
			}
		default:
			for _, rec := range rows {
				b, err := json.Marshal(rec)
				if err != nil {
					return result, apperr.InternalErr("encode jsonl row", err)
				}
				if _, err := w.Write(append(b, '\n')); err != nil {
					return result, apperr.InternalErr("write jsonl row", err)
				}
			}
		}

		result.RowsWritten += int64(len(rows))
		offset += len(rows)
		if len(rows) < limit {
			break
		}
	}
	return result, nil
}

// ExportToFile streams the export into w and closes w when it returns,
// whatever the outcome. It opens no file and does no atomic write itself;
// callers needing atomicity route the destination through
// filestore.WriteAtomic at the caller layer (file destinations here are the
// pipeline engine's staged artifact paths, already temp-sibling names).
func (m *Manager) ExportToFile(ctx context.Context, spec ConnSpec, req ExportRequest, w io.WriteCloser) (ExportResult, error) {
	defer w.Close()
	return m.ExportStream(ctx, spec, req, w)
}

func csvHeader(row map[string]interface{}) []string {
	return sortedKeys(row)
}

func csvRow(row map[string]interface{}) []string {
	keys := sortedKeys(row)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprint(row[k])
	}
	return out
}
