package pgmanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// QueryMode selects the shape of a Query result, per spec §4.4 "Modes".
type QueryMode string

const (
	ModeRows    QueryMode = "rows"
	ModeRow     QueryMode = "row"
	ModeValue   QueryMode = "value"
	ModeCommand QueryMode = "command"
)

// QueryRequest is raw, caller-supplied SQL plus parameters; the manager
// never parses sql/where_sql/order_by_sql, it only supplies $N parameters.
type QueryRequest struct {
	SQL  string
	Args []interface{}
	Mode QueryMode
}

// QueryResult holds whichever fields Mode populated.
type QueryResult struct {
	Rows         []map[string]interface{}
	Row          map[string]interface{}
	Value        interface{}
	RowsAffected int64
}

// Query executes arbitrary caller-supplied SQL with positional parameters.
func (m *Manager) Query(ctx context.Context, spec ConnSpec, req QueryRequest) (QueryResult, error) {
	db, key, err := m.pool(ctx, spec)
	if err != nil {
		return QueryResult{}, err
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeRows
	}

	if mode == ModeCommand {
		res, err := db.ExecContext(ctx, req.SQL, req.Args...)
		if err != nil {
			return QueryResult{}, m.wrapExecErr(key, err)
		}
		affected, _ := res.RowsAffected()
		return QueryResult{RowsAffected: affected}, nil
	}

	rows, err := db.QueryContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return QueryResult{}, m.wrapExecErr(key, err)
	}
	defer rows.Close()

	cols, _ := rows.Columns()
	records, err := scanRows(rows)
	if err != nil {
		return QueryResult{}, m.wrapExecErr(key, err)
	}

	switch mode {
	case ModeRow:
		if len(records) == 0 {
			return QueryResult{}, nil
		}
		return QueryResult{Row: records[0]}, nil
	case ModeValue:
		if len(records) == 0 || len(cols) == 0 {
			return QueryResult{}, nil
		}
		return QueryResult{Value: records[0][cols[0]]}, nil
	default:
		return QueryResult{Rows: records}, nil
	}
}

// Batch runs a sequence of QueryRequests against the same pool, outside an
// explicit transaction; each statement's result is reported independently.
func (m *Manager) Batch(ctx context.Context, spec ConnSpec, reqs []QueryRequest) ([]QueryResult, error) {
	out := make([]QueryResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := m.Query(ctx, spec, req)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Transaction runs a sequence of QueryRequests inside a single BEGIN/COMMIT,
// rolling back on the first failure (spec §4.4 "Transactions").
func (m *Manager) Transaction(ctx context.Context, spec ConnSpec, reqs []QueryRequest) ([]QueryResult, error) {
	db, key, err := m.pool(ctx, spec)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, m.wrapExecErr(key, err)
	}

	out := make([]QueryResult, 0, len(reqs))
	for _, req := range reqs {
		res, stepErr := execInTx(ctx, tx, req)
		if stepErr != nil {
			_ = tx.Rollback()
			return out, apperr.Normalize(stepErr)
		}
		out = append(out, res)
	}

	if err := tx.Commit(); err != nil {
		return out, m.wrapExecErr(key, err)
	}
	return out, nil
}

func execInTx(ctx context.Context, tx *sql.Tx, req QueryRequest) (QueryResult, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeRows
	}
	if mode == ModeCommand {
		res, err := tx.ExecContext(ctx, req.SQL, req.Args...)
		if err != nil {
			return QueryResult{}, err
		}
		affected, _ := res.RowsAffected()
		return QueryResult{RowsAffected: affected}, nil
	}
	rows, err := tx.QueryContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return QueryResult{}, err
	}
	defer rows.Close()
	cols, _ := rows.Columns()
	records, err := scanRows(rows)
	if err != nil {
		return QueryResult{}, err
	}
	switch mode {
	case ModeRow:
		if len(records) == 0 {
			return QueryResult{}, nil
		}
		return QueryResult{Row: records[0]}, nil
	case ModeValue:
		if len(records) == 0 || len(cols) == 0 {
			return QueryResult{}, nil
		}
		return QueryResult{Value: records[0][cols[0]]}, nil
	default:
		return QueryResult{Rows: records}, nil
	}
}

// InsertRequest describes one insert, preserving caller column order.
type InsertRequest struct {
	Table     string
	Data      OrderedFields
	Returning bool
}

// Insert builds and runs a parameterized INSERT, per spec §8 scenario 4:
// insert({table:"analytics.orders", data:{status:"new",amount:10}, returning:true})
// -> INSERT INTO "analytics"."orders" ("status", "amount") VALUES ($1, $2) RETURNING *
func (m *Manager) Insert(ctx context.Context, spec ConnSpec, req InsertRequest) (QueryResult, error) {
	if req.Table == "" {
		return QueryResult{}, apperr.MissingParam("table")
	}
	if req.Data.empty() {
		return QueryResult{}, apperr.MissingParam("data")
	}

	cols := make([]string, len(req.Data.Keys))
	placeholders := make([]string, len(req.Data.Keys))
	args := make([]interface{}, len(req.Data.Keys))
	for i, k := range req.Data.Keys {
		cols[i] = QuoteIdent(k)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = req.Data.Values[k]
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteQualified(req.Table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	mode := ModeCommand
	if req.Returning {
		sqlStr += " RETURNING *"
		mode = ModeRows
	}

	return m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: args, Mode: mode})
}

// maxPostgresParams is postgres's hard limit on bind parameters per
// statement; insert_bulk batches rows to stay under it (spec §4.4).
const maxPostgresParams = 65535

// InsertBulkRequest accepts either row objects (preserving first row's
// column order) or parallel Columns + Rows arrays.
type InsertBulkRequest struct {
	Table      string
	Columns    []string
	Rows       [][]interface{}
	RowObjects []OrderedFields
	BatchSize  int
}

// InsertBulk batches multi-row INSERTs so cols*rowsPerBatch stays within
// postgres's parameter ceiling.
func (m *Manager) InsertBulk(ctx context.Context, spec ConnSpec, req InsertBulkRequest) (int64, error) {
	if req.Table == "" {
		return 0, apperr.MissingParam("table")
	}

	cols := req.Columns
	rows := req.Rows
	if len(req.RowObjects) > 0 {
		cols = req.RowObjects[0].Keys
		rows = make([][]interface{}, len(req.RowObjects))
		for i, obj := range req.RowObjects {
			row := make([]interface{}, len(cols))
			for j, c := range cols {
				row[j] = obj.Values[c]
			}
			rows[i] = row
		}
	}
	if len(cols) == 0 {
		return 0, apperr.MissingParam("columns")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	maxRowsPerBatch := maxPostgresParams / len(cols)
	if maxRowsPerBatch == 0 {
		return 0, apperr.New(apperr.InvalidParams, "too_many_columns", "column count exceeds the parameter limit per row")
	}
	batchSize := req.BatchSize
	if batchSize <= 0 || batchSize > maxRowsPerBatch {
		batchSize = maxRowsPerBatch
	}

	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = QuoteIdent(c)
	}

	var total int64
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var valueGroups []string
		var args []interface{}
		n := 1
		for _, row := range batch {
			placeholders := make([]string, len(cols))
			for i := range cols {
				placeholders[i] = fmt.Sprintf("$%d", n)
				args = append(args, row[i])
				n++
			}
			valueGroups = append(valueGroups, "("+strings.Join(placeholders, ", ")+")")
		}

		sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			QuoteQualified(req.Table), strings.Join(quotedCols, ", "), strings.Join(valueGroups, ", "))

		res, err := m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: args, Mode: ModeCommand})
		if err != nil {
			return total, err
		}
		total += res.RowsAffected
	}
	return total, nil
}

// UpdateRequest builds an UPDATE with a SET list and an optional filter.
type UpdateRequest struct {
	Table     string
	Data      OrderedFields
	Filter    interface{}
	Returning bool
}

func (m *Manager) Update(ctx context.Context, spec ConnSpec, req UpdateRequest) (QueryResult, error) {
	if req.Table == "" {
		return QueryResult{}, apperr.MissingParam("table")
	}
	if req.Data.empty() {
		return QueryResult{}, apperr.MissingParam("data")
	}

	sets := make([]string, len(req.Data.Keys))
	args := make([]interface{}, len(req.Data.Keys))
	for i, k := range req.Data.Keys {
		sets[i] = fmt.Sprintf("%s = $%d", QuoteIdent(k), i+1)
		args[i] = req.Data.Values[k]
	}

	whereSQL, whereArgs, err := BuildWhere(req.Filter, len(args)+1)
	if err != nil {
		return QueryResult{}, err
	}
	args = append(args, whereArgs...)

	sqlStr := fmt.Sprintf("UPDATE %s SET %s", QuoteQualified(req.Table), strings.Join(sets, ", "))
	if whereSQL != "" {
		sqlStr += " WHERE " + whereSQL
	}
	mode := ModeCommand
	if req.Returning {
		sqlStr += " RETURNING *"
		mode = ModeRows
	}
	return m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: args, Mode: mode})
}

// DeleteRequest deletes rows matching Filter (no filter deletes every row —
// callers are expected to pass an explicit {} only deliberately).
type DeleteRequest struct {
	Table     string
	Filter    interface{}
	Returning bool
}

func (m *Manager) Delete(ctx context.Context, spec ConnSpec, req DeleteRequest) (QueryResult, error) {
	if req.Table == "" {
		return QueryResult{}, apperr.MissingParam("table")
	}
	whereSQL, args, err := BuildWhere(req.Filter, 1)
	if err != nil {
		return QueryResult{}, err
	}
	sqlStr := fmt.Sprintf("DELETE FROM %s", QuoteQualified(req.Table))
	if whereSQL != "" {
		sqlStr += " WHERE " + whereSQL
	}
	mode := ModeCommand
	if req.Returning {
		sqlStr += " RETURNING *"
		mode = ModeRows
	}
	return m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: args, Mode: mode})
}

// SelectRequest is the CRUD helper's read path: columns_sql/where_sql/
// order_by_sql are caller-supplied SQL fragments passed verbatim.
type SelectRequest struct {
	Table      string
	ColumnsSQL string
	Filter     interface{}
	WhereSQL   string
	OrderBySQL string
	Limit      int
	Offset     int
}

func (m *Manager) Select(ctx context.Context, spec ConnSpec, req SelectRequest) ([]map[string]interface{}, error) {
	if req.Table == "" {
		return nil, apperr.MissingParam("table")
	}
	cols := req.ColumnsSQL
	if cols == "" {
		cols = "*"
	}
	sqlStr := fmt.Sprintf("SELECT %s FROM %s", cols, QuoteQualified(req.Table))

	var args []interface{}
	if req.WhereSQL != "" {
		sqlStr += " WHERE " + req.WhereSQL
	} else if req.Filter != nil {
		whereSQL, whereArgs, err := BuildWhere(req.Filter, 1)
		if err != nil {
			return nil, err
		}
		if whereSQL != "" {
			sqlStr += " WHERE " + whereSQL
			args = whereArgs
		}
	}
	if req.OrderBySQL != "" {
		sqlStr += " ORDER BY " + req.OrderBySQL
	}
	if req.Limit > 0 {
		sqlStr += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	if req.Offset > 0 {
		sqlStr += fmt.Sprintf(" OFFSET %d", req.Offset)
	}

	res, err := m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: args, Mode: ModeRows})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (m *Manager) Count(ctx context.Context, spec ConnSpec, table string, filter interface{}) (int64, error) {
	whereSQL, args, err := BuildWhere(filter, 1)
	if err != nil {
		return 0, err
	}
	sqlStr := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteQualified(table))
	if whereSQL != "" {
		sqlStr += " WHERE " + whereSQL
	}
	res, err := m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: args, Mode: ModeValue})
	if err != nil {
		return 0, err
	}
	switch v := res.Value.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, nil
	}
}

func (m *Manager) Exists(ctx context.Context, spec ConnSpec, table string, filter interface{}) (bool, error) {
	whereSQL, args, err := BuildWhere(filter, 1)
	if err != nil {
		return false, err
	}
	sqlStr := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s", QuoteQualified(table))
	if whereSQL != "" {
		sqlStr += " WHERE " + whereSQL
	}
	sqlStr += ")"
	res, err := m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: args, Mode: ModeValue})
	if err != nil {
		return false, err
	}
	b, _ := res.Value.(bool)
	return b, nil
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			rec[c] = normalizeScanValue(vals[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func normalizeScanValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (m *Manager) wrapExecErr(poolKey string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		m.evict(poolKey)
		return apperr.Wrap(apperr.Retryable, "pg_connection_error", "postgres connection failed", err)
	}
	return apperr.Wrap(apperr.Internal, "pg_query_failed", "postgres query failed", err)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection") && (strings.Contains(msg, "closed") || strings.Contains(msg, "reset") || strings.Contains(msg, "refused"))
}
