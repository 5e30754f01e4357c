package pgmanager

import "context"

// TableInfo describes one catalog_tables row.
type TableInfo struct {
	Schema string
	Name   string
	Kind   string
}

// CatalogTables lists base tables and views visible to the connection,
// excluding postgres's own system schemas.
func (m *Manager) CatalogTables(ctx context.Context, spec ConnSpec, schema string) ([]TableInfo, error) {
	sqlStr := `
		SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND ($1 = '' OR table_schema = $1)
		ORDER BY table_schema, table_name`
	res, err := m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: []interface{}{schema}, Mode: ModeRows})
	if err != nil {
		return nil, err
	}
	out := make([]TableInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		kind := "table"
		if t, _ := row["table_type"].(string); t == "VIEW" {
			kind = "view"
		}
		out = append(out, TableInfo{
			Schema: asString(row["table_schema"]),
			Name:   asString(row["table_name"]),
			Kind:   kind,
		})
	}
	return out, nil
}

// ColumnInfo describes one catalog_columns row.
type ColumnInfo struct {
	Name       string
	DataType   string
	Nullable   bool
	Default    string
	OrdinalPos int
}

// CatalogColumns lists column metadata for one table.
func (m *Manager) CatalogColumns(ctx context.Context, spec ConnSpec, schema, table string) ([]ColumnInfo, error) {
	sqlStr := `
		SELECT column_name, data_type, is_nullable, COALESCE(column_default, ''), ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`
	res, err := m.Query(ctx, spec, QueryRequest{SQL: sqlStr, Args: []interface{}{schema, table}, Mode: ModeRows})
	if err != nil {
		return nil, err
	}
	out := make([]ColumnInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, ColumnInfo{
			Name:       asString(row["column_name"]),
			DataType:   asString(row["data_type"]),
			Nullable:   asString(row["is_nullable"]) == "YES",
			Default:    asString(row["coalesce"]),
			OrdinalPos: asInt(row["ordinal_position"]),
		})
	}
	return out, nil
}

// DatabaseInfo reports server version, current database, and current user.
type DatabaseInfo struct {
	Version  string
	Database string
	User     string
}

func (m *Manager) DatabaseInfo(ctx context.Context, spec ConnSpec) (DatabaseInfo, error) {
	res, err := m.Query(ctx, spec, QueryRequest{
		SQL: "SELECT version(), current_database(), current_user", Mode: ModeRow,
	})
	if err != nil {
		return DatabaseInfo{}, err
	}
	return DatabaseInfo{
		Version:  asString(res.Row["version"]),
		Database: asString(res.Row["current_database"]),
		User:     asString(res.Row["current_user"]),
	}, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
