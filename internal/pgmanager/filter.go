package pgmanager

import (
	"fmt"
	"strings"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

var allowedOps = map[string]string{
	"=": "=", "==": "=",
	"!=": "!=", "<>": "!=",
	"<": "<", ">": ">", "<=": "<=", ">=": ">=",
	"like": "LIKE", "LIKE": "LIKE",
	"in": "IN", "IN": "IN",
	"not in": "NOT IN", "NOT IN": "NOT IN", "not_in": "NOT IN",
}

// FilterCond is one array-form filter condition.
type FilterCond struct {
	Column string      `json:"column"`
	Op     string      `json:"op"`
	Value  interface{} `json:"value"`
}

// BuildWhere renders either a {column: value} AND-map or a []FilterCond into
// a "WHERE ..." clause (without the WHERE keyword) and its positional
// parameters, starting numbering at startParam (1-based $N placeholders).
// Returns ("", nil, nil) for an empty/nil filter.
func BuildWhere(filter interface{}, startParam int) (string, []interface{}, error) {
	if filter == nil {
		return "", nil, nil
	}

	switch f := filter.(type) {
	case map[string]interface{}:
		if len(f) == 0 {
			return "", nil, nil
		}
		var clauses []string
		var args []interface{}
		n := startParam
		for _, col := range sortedKeys(f) {
			val := f[col]
			if val == nil {
				clauses = append(clauses, fmt.Sprintf("%s IS NULL", QuoteIdent(col)))
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s = $%d", QuoteIdent(col), n))
			args = append(args, val)
			n++
		}
		return strings.Join(clauses, " AND "), args, nil

	case []interface{}:
		var clauses []string
		var args []interface{}
		n := startParam
		for _, raw := range f {
			condMap, ok := raw.(map[string]interface{})
			if !ok {
				return "", nil, apperr.New(apperr.InvalidParams, "filter_shape_error", "array filter entries must be objects")
			}
			column, _ := condMap["column"].(string)
			if column == "" {
				return "", nil, apperr.MissingParam("filter.column")
			}
			opRaw, _ := condMap["op"].(string)
			op, ok := allowedOps[opRaw]
			if !ok {
				return "", nil, apperr.New(apperr.InvalidParams, "filter_op_invalid", "unsupported filter operator").
					WithDetails("op", opRaw)
			}
			value := condMap["value"]

			switch op {
			case "IN", "NOT IN":
				arr, ok := value.([]interface{})
				if !ok || len(arr) == 0 {
					return "", nil, apperr.New(apperr.InvalidParams, "filter_value_invalid", "IN/NOT IN requires a non-empty array value").
						WithDetails("column", column)
				}
				placeholders := make([]string, len(arr))
				for i, v := range arr {
					placeholders[i] = fmt.Sprintf("$%d", n)
					args = append(args, v)
					n++
				}
				clauses = append(clauses, fmt.Sprintf("%s %s (%s)", QuoteIdent(column), op, strings.Join(placeholders, ", ")))
			default:
				clauses = append(clauses, fmt.Sprintf("%s %s $%d", QuoteIdent(column), op, n))
				args = append(args, value)
				n++
			}
		}
		return strings.Join(clauses, " AND "), args, nil

	default:
		return "", nil, apperr.New(apperr.InvalidParams, "filter_shape_error", "filter must be an object or array")
	}
}
