package pgmanager

import "strings"

// QuoteIdent double-quotes each given part of a user-supplied identifier,
// doubling any embedded quote, and joins the parts with dots, per spec
// §4.4's "Identifier safety" rule. It does not split a part on dots (see
// QuoteQualified). QuoteIdent("analytics", "orders") -> `"analytics"."orders"`.
func QuoteIdent(parts ...string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(out, ".")
}

// QuoteQualified splits a dotted identifier string (e.g. "analytics.orders")
// and quotes each part independently.
func QuoteQualified(dotted string) string {
	return QuoteIdent(strings.Split(dotted, ".")...)
}
