package adapter

import (
	"fmt"
	"strings"

	"github.com/duckbench/duckbench/internal/query"
)

// buildSelect wraps the immutable base query with the current sort and
// pagination window. The base is never edited in place; every request derives
// from it.
func buildSelect(baseSQL string, sort *query.Sort, page *query.Page, rowCap int) string {
	var b strings.Builder
	b.WriteString("SELECT * FROM (")
	b.WriteString(stripTrailingSemicolons(baseSQL))
	b.WriteString(") AS t")
	if sort != nil {
		b.WriteString(" ORDER BY ")
		b.WriteString(quoteIdent(sort.Column))
		b.WriteString(" ")
		b.WriteString(string(sort.Direction))
	}
	if page != nil {
		fmt.Fprintf(&b, " LIMIT %d OFFSET %d", page.Size, page.Offset())
	} else if rowCap > 0 {
		fmt.Fprintf(&b, " LIMIT %d", rowCap)
	}
	return b.String()
}

func countSelect(baseSQL string) string {
	return "SELECT COUNT(*) FROM (" + stripTrailingSemicolons(baseSQL) + ") AS t"
}

func summarySelect(baseSQL, column string, kind query.AggregateKind) string {
	aggregate := "COUNT"
	if kind == query.AggregateSum {
		aggregate = "SUM"
	}
	return fmt.Sprintf("SELECT %s(%s) FROM (%s) AS t", aggregate, quoteIdent(column), stripTrailingSemicolons(baseSQL))
}

// quoteIdent tolerates arbitrary column names, including embedded quotes.
func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

var numericTypes = map[string]struct{}{
	"TINYINT":   {},
	"SMALLINT":  {},
	"INTEGER":   {},
	"BIGINT":    {},
	"HUGEINT":   {},
	"UTINYINT":  {},
	"USMALLINT": {},
	"UINTEGER":  {},
	"UBIGINT":   {},
	"UHUGEINT":  {},
	"FLOAT":     {},
	"REAL":      {},
	"DOUBLE":    {},
}

// isNumericType reports whether SUM is meaningful for the declared engine
// type; everything else falls back to COUNT.
func isNumericType(declared string) bool {
	upper := strings.ToUpper(strings.TrimSpace(declared))
	if _, ok := numericTypes[upper]; ok {
		return true
	}
	return strings.HasPrefix(upper, "DECIMAL") || strings.HasPrefix(upper, "NUMERIC")
}
