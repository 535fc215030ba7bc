package workbench

import (
	"fmt"
	"strings"

	"github.com/duckbench/duckbench/internal/registry"
)

// baseSQLForSpec derives the browsing query for a source. Parquet datasets
// are already engine views; remote tables go through the engine's postgres
// scanner.
func baseSQLForSpec(spec registry.Spec) (string, error) {
	switch typed := spec.(type) {
	case registry.ParquetDatasetSpec:
		return fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(typed.Dataset)), nil
	case registry.PostgresTableSpec:
		schema := typed.Schema
		if strings.TrimSpace(schema) == "" {
			schema = "public"
		}
		return fmt.Sprintf(`SELECT * FROM postgres_scan(%s, %s, %s)`,
			quoteString(typed.DSN), quoteString(schema), quoteString(typed.Table)), nil
	case registry.TabResultSpec:
		return typed.BaseSQL, nil
	default:
		return "", fmt.Errorf("unsupported data source spec %T", spec)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
