// Package postgres resolves metadata for remote postgres-backed data
// sources. Remote tables cannot produce exact row counts cheaply, so
// snapshots built here always carry the estimate flag.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/duckbench/duckbench/internal/metacache"
	"github.com/duckbench/duckbench/internal/query"
)

type Config struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
}

func Open(ctx context.Context, cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres source: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres source: %w", err)
	}

	return &Source{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB) *Source {
	return &Source{db: db}
}

type Source struct {
	db *sql.DB
}

func (s *Source) Close() error {
	return s.db.Close()
}

// Describe reads the table's columns from information_schema and its row
// estimate from the planner statistics in pg_class.
func (s *Source) Describe(ctx context.Context, schema, table string) (metacache.Snapshot, error) {
	if strings.TrimSpace(schema) == "" {
		schema = "public"
	}
	if strings.TrimSpace(table) == "" {
		return metacache.Snapshot{}, fmt.Errorf("table name is required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name, data_type
		   FROM information_schema.columns
		  WHERE table_schema = $1 AND table_name = $2
		  ORDER BY ordinal_position`,
		schema, table)
	if err != nil {
		return metacache.Snapshot{}, fmt.Errorf("list columns for %s.%s: %w", schema, table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []query.ColumnDescriptor
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return metacache.Snapshot{}, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, query.ColumnDescriptor{
			Name:         name,
			DeclaredType: strings.ToUpper(dataType),
		})
	}
	if err := rows.Err(); err != nil {
		return metacache.Snapshot{}, fmt.Errorf("iterate column rows: %w", err)
	}
	if len(columns) == 0 {
		return metacache.Snapshot{}, fmt.Errorf("table %s.%s not found", schema, table)
	}

	var estimate int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(reltuples, 0)::bigint
		   FROM pg_class
		  WHERE oid = to_regclass($1)`,
		fmt.Sprintf("%s.%s", schema, table)).Scan(&estimate)
	if err != nil {
		return metacache.Snapshot{}, fmt.Errorf("estimate row count for %s.%s: %w", schema, table, err)
	}
	if estimate < 0 {
		estimate = 0
	}

	return metacache.Snapshot{
		Columns:            columns,
		RowCount:           estimate,
		RowCountIsEstimate: true,
	}, nil
}
