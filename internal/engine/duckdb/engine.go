// Package duckdb owns the single embedded engine instance. Every other
// component reaches the engine through sessions handed out here; the pool is
// the only caller of OpenSession.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckbench/duckbench/internal/query"
	"github.com/duckbench/duckbench/internal/storage"
)

type Config struct {
	// Path is the database file; empty means in-memory.
	Path string
	// SpoolDir receives parquet files pulled from the object store before
	// they are registered as views. Empty means a fresh temp dir.
	SpoolDir string
}

type Engine struct {
	db       *sql.DB
	store    storage.ObjectStore
	spoolDir string
	ownSpool bool
	logger   *slog.Logger
}

func Open(ctx context.Context, cfg Config, store storage.ObjectStore, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	spoolDir := strings.TrimSpace(cfg.SpoolDir)
	ownSpool := false
	if spoolDir == "" {
		spoolDir, err = os.MkdirTemp("", "duckbench-spool-")
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create spool dir: %w", err)
		}
		ownSpool = true
	}

	return &Engine{db: db, store: store, spoolDir: spoolDir, ownSpool: ownSpool, logger: logger}, nil
}

// OpenSession pins one connection off the shared handle. Views registered by
// AttachDataset are visible to every session.
func (e *Engine) OpenSession(ctx context.Context) (query.Session, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open engine session: %w", err)
	}
	return &Session{conn: conn}, nil
}

// AttachDataset materializes the dataset's parquet objects into the spool
// directory and registers a view over them.
func (e *Engine) AttachDataset(ctx context.Context, name string, objectKeys []string) error {
	if err := storage.ValidateDatasetName(name); err != nil {
		return err
	}
	if len(objectKeys) == 0 {
		return fmt.Errorf("dataset %q has no files", name)
	}
	if e.store == nil {
		return fmt.Errorf("object store is required to attach datasets")
	}

	dir := filepath.Join(e.spoolDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset spool dir: %w", err)
	}

	localPaths := make([]string, 0, len(objectKeys))
	for index, key := range objectKeys {
		reader, err := e.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get object %q: %w", key, err)
		}
		localPath := filepath.Join(dir, fmt.Sprintf("part_%d.parquet", index))
		if err := spoolFile(localPath, reader); err != nil {
			_ = reader.Close()
			return fmt.Errorf("spool parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return fmt.Errorf("close object %q: %w", key, err)
		}
		localPaths = append(localPaths, localPath)
	}

	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(name), quoteStringArray(localPaths))
	if _, err := e.db.ExecContext(ctx, viewSQL); err != nil {
		return fmt.Errorf("create view for dataset %q: %w", name, err)
	}
	e.logger.Debug("dataset attached", slog.String("dataset", name), slog.Int("files", len(localPaths)))
	return nil
}

// DetachDataset drops the dataset's view and removes its spooled files.
func (e *Engine) DetachDataset(ctx context.Context, name string) error {
	if err := storage.ValidateDatasetName(name); err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`DROP VIEW IF EXISTS %s`, quoteIdent(name))); err != nil {
		return fmt.Errorf("drop view for dataset %q: %w", name, err)
	}
	if err := os.RemoveAll(filepath.Join(e.spoolDir, name)); err != nil {
		e.logger.Warn("remove spooled dataset files", slog.String("dataset", name), slog.Any("error", err))
	}
	return nil
}

func (e *Engine) Close() error {
	err := e.db.Close()
	if e.ownSpool {
		_ = os.RemoveAll(e.spoolDir)
	}
	return err
}

// Session is one pinned engine connection. At most one statement runs on it
// at a time; cancellation is observed through the query context.
type Session struct {
	conn *sql.Conn
}

func (s *Session) Query(ctx context.Context, sqlText string) (query.Result, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	rows, err := s.conn.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	schema := make([]query.ColumnDescriptor, 0, len(columnTypes))
	for _, columnType := range columnTypes {
		schema = append(schema, query.ColumnDescriptor{
			Name:         columnType.Name(),
			DeclaredType: columnType.DatabaseTypeName(),
		})
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(schema))
		scanTargets := make([]any, len(schema))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, err
	}

	return query.Result{
		Schema:   schema,
		Rows:     resultRows,
		RowCount: int64(len(resultRows)),
		Duration: time.Since(start),
	}, nil
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
