// Package parquet builds metadata snapshots for attached datasets straight
// from the parquet footers, so schema browsing never has to hold an engine
// session.
package parquet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/duckbench/duckbench/internal/metacache"
	"github.com/duckbench/duckbench/internal/query"
	"github.com/duckbench/duckbench/internal/storage"
)

// Inspect reads every object of the dataset and returns its schema and exact
// row count. Local parquet sources are the cheap case: the footer already
// carries both.
func Inspect(ctx context.Context, store storage.ObjectStore, objectKeys []string) (metacache.Snapshot, error) {
	if store == nil {
		return metacache.Snapshot{}, fmt.Errorf("object store is required")
	}
	if len(objectKeys) == 0 {
		return metacache.Snapshot{}, fmt.Errorf("dataset has no files")
	}

	var columns []query.ColumnDescriptor
	var rowCount int64
	for index, key := range objectKeys {
		file, err := openObject(ctx, store, key)
		if err != nil {
			return metacache.Snapshot{}, err
		}
		rowCount += file.NumRows()
		if index == 0 {
			columns = describeSchema(file.Schema())
		}
	}

	return metacache.Snapshot{
		Columns:            columns,
		RowCount:           rowCount,
		RowCountIsEstimate: false,
	}, nil
}

func openObject(ctx context.Context, store storage.ObjectStore, key string) (*parquet.File, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	file, err := parquet.OpenFile(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open parquet object %q: %w", key, err)
	}
	return file, nil
}

func describeSchema(schema *parquet.Schema) []query.ColumnDescriptor {
	fields := schema.Fields()
	columns := make([]query.ColumnDescriptor, 0, len(fields))
	for _, field := range fields {
		declared := "STRUCT"
		if field.Leaf() {
			declared = strings.ToUpper(field.Type().String())
		}
		columns = append(columns, query.ColumnDescriptor{
			Name:         field.Name(),
			DeclaredType: declared,
		})
	}
	return columns
}
