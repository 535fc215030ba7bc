package query

import (
	"context"
	"time"
)

// Direction is the sort direction applied to a single column.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// AggregateKind selects the aggregate computed for a column summary.
type AggregateKind string

const (
	AggregateSum   AggregateKind = "sum"
	AggregateCount AggregateKind = "count"
)

type ColumnDescriptor struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
}

type Page struct {
	Number int
	Size   int
}

// Offset is the row offset the page translates to, independent of any
// previously requested page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

type Sort struct {
	Column    string
	Direction Direction
}

// Request describes one governed unit of work. A new Request from the same
// adapter fully supersedes any in-flight one.
type Request struct {
	BaseSQL string
	Page    *Page
	Sort    *Sort
	RowCap  int
}

type Result struct {
	Schema             []ColumnDescriptor
	Rows               [][]any
	RowCount           int64
	RowCountIsEstimate bool
	Duration           time.Duration
}

type ColumnSummary struct {
	ColumnName string        `json:"column_name"`
	Aggregate  AggregateKind `json:"aggregate"`
	Value      any           `json:"value"`
}

// Session is one exclusive handle to the embedded engine, capable of
// executing one statement at a time. Cancellation is cooperative through
// the context.
type Session interface {
	Query(ctx context.Context, sql string) (Result, error)
	Close() error
}

// SessionOpener creates engine sessions on behalf of the connection pool.
type SessionOpener interface {
	OpenSession(ctx context.Context) (Session, error)
}
