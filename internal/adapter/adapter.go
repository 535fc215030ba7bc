// Package adapter is the per-view controller between UI intents and the
// engine. Each open tab owns one Adapter; the adapter turns pagination, sort,
// and summary intents into one governed query at a time and exposes settled
// results.
//
// Supersession rule: every new request first cancels the previous active
// token, then executes. A result is committed to visible state only if its
// originating token is still the adapter's current token at completion time.
// That single check is what keeps stale results from clobbering newer ones;
// nothing here relies on execution ordering guarantees from the engine.
package adapter

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/duckbench/duckbench/internal/metacache"
	"github.com/duckbench/duckbench/internal/notify"
	"github.com/duckbench/duckbench/internal/observability"
	"github.com/duckbench/duckbench/internal/pool"
	"github.com/duckbench/duckbench/internal/query"
)

type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateSuccess   State = "success"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

const (
	defaultPageSize      = 100
	defaultMaxResultRows = 10000
	defaultQueryTimeout  = 30 * time.Second
)

type Config struct {
	PageSize      int
	MaxResultRows int
	QueryTimeout  time.Duration
}

type token struct {
	id     uuid.UUID
	cancel context.CancelFunc
	// reason records, once, what triggered cancellation of this token.
	reason atomic.Int32
}

func (t *token) cancelWith(reason query.CancelReason) {
	t.reason.CompareAndSwap(0, int32(reason))
	t.cancel()
}

type Adapter struct {
	pool     *pool.Pool
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config

	mu         sync.Mutex
	baseSQL    string
	generation uint64
	meta       *metacache.Snapshot
	state      State
	current    *token
	result     *query.Result
	schema     []query.ColumnDescriptor
	lastErr    error
	sortColumn string
	sortDir    query.Direction
	lastPage   *int
	summaries  map[string]query.ColumnSummary
}

func New(p *pool.Pool, baseSQL string, cfg Config, notifier notify.Notifier, logger *slog.Logger) (*Adapter, error) {
	if p == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if stripTrailingSemicolons(baseSQL) == "" {
		return nil, fmt.Errorf("base sql is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = defaultMaxResultRows
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		pool:      p,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		baseSQL:   baseSQL,
		state:     StateIdle,
		summaries: make(map[string]query.ColumnSummary),
	}, nil
}

// SetMetadata attaches the resolved metadata snapshot for the adapter's data
// source. For sources whose snapshot carries an estimated count, row counts
// are taken from here instead of a COUNT(*) round trip.
func (a *Adapter) SetMetadata(snapshot metacache.Snapshot) {
	a.mu.Lock()
	a.meta = &snapshot
	a.mu.Unlock()
}

// SetBaseQuery swaps the immutable base the adapter derives requests from.
// Sort state and memoized column summaries are scoped to the base query and
// are reset with it.
func (a *Adapter) SetBaseQuery(baseSQL string) error {
	if stripTrailingSemicolons(baseSQL) == "" {
		return fmt.Errorf("base sql is required")
	}
	a.mu.Lock()
	if a.current != nil {
		a.current.cancelWith(query.CancelSuperseded)
	}
	a.baseSQL = baseSQL
	a.generation++
	a.sortColumn = ""
	a.sortDir = ""
	a.lastPage = nil
	a.summaries = make(map[string]query.ColumnSummary)
	a.meta = nil
	a.mu.Unlock()
	return nil
}

// GetAllTableData fetches one page, or, when page is nil, the full result
// bounded by the configured row cap.
func (a *Adapter) GetAllTableData(ctx context.Context, page *int) (query.Result, error) {
	var window *query.Page
	if page != nil {
		if *page < 1 {
			return query.Result{}, fmt.Errorf("page must be >= 1, got %d", *page)
		}
		window = &query.Page{Number: *page, Size: a.cfg.PageSize}
	}

	a.mu.Lock()
	a.lastPage = copyPage(page)
	sqlText := buildSelect(a.baseSQL, a.sortLocked(), window, a.cfg.MaxResultRows)
	a.mu.Unlock()

	return a.run(ctx, sqlText, runOptions{withTotal: true, commitResult: true})
}

// RequestSort cycles the sort for the column: unsorted, ascending,
// descending, back to unsorted. Choosing a different column restarts the
// cycle at ascending. The re-fetch keeps the last requested page.
func (a *Adapter) RequestSort(ctx context.Context, column string) (query.Result, error) {
	if column == "" {
		return query.Result{}, fmt.Errorf("sort column is required")
	}

	a.mu.Lock()
	switch {
	case a.sortColumn != column:
		a.sortColumn = column
		a.sortDir = query.Ascending
	case a.sortDir == query.Ascending:
		a.sortDir = query.Descending
	default:
		a.sortColumn = ""
		a.sortDir = ""
	}
	var window *query.Page
	if a.lastPage != nil {
		window = &query.Page{Number: *a.lastPage, Size: a.cfg.PageSize}
	}
	sqlText := buildSelect(a.baseSQL, a.sortLocked(), window, a.cfg.MaxResultRows)
	a.mu.Unlock()

	return a.run(ctx, sqlText, runOptions{withTotal: true, commitResult: true})
}

// GetCalculatedColumnSummary computes SUM for numeric columns and COUNT for
// everything else. The value is memoized per column for the lifetime of the
// current base query.
func (a *Adapter) GetCalculatedColumnSummary(ctx context.Context, column string) (query.ColumnSummary, error) {
	if column == "" {
		return query.ColumnSummary{}, fmt.Errorf("summary column is required")
	}

	a.mu.Lock()
	if summary, ok := a.summaries[column]; ok {
		a.mu.Unlock()
		return summary, nil
	}
	declared, ok := a.declaredTypeLocked(column)
	if !ok {
		a.mu.Unlock()
		return query.ColumnSummary{}, &query.QueryError{Message: fmt.Sprintf("unknown column %q", column)}
	}
	kind := query.AggregateCount
	if isNumericType(declared) {
		kind = query.AggregateSum
	}
	sqlText := summarySelect(a.baseSQL, column, kind)
	generation := a.generation
	a.mu.Unlock()

	result, err := a.run(ctx, sqlText, runOptions{})
	if err != nil {
		return query.ColumnSummary{}, err
	}

	var value any
	if len(result.Rows) > 0 && len(result.Rows[0]) > 0 {
		value = result.Rows[0][0]
	}
	summary := query.ColumnSummary{ColumnName: column, Aggregate: kind, Value: value}

	a.mu.Lock()
	if a.generation == generation {
		a.summaries[column] = summary
	}
	a.mu.Unlock()
	return summary, nil
}

// Cancel signals user cancellation of the in-flight request, if any.
// Idempotent when nothing is running.
func (a *Adapter) Cancel() {
	a.mu.Lock()
	tok := a.current
	a.mu.Unlock()
	if tok != nil {
		tok.cancelWith(query.CancelUser)
	}
}

// Close cancels any in-flight work and returns the adapter to its disposal
// state.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.current != nil {
		a.current.cancelWith(query.CancelSuperseded)
		a.current = nil
	}
	a.state = StateIdle
	a.result = nil
	a.lastErr = nil
	a.summaries = make(map[string]query.ColumnSummary)
	a.mu.Unlock()
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CurrentSchema is the schema of the last committed result, falling back to
// resolved metadata before the first fetch.
func (a *Adapter) CurrentSchema() []query.ColumnDescriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.schema != nil {
		return a.schema
	}
	if a.meta != nil {
		return a.meta.Columns
	}
	return nil
}

func (a *Adapter) CurrentResult() (query.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return query.Result{}, false
	}
	return *a.result, true
}

func (a *Adapter) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Adapter) Sort() *query.Sort {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortLocked()
}

type runOptions struct {
	withTotal    bool
	commitResult bool
}

func (a *Adapter) run(ctx context.Context, sqlText string, opts runOptions) (query.Result, error) {
	a.mu.Lock()
	if a.current != nil {
		a.current.cancelWith(query.CancelSuperseded)
	}
	runCtx, cancel := context.WithCancel(ctx)
	tok := &token{id: uuid.New(), cancel: cancel}
	a.current = tok
	a.state = StateFetching
	baseSQL := a.baseSQL
	meta := a.meta
	a.mu.Unlock()
	defer cancel()

	// Timeout rides the same cancellation path as everything else, tagged
	// so the outcome reads "timed out" instead of "cancelled by you".
	timer := time.AfterFunc(a.cfg.QueryTimeout, func() {
		tok.cancelWith(query.CancelTimeout)
	})
	defer timer.Stop()

	start := time.Now()
	var result query.Result
	err := a.pool.WithConnection(runCtx, func(ctx context.Context, conn *pool.Conn) error {
		res, err := conn.Query(ctx, sqlText)
		if err != nil {
			if errors.Is(err, driver.ErrBadConn) {
				conn.Fail()
			}
			return err
		}
		if opts.withTotal {
			// Total and page rows must come from the same request so the
			// UI never mixes counts and schemas across tokens.
			if meta != nil && meta.RowCountIsEstimate {
				res.RowCount = meta.RowCount
				res.RowCountIsEstimate = true
			} else {
				countRes, err := conn.Query(ctx, countSelect(baseSQL))
				if err != nil {
					if errors.Is(err, driver.ErrBadConn) {
						conn.Fail()
					}
					return err
				}
				total, err := scanCount(countRes)
				if err != nil {
					return err
				}
				res.RowCount = total
				res.RowCountIsEstimate = false
			}
		}
		result = res
		return nil
	})
	result.Duration = time.Since(start)

	return a.settle(ctx, tok, result, err, opts)
}

func (a *Adapter) settle(ctx context.Context, tok *token, result query.Result, err error, opts runOptions) (query.Result, error) {
	elapsed := result.Duration

	a.mu.Lock()
	if a.current != tok {
		// A newer request took over while this one was finishing; its
		// result must never reach visible state.
		a.mu.Unlock()
		observability.ObserveQuery("superseded", elapsed)
		return query.Result{}, query.Cancelled(query.CancelSuperseded)
	}
	a.current = nil

	if err == nil {
		a.state = StateSuccess
		a.lastErr = nil
		if opts.commitResult {
			committed := result
			a.result = &committed
			a.schema = result.Schema
		}
		a.mu.Unlock()
		observability.ObserveQuery("success", elapsed)
		return result, nil
	}

	mapped := a.mapError(tok, err)
	var cancelled *query.CancelledOperation
	if errors.As(mapped, &cancelled) {
		a.state = StateCancelled
	} else {
		a.state = StateError
	}
	a.lastErr = mapped
	a.mu.Unlock()

	a.report(ctx, mapped, elapsed)
	return query.Result{}, mapped
}

func (a *Adapter) mapError(tok *token, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason := query.CancelReason(tok.reason.Load())
		if reason == 0 {
			// The caller's own context went away without anyone tagging
			// the token; treat it as the user walking away.
			reason = query.CancelUser
		}
		return query.Cancelled(reason)
	}
	var connErr *query.ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	return &query.QueryError{Message: sanitizeErrorMessage(err.Error()), Err: err}
}

func (a *Adapter) report(ctx context.Context, err error, elapsed time.Duration) {
	var cancelled *query.CancelledOperation
	if errors.As(err, &cancelled) {
		switch cancelled.Reason {
		case query.CancelUser:
			observability.ObserveQuery("cancelled", elapsed)
			a.notifier.Notify(ctx, notify.Notification{
				Title:    "Query cancelled",
				Message:  "The query was cancelled.",
				Severity: notify.SeverityInfo,
			})
		case query.CancelTimeout:
			observability.ObserveQuery("timeout", elapsed)
			a.notifier.Notify(ctx, notify.Notification{
				Title:    "Query timed out",
				Message:  fmt.Sprintf("The query exceeded the %s limit and was stopped.", a.cfg.QueryTimeout),
				Severity: notify.SeverityWarning,
			})
		default:
			// Superseded work settles silently; the newer request speaks
			// for the adapter now.
			observability.ObserveQuery("superseded", elapsed)
		}
		return
	}

	observability.ObserveQuery("error", elapsed)
	a.logger.Error("query failed", slog.Any("error", err))
	a.notifier.Notify(ctx, notify.Notification{
		Title:    "Query failed",
		Message:  err.Error(),
		Severity: notify.SeverityError,
	})
}

func (a *Adapter) sortLocked() *query.Sort {
	if a.sortColumn == "" || a.sortDir == "" {
		return nil
	}
	return &query.Sort{Column: a.sortColumn, Direction: a.sortDir}
}

func (a *Adapter) declaredTypeLocked(column string) (string, bool) {
	for _, descriptor := range a.schema {
		if descriptor.Name == column {
			return descriptor.DeclaredType, true
		}
	}
	if a.meta != nil {
		for _, descriptor := range a.meta.Columns {
			if descriptor.Name == column {
				return descriptor.DeclaredType, true
			}
		}
	}
	return "", false
}

func copyPage(page *int) *int {
	if page == nil {
		return nil
	}
	value := *page
	return &value
}

func scanCount(result query.Result) (int64, error) {
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, fmt.Errorf("count query returned no rows")
	}
	switch value := result.Rows[0][0].(type) {
	case int64:
		return value, nil
	case int32:
		return int64(value), nil
	case int:
		return int64(value), nil
	case uint64:
		return int64(value), nil
	case float64:
		return int64(value), nil
	default:
		return 0, fmt.Errorf("unexpected count value of type %T", value)
	}
}
