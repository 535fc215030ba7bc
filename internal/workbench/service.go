// Package workbench is the facade the API layer talks to. It ties the source
// registry, metadata cache, engine, and per-tab adapters together: sources
// get attached and described here, tabs get opened here, and every query
// intent is forwarded to the owning tab's adapter.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/duckbench/duckbench/internal/adapter"
	"github.com/duckbench/duckbench/internal/metacache"
	"github.com/duckbench/duckbench/internal/notify"
	"github.com/duckbench/duckbench/internal/pool"
	"github.com/duckbench/duckbench/internal/query"
	"github.com/duckbench/duckbench/internal/registry"
	"github.com/duckbench/duckbench/internal/source/parquet"
	"github.com/duckbench/duckbench/internal/source/postgres"
	"github.com/duckbench/duckbench/internal/storage"
)

var (
	ErrSourceNotFound = errors.New("data source not found")
	ErrTabNotFound    = errors.New("tab not found")
)

// Engine is the slice of the embedded engine the workbench needs for dataset
// lifecycle. Query execution goes through the pool, never through here.
type Engine interface {
	AttachDataset(ctx context.Context, name string, objectKeys []string) error
	DetachDataset(ctx context.Context, name string) error
}

// DescribePostgresFunc resolves metadata for one remote table. The default
// opens a short-lived connection per call; tests substitute a canned
// implementation.
type DescribePostgresFunc func(ctx context.Context, dsn, schema, table string) (metacache.Snapshot, error)

func describePostgres(ctx context.Context, dsn, schema, table string) (metacache.Snapshot, error) {
	source, err := postgres.Open(ctx, postgres.Config{DSN: dsn})
	if err != nil {
		return metacache.Snapshot{}, err
	}
	defer func() { _ = source.Close() }()
	return source.Describe(ctx, schema, table)
}

type Service struct {
	engine     Engine
	store      storage.ObjectStore
	pool       *pool.Pool
	cache      *metacache.Cache
	registry   *registry.Registry
	notifier   notify.Notifier
	logger     *slog.Logger
	adapterCfg adapter.Config

	describePostgres DescribePostgresFunc

	mu   sync.Mutex
	tabs map[string]*Tab
}

// Tab is one open view over a data source or ad-hoc query, owning its
// adapter.
type Tab struct {
	ID      string
	Adapter *adapter.Adapter
}

type Options struct {
	Engine     Engine
	Store      storage.ObjectStore
	Pool       *pool.Pool
	Cache      *metacache.Cache
	Registry   *registry.Registry
	Notifier   notify.Notifier
	Logger     *slog.Logger
	AdapterCfg adapter.Config

	// DescribePostgres overrides remote metadata resolution; nil means a
	// real connection per lookup.
	DescribePostgres DescribePostgresFunc
}

func New(opts Options) (*Service, error) {
	if opts.Pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("metadata cache is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("source registry is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.DescribePostgres == nil {
		opts.DescribePostgres = describePostgres
	}
	return &Service{
		engine:           opts.Engine,
		store:            opts.Store,
		pool:             opts.Pool,
		cache:            opts.Cache,
		registry:         opts.Registry,
		notifier:         opts.Notifier,
		logger:           opts.Logger,
		adapterCfg:       opts.AdapterCfg,
		describePostgres: opts.DescribePostgres,
		tabs:             make(map[string]*Tab),
	}, nil
}

// AttachParquetDataset registers the dataset's objects as an engine view and
// records it as a data source.
func (s *Service) AttachParquetDataset(ctx context.Context, name string, objectKeys []string) (registry.Record, error) {
	if s.engine == nil {
		return registry.Record{}, fmt.Errorf("engine is required to attach datasets")
	}
	if err := s.engine.AttachDataset(ctx, name, objectKeys); err != nil {
		return registry.Record{}, err
	}
	record, err := s.registry.Add(name, registry.ParquetDatasetSpec{Dataset: name, ObjectKeys: objectKeys})
	if err != nil {
		return registry.Record{}, err
	}
	if _, err := s.ResolveMetadata(ctx, record.ID); err != nil {
		s.logger.Warn("warm dataset metadata", slog.String("dataset", name), slog.Any("error", err))
	}
	return record, nil
}

// AttachPostgresTable records a remote table as a data source. No connection
// is made until its metadata is first resolved.
func (s *Service) AttachPostgresTable(name, dsn, schema, table string) (registry.Record, error) {
	if strings.TrimSpace(dsn) == "" {
		return registry.Record{}, fmt.Errorf("postgres dsn is required")
	}
	if strings.TrimSpace(table) == "" {
		return registry.Record{}, fmt.Errorf("table name is required")
	}
	return s.registry.Add(name, registry.PostgresTableSpec{DSN: dsn, Schema: schema, Table: table})
}

// DetachSource removes a source, its engine view if it has one, and all of
// its cached metadata.
func (s *Service) DetachSource(ctx context.Context, id string) error {
	record, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("data source %q: %w", id, ErrSourceNotFound)
	}
	if spec, ok := record.Spec.(registry.ParquetDatasetSpec); ok && s.engine != nil {
		if err := s.engine.DetachDataset(ctx, spec.Dataset); err != nil {
			return err
		}
	}
	return s.registry.Remove(id)
}

// RefreshSource marks the source's metadata as potentially stale. The next
// resolution misses the cache and rebuilds the snapshot.
func (s *Service) RefreshSource(id string) (registry.Record, error) {
	if _, ok := s.registry.Get(id); !ok {
		return registry.Record{}, fmt.Errorf("data source %q: %w", id, ErrSourceNotFound)
	}
	return s.registry.BumpVersion(id)
}

func (s *Service) Sources() []registry.Record {
	return s.registry.List()
}

func (s *Service) Source(id string) (registry.Record, bool) {
	return s.registry.Get(id)
}

// ResolveMetadata returns the source's snapshot, serving from cache when the
// (id, version) pair is already known and rebuilding from the source's
// backing system otherwise.
func (s *Service) ResolveMetadata(ctx context.Context, id string) (metacache.Snapshot, error) {
	record, ok := s.registry.Get(id)
	if !ok {
		return metacache.Snapshot{}, fmt.Errorf("data source %q: %w", id, ErrSourceNotFound)
	}
	if snapshot, ok := s.cache.Get(record.ID, record.Version); ok {
		return snapshot, nil
	}

	var snapshot metacache.Snapshot
	var err error
	switch spec := record.Spec.(type) {
	case registry.ParquetDatasetSpec:
		snapshot, err = parquet.Inspect(ctx, s.store, spec.ObjectKeys)
	case registry.PostgresTableSpec:
		snapshot, err = s.describePostgres(ctx, spec.DSN, spec.Schema, spec.Table)
	case registry.TabResultSpec:
		snapshot, err = s.describeTabResult(ctx, spec.BaseSQL)
	default:
		err = fmt.Errorf("unsupported data source spec %T", record.Spec)
	}
	if err != nil {
		return metacache.Snapshot{}, fmt.Errorf("resolve metadata for %q: %w", record.Name, err)
	}

	s.cache.Set(record.ID, record.Version, snapshot)
	return snapshot, nil
}

// describeTabResult derives schema and exact count for an ad-hoc query by
// running it with an empty window. Both statements share one session so the
// snapshot is internally consistent.
func (s *Service) describeTabResult(ctx context.Context, baseSQL string) (metacache.Snapshot, error) {
	base := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(baseSQL), ";"))
	if base == "" {
		return metacache.Snapshot{}, fmt.Errorf("base sql is required")
	}

	var snapshot metacache.Snapshot
	err := s.pool.WithConnection(ctx, func(ctx context.Context, conn *pool.Conn) error {
		probe, err := conn.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS t LIMIT 0", base))
		if err != nil {
			return err
		}
		countRes, err := conn.Query(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS t", base))
		if err != nil {
			return err
		}
		total, err := scanCount(countRes)
		if err != nil {
			return err
		}
		snapshot = metacache.Snapshot{
			Columns:            probe.Schema,
			RowCount:           total,
			RowCountIsEstimate: false,
		}
		return nil
	})
	return snapshot, err
}

// OpenTab creates a tab over an ad-hoc query. The tab gets its own tab-scoped
// source record so its metadata participates in the cache and is swept on
// bulk tab close.
func (s *Service) OpenTab(ctx context.Context, baseSQL string) (*Tab, error) {
	record, err := s.registry.Add("tab query", registry.TabResultSpec{BaseSQL: baseSQL})
	if err != nil {
		return nil, err
	}
	return s.openTabForRecord(ctx, record, baseSQL)
}

// OpenSourceTab creates a tab browsing a registered source. Metadata comes
// from the source's own snapshot, so remote tables keep their estimated
// counts.
func (s *Service) OpenSourceTab(ctx context.Context, sourceID string) (*Tab, error) {
	record, ok := s.registry.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("data source %q: %w", sourceID, ErrSourceNotFound)
	}
	baseSQL, err := baseSQLForSpec(record.Spec)
	if err != nil {
		return nil, err
	}

	tabRecord, err := s.registry.Add(record.Name, registry.TabResultSpec{BaseSQL: baseSQL})
	if err != nil {
		return nil, err
	}
	tab, err := s.openTabForRecord(ctx, tabRecord, baseSQL)
	if err != nil {
		return nil, err
	}
	if snapshot, err := s.ResolveMetadata(ctx, sourceID); err != nil {
		s.logger.Warn("resolve source metadata", slog.String("source_id", sourceID), slog.Any("error", err))
	} else {
		tab.Adapter.SetMetadata(snapshot)
	}
	return tab, nil
}

func (s *Service) openTabForRecord(ctx context.Context, record registry.Record, baseSQL string) (*Tab, error) {
	a, err := adapter.New(s.pool, baseSQL, s.adapterCfg, s.notifier, s.logger)
	if err != nil {
		_ = s.registry.Remove(record.ID)
		return nil, err
	}
	tab := &Tab{ID: record.ID, Adapter: a}
	s.mu.Lock()
	s.tabs[tab.ID] = tab
	s.mu.Unlock()
	s.logger.Info("tab opened", slog.String("tab_id", tab.ID))
	return tab, nil
}

func (s *Service) Tab(id string) (*Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[id]
	return tab, ok
}

func (s *Service) Tabs() []*Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Tab, 0, len(s.tabs))
	for _, tab := range s.tabs {
		out = append(out, tab)
	}
	return out
}

// SetTabQuery swaps the tab's base query. The tab's source record is
// re-keyed so metadata cached for the old query text is no longer served.
func (s *Service) SetTabQuery(tabID, baseSQL string) error {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("tab %q: %w", tabID, ErrTabNotFound)
	}
	if err := tab.Adapter.SetBaseQuery(baseSQL); err != nil {
		return err
	}
	if _, err := s.registry.UpdateTabQuery(tabID, baseSQL); err != nil {
		return err
	}
	return nil
}

// CloseTab disposes the tab's adapter and removes its source record along
// with any cached metadata.
func (s *Service) CloseTab(id string) error {
	s.mu.Lock()
	tab, ok := s.tabs[id]
	if ok {
		delete(s.tabs, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("tab %q: %w", id, ErrTabNotFound)
	}
	tab.Adapter.Close()
	if err := s.registry.Remove(id); err != nil {
		s.logger.Warn("remove tab source", slog.String("tab_id", id), slog.Any("error", err))
	}
	s.logger.Info("tab closed", slog.String("tab_id", id))
	return nil
}

// CloseAllTabs disposes every open tab and sweeps all tab-scoped sources and
// their cached metadata in one pass.
func (s *Service) CloseAllTabs() {
	s.mu.Lock()
	tabs := s.tabs
	s.tabs = make(map[string]*Tab)
	s.mu.Unlock()
	for _, tab := range tabs {
		tab.Adapter.Close()
	}
	s.registry.RemoveTabSources()
	s.logger.Info("all tabs closed", slog.Int("count", len(tabs)))
}

// Query forwards a paginated fetch to the tab's adapter.
func (s *Service) Query(ctx context.Context, tabID string, page *int) (query.Result, error) {
	tab, ok := s.Tab(tabID)
	if !ok {
		return query.Result{}, fmt.Errorf("tab %q: %w", tabID, ErrTabNotFound)
	}
	return tab.Adapter.GetAllTableData(ctx, page)
}

// Sort forwards a sort-cycle request to the tab's adapter.
func (s *Service) Sort(ctx context.Context, tabID, column string) (query.Result, error) {
	tab, ok := s.Tab(tabID)
	if !ok {
		return query.Result{}, fmt.Errorf("tab %q: %w", tabID, ErrTabNotFound)
	}
	return tab.Adapter.RequestSort(ctx, column)
}

// Summary forwards a column summary request to the tab's adapter.
func (s *Service) Summary(ctx context.Context, tabID, column string) (query.ColumnSummary, error) {
	tab, ok := s.Tab(tabID)
	if !ok {
		return query.ColumnSummary{}, fmt.Errorf("tab %q: %w", tabID, ErrTabNotFound)
	}
	return tab.Adapter.GetCalculatedColumnSummary(ctx, column)
}

// CancelQuery cancels the tab's in-flight request, if any.
func (s *Service) CancelQuery(tabID string) error {
	tab, ok := s.Tab(tabID)
	if !ok {
		return fmt.Errorf("tab %q: %w", tabID, ErrTabNotFound)
	}
	tab.Adapter.Cancel()
	return nil
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
