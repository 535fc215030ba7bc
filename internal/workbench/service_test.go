package workbench

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/duckbench/duckbench/internal/adapter"
	"github.com/duckbench/duckbench/internal/metacache"
	"github.com/duckbench/duckbench/internal/pool"
	"github.com/duckbench/duckbench/internal/query"
	"github.com/duckbench/duckbench/internal/registry"
)

type fakeEngine struct {
	mu       sync.Mutex
	attached []string
	detached []string
}

func (e *fakeEngine) AttachDataset(_ context.Context, name string, _ []string) error {
	e.mu.Lock()
	e.attached = append(e.attached, name)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) DetachDataset(_ context.Context, name string) error {
	e.mu.Lock()
	e.detached = append(e.detached, name)
	e.mu.Unlock()
	return nil
}

type fakeSession struct {
	respond func(ctx context.Context, sqlText string) (query.Result, error)
}

func (s *fakeSession) Query(ctx context.Context, sqlText string) (query.Result, error) {
	return s.respond(ctx, sqlText)
}

func (s *fakeSession) Close() error { return nil }

type fakeOpener struct {
	respond func(ctx context.Context, sqlText string) (query.Result, error)
}

func (o *fakeOpener) OpenSession(context.Context) (query.Session, error) {
	return &fakeSession{respond: o.respond}, nil
}

type statementLog struct {
	mu         sync.Mutex
	statements []string
}

func (l *statementLog) add(s string) {
	l.mu.Lock()
	l.statements = append(l.statements, s)
	l.mu.Unlock()
}

func (l *statementLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.statements)
}

func (l *statementLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.statements...)
}

func newTestService(t *testing.T, log *statementLog, describe DescribePostgresFunc) (*Service, *fakeEngine) {
	t.Helper()
	respond := func(ctx context.Context, sqlText string) (query.Result, error) {
		if log != nil {
			log.add(sqlText)
		}
		schema := []query.ColumnDescriptor{{Name: "id", DeclaredType: "BIGINT"}}
		if strings.HasPrefix(sqlText, "SELECT COUNT(*)") {
			return query.Result{Schema: schema, Rows: [][]any{{int64(7)}}}, nil
		}
		if strings.Contains(sqlText, "LIMIT 0") {
			return query.Result{Schema: schema}, nil
		}
		return query.Result{Schema: schema, Rows: [][]any{{int64(1)}}}, nil
	}
	p, err := pool.New(&fakeOpener{respond: respond}, pool.Config{MaxConnections: 4}, nil)
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	t.Cleanup(p.Close)

	cache := metacache.New()
	engine := &fakeEngine{}
	service, err := New(Options{
		Engine:           engine,
		Pool:             p,
		Cache:            cache,
		Registry:         registry.New(cache),
		AdapterCfg:       adapter.Config{PageSize: 10},
		DescribePostgres: describe,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return service, engine
}

func TestResolveMetadataCachesPerVersion(t *testing.T) {
	describes := 0
	service, _ := newTestService(t, nil, func(ctx context.Context, dsn, schema, table string) (metacache.Snapshot, error) {
		describes++
		return metacache.Snapshot{
			Columns:            []query.ColumnDescriptor{{Name: "id", DeclaredType: "BIGINT"}},
			RowCount:           5000,
			RowCountIsEstimate: true,
		}, nil
	})

	record, err := service.AttachPostgresTable("trips", "postgres://app@db/trips", "public", "trips")
	if err != nil {
		t.Fatalf("AttachPostgresTable() error = %v", err)
	}
	ctx := context.Background()

	first, err := service.ResolveMetadata(ctx, record.ID)
	if err != nil {
		t.Fatalf("ResolveMetadata() error = %v", err)
	}
	if !first.RowCountIsEstimate || first.RowCount != 5000 {
		t.Fatalf("snapshot = %+v", first)
	}
	if _, err := service.ResolveMetadata(ctx, record.ID); err != nil {
		t.Fatalf("ResolveMetadata() error = %v", err)
	}
	if describes != 1 {
		t.Fatalf("describe calls = %d, want 1 (second resolve must hit the cache)", describes)
	}

	if _, err := service.RefreshSource(record.ID); err != nil {
		t.Fatalf("RefreshSource() error = %v", err)
	}
	if _, err := service.ResolveMetadata(ctx, record.ID); err != nil {
		t.Fatalf("ResolveMetadata() error = %v", err)
	}
	if describes != 2 {
		t.Fatalf("describe calls = %d, want 2 after version bump", describes)
	}
}

func TestOpenTabRunsQueriesThroughAdapter(t *testing.T) {
	log := &statementLog{}
	service, _ := newTestService(t, log, nil)
	ctx := context.Background()

	tab, err := service.OpenTab(ctx, "SELECT * FROM trips")
	if err != nil {
		t.Fatalf("OpenTab() error = %v", err)
	}
	if !strings.HasPrefix(tab.ID, metacache.TabSourcePrefix) {
		t.Fatalf("tab id = %q, want tab-scoped id", tab.ID)
	}

	page := 1
	result, err := service.Query(ctx, tab.ID, &page)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.RowCount != 7 {
		t.Fatalf("RowCount = %d, want 7", result.RowCount)
	}

	if _, err := service.Sort(ctx, tab.ID, "id"); err != nil {
		t.Fatalf("Sort() error = %v", err)
	}
	var sorted bool
	for _, s := range log.all() {
		if strings.Contains(s, `ORDER BY "id" ASC`) {
			sorted = true
		}
	}
	if !sorted {
		t.Fatalf("no sorted statement in %v", log.all())
	}

	summary, err := service.Summary(ctx, tab.ID, "id")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.Aggregate != query.AggregateSum {
		t.Fatalf("summary aggregate = %s, want sum for BIGINT", summary.Aggregate)
	}
}

func TestOpenSourceTabUsesEstimatedMetadata(t *testing.T) {
	log := &statementLog{}
	service, _ := newTestService(t, log, func(ctx context.Context, dsn, schema, table string) (metacache.Snapshot, error) {
		return metacache.Snapshot{
			Columns:            []query.ColumnDescriptor{{Name: "id", DeclaredType: "BIGINT"}},
			RowCount:           123456,
			RowCountIsEstimate: true,
		}, nil
	})
	ctx := context.Background()

	record, err := service.AttachPostgresTable("trips", "postgres://app@db/trips", "", "trips")
	if err != nil {
		t.Fatalf("AttachPostgresTable() error = %v", err)
	}
	tab, err := service.OpenSourceTab(ctx, record.ID)
	if err != nil {
		t.Fatalf("OpenSourceTab() error = %v", err)
	}

	result, err := service.Query(ctx, tab.ID, nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.RowCount != 123456 || !result.RowCountIsEstimate {
		t.Fatalf("result count = %d (estimate %v), want metadata estimate", result.RowCount, result.RowCountIsEstimate)
	}
	for _, s := range log.all() {
		if strings.HasPrefix(s, "SELECT COUNT(*)") {
			t.Fatalf("remote-backed tab must not issue COUNT(*), got %q", s)
		}
	}
}

func TestSetTabQueryRekeysCachedMetadata(t *testing.T) {
	log := &statementLog{}
	service, _ := newTestService(t, log, nil)
	ctx := context.Background()

	tab, err := service.OpenTab(ctx, "SELECT * FROM trips")
	if err != nil {
		t.Fatalf("OpenTab() error = %v", err)
	}
	if _, err := service.ResolveMetadata(ctx, tab.ID); err != nil {
		t.Fatalf("ResolveMetadata() error = %v", err)
	}
	before := log.count()
	if _, err := service.ResolveMetadata(ctx, tab.ID); err != nil {
		t.Fatalf("ResolveMetadata() error = %v", err)
	}
	if log.count() != before {
		t.Fatal("second resolve of an unchanged tab must be served from cache")
	}

	if err := service.SetTabQuery(tab.ID, "SELECT * FROM trips WHERE id > 10"); err != nil {
		t.Fatalf("SetTabQuery() error = %v", err)
	}
	if _, err := service.ResolveMetadata(ctx, tab.ID); err != nil {
		t.Fatalf("ResolveMetadata() error = %v", err)
	}
	if log.count() == before {
		t.Fatal("resolve after a query change must rebuild the snapshot")
	}
}

func TestCloseAllTabsSweepsTabSources(t *testing.T) {
	service, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := service.OpenTab(ctx, "SELECT 1"); err != nil {
		t.Fatalf("OpenTab() error = %v", err)
	}
	second, err := service.OpenTab(ctx, "SELECT 2")
	if err != nil {
		t.Fatalf("OpenTab() error = %v", err)
	}
	if _, err := service.ResolveMetadata(ctx, second.ID); err != nil {
		t.Fatalf("ResolveMetadata() error = %v", err)
	}
	if len(service.Tabs()) != 2 {
		t.Fatalf("open tabs = %d, want 2", len(service.Tabs()))
	}

	service.CloseAllTabs()
	if len(service.Tabs()) != 0 {
		t.Fatalf("open tabs = %d after CloseAllTabs", len(service.Tabs()))
	}
	for _, record := range service.Sources() {
		if strings.HasPrefix(record.ID, metacache.TabSourcePrefix) {
			t.Fatalf("tab source %q survived CloseAllTabs", record.ID)
		}
	}
	if _, err := service.ResolveMetadata(ctx, second.ID); err == nil {
		t.Fatal("resolving a swept tab source must fail")
	}
}

func TestDetachSourceDropsEngineView(t *testing.T) {
	service, engine := newTestService(t, nil, nil)
	ctx := context.Background()

	record, err := service.AttachParquetDataset(ctx, "trips", []string{"datasets/trips/part-00000.parquet"})
	if err != nil {
		t.Fatalf("AttachParquetDataset() error = %v", err)
	}
	if len(engine.attached) != 1 || engine.attached[0] != "trips" {
		t.Fatalf("attached = %v", engine.attached)
	}

	if err := service.DetachSource(ctx, record.ID); err != nil {
		t.Fatalf("DetachSource() error = %v", err)
	}
	if len(engine.detached) != 1 || engine.detached[0] != "trips" {
		t.Fatalf("detached = %v", engine.detached)
	}
	if _, ok := service.Source(record.ID); ok {
		t.Fatal("detached source still listed")
	}
}

func TestCloseTabRemovesSourceRecord(t *testing.T) {
	service, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	tab, err := service.OpenTab(ctx, "SELECT 1")
	if err != nil {
		t.Fatalf("OpenTab() error = %v", err)
	}
	if err := service.CloseTab(tab.ID); err != nil {
		t.Fatalf("CloseTab() error = %v", err)
	}
	if _, ok := service.Tab(tab.ID); ok {
		t.Fatal("closed tab still present")
	}
	if _, ok := service.Source(tab.ID); ok {
		t.Fatal("closed tab's source record still present")
	}
	if err := service.CloseTab(tab.ID); err == nil {
		t.Fatal("closing a missing tab must fail")
	}
}
