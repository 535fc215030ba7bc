package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/duckbench/duckbench/internal/adapter"
	"github.com/duckbench/duckbench/internal/config"
	"github.com/duckbench/duckbench/internal/metacache"
	"github.com/duckbench/duckbench/internal/pool"
	"github.com/duckbench/duckbench/internal/query"
	"github.com/duckbench/duckbench/internal/registry"
	"github.com/duckbench/duckbench/internal/workbench"
)

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
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

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("duckbench-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func newTestHandler(t *testing.T, respond func(ctx context.Context, sqlText string) (query.Result, error)) http.Handler {
	t.Helper()
	if respond == nil {
		respond = func(ctx context.Context, sqlText string) (query.Result, error) {
			schema := []query.ColumnDescriptor{{Name: "id", DeclaredType: "BIGINT"}}
			if strings.HasPrefix(sqlText, "SELECT COUNT(*)") {
				return query.Result{Schema: schema, Rows: [][]any{{int64(3)}}}, nil
			}
			return query.Result{Schema: schema, Rows: [][]any{{int64(1)}}}, nil
		}
	}
	p, err := pool.New(&fakeOpener{respond: respond}, pool.Config{MaxConnections: 4}, nil)
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	t.Cleanup(p.Close)

	cache := metacache.New()
	service, err := workbench.New(workbench.Options{
		Pool:       p,
		Cache:      cache,
		Registry:   registry.New(cache),
		AdapterCfg: adapter.Config{PageSize: 10},
	})
	if err != nil {
		t.Fatalf("workbench.New() error = %v", err)
	}
	return NewHandler(testConfig(t), Dependencies{Workbench: service})
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg := testConfig(t)
	h := NewHandler(cfg, Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestTabLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t, nil)

	openResp := httptest.NewRecorder()
	h.ServeHTTP(openResp, httptest.NewRequest(http.MethodPost, "/v1/tabs",
		strings.NewReader(`{"base_sql":"SELECT * FROM trips"}`)))
	if openResp.Code != http.StatusCreated {
		t.Fatalf("open status = %d, body = %s", openResp.Code, openResp.Body.String())
	}
	var opened tabPayload
	if err := json.Unmarshal(openResp.Body.Bytes(), &opened); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if !strings.HasPrefix(opened.ID, metacache.TabSourcePrefix) {
		t.Fatalf("tab id = %q", opened.ID)
	}

	rowsResp := httptest.NewRecorder()
	h.ServeHTTP(rowsResp, httptest.NewRequest(http.MethodPost, "/v1/tabs/"+opened.ID+"/rows",
		strings.NewReader(`{"page":1}`)))
	if rowsResp.Code != http.StatusOK {
		t.Fatalf("rows status = %d, body = %s", rowsResp.Code, rowsResp.Body.String())
	}
	var result resultPayload
	if err := json.Unmarshal(rowsResp.Body.Bytes(), &result); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if result.RowCount != 3 {
		t.Fatalf("row_count = %d, want 3", result.RowCount)
	}

	sortResp := httptest.NewRecorder()
	h.ServeHTTP(sortResp, httptest.NewRequest(http.MethodPost, "/v1/tabs/"+opened.ID+"/sort",
		strings.NewReader(`{"column":"id"}`)))
	if sortResp.Code != http.StatusOK {
		t.Fatalf("sort status = %d, body = %s", sortResp.Code, sortResp.Body.String())
	}

	getResp := httptest.NewRecorder()
	h.ServeHTTP(getResp, httptest.NewRequest(http.MethodGet, "/v1/tabs/"+opened.ID, nil))
	if getResp.Code != http.StatusOK {
		t.Fatalf("get status = %d", getResp.Code)
	}
	var tabBody map[string]any
	if err := json.Unmarshal(getResp.Body.Bytes(), &tabBody); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if tabBody["state"] != string(adapter.StateSuccess) {
		t.Fatalf("state = %v", tabBody["state"])
	}
	if _, ok := tabBody["sort"]; !ok {
		t.Fatal("sort missing from tab body")
	}

	closeResp := httptest.NewRecorder()
	h.ServeHTTP(closeResp, httptest.NewRequest(http.MethodDelete, "/v1/tabs/"+opened.ID, nil))
	if closeResp.Code != http.StatusOK {
		t.Fatalf("close status = %d", closeResp.Code)
	}

	missingResp := httptest.NewRecorder()
	h.ServeHTTP(missingResp, httptest.NewRequest(http.MethodPost, "/v1/tabs/"+opened.ID+"/rows",
		strings.NewReader(`{}`)))
	if missingResp.Code != http.StatusNotFound {
		t.Fatalf("missing tab status = %d", missingResp.Code)
	}
}

func TestOpenTabRejectsAmbiguousBody(t *testing.T) {
	h := newTestHandler(t, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/tabs",
		strings.NewReader(`{"base_sql":"SELECT 1","source_id":"abc"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestQueryFailureMapsToBadRequestWithSanitizedMessage(t *testing.T) {
	h := newTestHandler(t, func(ctx context.Context, sqlText string) (query.Result, error) {
		return query.Result{}, errors.New("IO Error: connect failed with PASSWORD 'hunter2'")
	})

	openResp := httptest.NewRecorder()
	h.ServeHTTP(openResp, httptest.NewRequest(http.MethodPost, "/v1/tabs",
		strings.NewReader(`{"base_sql":"SELECT * FROM trips"}`)))
	var opened tabPayload
	if err := json.Unmarshal(openResp.Body.Bytes(), &opened); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}

	rowsResp := httptest.NewRecorder()
	h.ServeHTTP(rowsResp, httptest.NewRequest(http.MethodPost, "/v1/tabs/"+opened.ID+"/rows",
		strings.NewReader(`{}`)))
	if rowsResp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rowsResp.Code, rowsResp.Body.String())
	}
	if strings.Contains(rowsResp.Body.String(), "hunter2") {
		t.Fatalf("response leaks credential: %s", rowsResp.Body.String())
	}
	if !strings.Contains(rowsResp.Body.String(), "QUERY_FAILED") {
		t.Fatalf("response missing error code: %s", rowsResp.Body.String())
	}
}

func TestPostgresSourceRoundTrip(t *testing.T) {
	h := newTestHandler(t, nil)

	attachResp := httptest.NewRecorder()
	h.ServeHTTP(attachResp, httptest.NewRequest(http.MethodPost, "/v1/sources/postgres",
		strings.NewReader(`{"name":"trips","dsn":"postgres://app@db/trips","schema":"public","table":"trips"}`)))
	if attachResp.Code != http.StatusCreated {
		t.Fatalf("attach status = %d, body = %s", attachResp.Code, attachResp.Body.String())
	}
	var attached sourcePayload
	if err := json.Unmarshal(attachResp.Body.Bytes(), &attached); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if attached.Kind != "postgres" || attached.Version != "1" {
		t.Fatalf("attached = %+v", attached)
	}

	refreshResp := httptest.NewRecorder()
	h.ServeHTTP(refreshResp, httptest.NewRequest(http.MethodPost, "/v1/sources/"+attached.ID+"/refresh", nil))
	if refreshResp.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", refreshResp.Code)
	}
	var refreshed sourcePayload
	if err := json.Unmarshal(refreshResp.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if refreshed.Version != "2" {
		t.Fatalf("version after refresh = %q, want 2", refreshed.Version)
	}

	listResp := httptest.NewRecorder()
	h.ServeHTTP(listResp, httptest.NewRequest(http.MethodGet, "/v1/sources", nil))
	if listResp.Code != http.StatusOK {
		t.Fatalf("list status = %d", listResp.Code)
	}

	detachResp := httptest.NewRecorder()
	h.ServeHTTP(detachResp, httptest.NewRequest(http.MethodDelete, "/v1/sources/"+attached.ID, nil))
	if detachResp.Code != http.StatusOK {
		t.Fatalf("detach status = %d", detachResp.Code)
	}

	metaResp := httptest.NewRecorder()
	h.ServeHTTP(metaResp, httptest.NewRequest(http.MethodGet, "/v1/sources/"+attached.ID+"/metadata", nil))
	if metaResp.Code != http.StatusNotFound {
		t.Fatalf("metadata status after detach = %d", metaResp.Code)
	}
}

func TestCancelWithNoRunningQueryIsAccepted(t *testing.T) {
	h := newTestHandler(t, nil)

	openResp := httptest.NewRecorder()
	h.ServeHTTP(openResp, httptest.NewRequest(http.MethodPost, "/v1/tabs",
		strings.NewReader(`{"base_sql":"SELECT 1"}`)))
	var opened tabPayload
	if err := json.Unmarshal(openResp.Body.Bytes(), &opened); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/tabs/"+opened.ID+"/cancel", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	if err := combined(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}
