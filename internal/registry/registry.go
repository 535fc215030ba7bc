// Package registry owns data source identity and version. Every source lives
// in one map keyed by an opaque id; relations elsewhere in the system refer
// to sources by id only, never by pointer. The registry is the sole authority
// on when a source's metadata may have changed: consumers key their caches on
// (id, version) and react to bumps and deletions.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duckbench/duckbench/internal/metacache"
)

// Spec describes what a data source is. The set of implementations is closed;
// consumers switch over all of them.
type Spec interface {
	isSpec()
}

// ParquetDatasetSpec is a dataset attached from parquet objects and exposed
// as an engine view.
type ParquetDatasetSpec struct {
	Dataset    string
	ObjectKeys []string
}

// PostgresTableSpec is a remote table reached through the engine's postgres
// scanner. Remote sources cannot produce exact row counts cheaply.
type PostgresTableSpec struct {
	DSN    string
	Schema string
	Table  string
}

// TabResultSpec is a view-scoped source backed by the SQL of one open tab.
type TabResultSpec struct {
	BaseSQL string
}

func (ParquetDatasetSpec) isSpec() {}
func (PostgresTableSpec) isSpec()  {}
func (TabResultSpec) isSpec()      {}

var (
	_ Spec = ParquetDatasetSpec{}
	_ Spec = PostgresTableSpec{}
	_ Spec = TabResultSpec{}
)

type Record struct {
	ID        string
	Name      string
	Version   string
	Spec      Spec
	CreatedAt time.Time
}

type Registry struct {
	cache *metacache.Cache
	clock func() time.Time

	mu      sync.Mutex
	records map[string]*entry
}

type entry struct {
	name      string
	version   int64
	spec      Spec
	createdAt time.Time
}

func New(cache *metacache.Cache) *Registry {
	return &Registry{
		cache:   cache,
		clock:   time.Now,
		records: make(map[string]*entry),
	}
}

// Add registers a source and returns its record. Tab-scoped sources get ids
// under the tab namespace so bulk tab-close can find them.
func (r *Registry) Add(name string, spec Spec) (Record, error) {
	if spec == nil {
		return Record{}, fmt.Errorf("source spec is required")
	}
	id := uuid.NewString()
	if _, ok := spec.(TabResultSpec); ok {
		id = metacache.TabSourcePrefix + id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = &entry{name: name, version: 1, spec: spec, createdAt: r.clock()}
	return r.recordLocked(id), nil
}

func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return Record{}, false
	}
	return r.recordLocked(id), true
}

func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for id := range r.records {
		out = append(out, r.recordLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BumpVersion records that the source's schema or content may have changed.
// Cached metadata under the old version becomes unreachable through the new
// key; nothing is deleted here.
func (r *Registry) BumpVersion(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("data source %q not found", id)
	}
	e.version++
	return r.recordLocked(id), nil
}

// UpdateTabQuery replaces the SQL behind a tab-scoped source and bumps its
// version, so metadata cached for the previous query text becomes
// unreachable.
func (r *Registry) UpdateTabQuery(id, baseSQL string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("data source %q not found", id)
	}
	if _, ok := e.spec.(TabResultSpec); !ok {
		return Record{}, fmt.Errorf("data source %q is not tab-scoped", id)
	}
	e.spec = TabResultSpec{BaseSQL: baseSQL}
	e.version++
	return r.recordLocked(id), nil
}

// Remove deletes the source and reclaims every cached metadata version for
// it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	_, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("data source %q not found", id)
	}
	if r.cache != nil {
		r.cache.ClearDataSource(id)
	}
	return nil
}

// RemoveTabSources drops every tab-scoped source and its cached metadata in
// one sweep.
func (r *Registry) RemoveTabSources() {
	r.mu.Lock()
	for id := range r.records {
		if strings.HasPrefix(id, metacache.TabSourcePrefix) {
			delete(r.records, id)
		}
	}
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.ClearTabDataSources()
	}
}

func (r *Registry) recordLocked(id string) Record {
	e := r.records[id]
	return Record{
		ID:        id,
		Name:      e.name,
		Version:   strconv.FormatInt(e.version, 10),
		Spec:      e.spec,
		CreatedAt: e.createdAt,
	}
}
