// Package metacache holds schema/statistics snapshots keyed by data source
// identity and version. Entries have no TTL; the owning data source's version
// is the only invalidation signal, so stale versions become unreachable by
// construction and are reclaimed through explicit deletion.
package metacache

import (
	"strings"
	"sync"
	"time"

	"github.com/duckbench/duckbench/internal/observability"
	"github.com/duckbench/duckbench/internal/query"
)

// TabSourcePrefix namespaces data sources that are scoped to a single open
// tab. Bulk tab-close operations clear every entry under it.
const TabSourcePrefix = "tab-"

// Snapshot is the cached metadata for one (dataSourceID, version) pair.
type Snapshot struct {
	Columns            []query.ColumnDescriptor
	RowCount           int64
	RowCountIsEstimate bool
}

type key struct {
	dataSourceID string
	version      string
}

type entry struct {
	snapshot  Snapshot
	createdAt time.Time
}

type Cache struct {
	mu      sync.RWMutex
	entries map[key]entry
	clock   func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[key]entry),
		clock:   time.Now,
	}
}

// Get returns the cached snapshot for the exact identity+version pair. A miss
// is a normal control-flow outcome, not an error; the caller populates via
// Set.
func (c *Cache) Get(dataSourceID, version string) (Snapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[key{dataSourceID, version}]
	c.mu.RUnlock()
	if !ok {
		observability.IncrementMetadataCacheMiss()
		return Snapshot{}, false
	}
	observability.IncrementMetadataCacheHit()
	return e.snapshot, true
}

func (c *Cache) Set(dataSourceID, version string, snapshot Snapshot) {
	c.mu.Lock()
	c.entries[key{dataSourceID, version}] = entry{snapshot: snapshot, createdAt: c.clock()}
	c.mu.Unlock()
}

func (c *Cache) Delete(dataSourceID, version string) {
	c.mu.Lock()
	delete(c.entries, key{dataSourceID, version})
	c.mu.Unlock()
}

// ClearDataSource removes every cached version for the given id. Version
// bumps alone cannot reclaim memory for sources that are deleted outright.
func (c *Cache) ClearDataSource(dataSourceID string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.dataSourceID == dataSourceID {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// ClearTabDataSources removes every entry belonging to a tab-scoped source.
func (c *Cache) ClearTabDataSources() {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k.dataSourceID, TabSourcePrefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[key]entry)
	c.mu.Unlock()
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
