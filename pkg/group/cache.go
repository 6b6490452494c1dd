package group

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/filter"
)

// CacheCapacity is the allocation-group LRU's fixed size (spec.md §3
// Lifecycle: "The group cache is bounded (LRU, capacity 4 entries)").
const CacheCapacity = 4

// Engine builds, sorts, and caches Groups results. A single mutex guards
// the LRU's bookkeeping only; cached values are immutable once installed,
// so readers that already hold a *Groups need no further synchronization
// (spec.md §5 "Shared-resource policy").
type Engine struct {
	mu    sync.Mutex
	cache *lru.Cache[Key, *Groups]

	// BuildCount is incremented once per cache miss that actually runs
	// Build+Sort, exposed as a test probe for spec.md §8 scenario S4
	// ("the second must not rebuild (observable via a test probe
	// counter)").
	BuildCount atomic.Int64
}

// NewEngine returns a group engine with the fixed capacity-4 LRU.
func NewEngine() *Engine {
	c, err := lru.New[Key, *Groups](CacheCapacity)
	if err != nil {
		// New only fails for size <= 0, which CacheCapacity never is.
		panic(err)
	}
	return &Engine{cache: c}
}

// Query returns the Groups for (data, wire filter, custom filter source,
// sort, order), building and caching on a miss. customFilterSource must
// already have been resolved to the empty string when absent, so the
// cache key is stable (spec.md §4.1 "An empty custom-filter string is
// treated as absent").
func (e *Engine) Query(data *capture.Data, w filter.Wire, customFilterSource string, runner filter.ScriptRunner, sortBy SortBy, order Order) (*Groups, error) {
	key := NewKey(data.ID(), w, customFilterSource, sortBy, order)

	e.mu.Lock()
	if g, ok := e.cache.Get(key); ok {
		e.mu.Unlock()
		return g, nil
	}
	e.mu.Unlock()

	compiled, err := filter.CompileWithCustom(data, w, customFilterSource, runner)
	if err != nil {
		return nil, err
	}

	groups := Build(data, compiled)
	groups = ApplyGroupBounds(data, groups, compiled.Structural.GroupBounds())
	Sort(data, groups, sortBy, order)
	e.BuildCount.Inc()

	e.mu.Lock()
	e.cache.Add(key, groups)
	e.mu.Unlock()

	return groups, nil
}
