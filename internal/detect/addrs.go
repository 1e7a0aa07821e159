package detect

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// addrCap bounds the number of origin addresses remembered per actor.
const addrCap = 64

// AddrTracker remembers the recent origin addresses seen per actor,
// backing the unusual-source-address heuristic. Each actor gets a small
// LRU so long-lived actors cannot grow the set without bound.
type AddrTracker struct {
	mu     sync.RWMutex
	actors map[string]*lru.Cache[string, struct{}]
}

// NewAddrTracker creates an empty address tracker.
func NewAddrTracker() *AddrTracker {
	return &AddrTracker{actors: make(map[string]*lru.Cache[string, struct{}])}
}

// Seen reports whether the actor has used this origin address before,
// along with how many distinct addresses are currently remembered.
func (t *AddrTracker) Seen(actorID, addr string) (known bool, total int) {
	t.mu.RLock()
	cache, exists := t.actors[actorID]
	t.mu.RUnlock()
	if !exists {
		return false, 0
	}
	_, known = cache.Peek(addr)
	return known, cache.Len()
}

// Observe records an origin address for an actor.
func (t *AddrTracker) Observe(actorID, addr string) {
	if actorID == "" || addr == "" {
		return
	}

	t.mu.Lock()
	cache, exists := t.actors[actorID]
	if !exists {
		cache, _ = lru.New[string, struct{}](addrCap)
		t.actors[actorID] = cache
	}
	t.mu.Unlock()

	cache.Add(addr, struct{}{})
}

// Forget drops all remembered addresses for an actor.
func (t *AddrTracker) Forget(actorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.actors, actorID)
}
