package query

import (
	"time"

	"github.com/hashicorp/golang-lru"
)

// planCache caches parsed Statements keyed by exact query text.
// Statements are immutable once parsed, so a cached plan may be shared
// by every session which executes the same text. Parameter ordinals
// are a property of the text itself, which keeps sharing safe for
// parameterized queries as well.
type planCache struct {
	cache *lru.Cache
	ttl   time.Duration
}

// newPlanCache returns a planCache of the given size (which must be > 0)
// and caching Duration.
func newPlanCache(size int, ttl time.Duration) *planCache {
	var cache, err = lru.New(size)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &planCache{
		cache: cache,
		ttl:   ttl,
	}
}

// get queries for a cached Statement of the query text.
func (pc *planCache) get(text string) (Statement, bool) {
	if v, ok := pc.cache.Get(text); ok {
		// If the TTL has elapsed, treat as a cache miss and remove.
		if cp := v.(cachedPlan); cp.at.Add(pc.ttl).Before(timeNow()) {
			pc.cache.Remove(text)
		} else {
			return cp.stmt, true
		}
	}
	return nil, false
}

// add caches the parsed Statement of the query text.
func (pc *planCache) add(text string, stmt Statement) {
	var cp = cachedPlan{
		stmt: stmt,
		at:   timeNow(),
	}
	pc.cache.Add(text, cp)
}

type cachedPlan struct {
	stmt Statement
	at   time.Time
}

var timeNow = time.Now
