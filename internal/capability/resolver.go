// Package capability resolves and caches the capabilities of a caller from
// a role policy.
package capability

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/catalogboard/model"
)

// CacheRecorder counts capability cache lookups.
type CacheRecorder interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache.
type Resolver struct {
	evaluator  model.PolicyEvaluator
	ttl        time.Duration
	maxEntries int
	metrics    CacheRecorder
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a Resolver caching results for ttl. A maxEntries of
// zero leaves the cache unbounded; metrics may be nil.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration, maxEntries int, metrics CacheRecorder) *Resolver {
	return &Resolver{
		evaluator:  evaluator,
		ttl:        ttl,
		maxEntries: maxEntries,
		metrics:    metrics,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
}

// cacheKey includes the roles: a refreshed token may carry different ones.
func cacheKey(rctx *model.RequestContext) string {
	roles := slices.Clone(rctx.Roles)
	slices.Sort(roles)
	return rctx.SubjectID + ":" + rctx.TenantID + ":" + rctx.PartitionID + ":" + strings.Join(roles, ",")
}

// Resolve returns the capability set of rctx, cached for the configured TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := cacheKey(rctx)
	now := r.now()

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		if r.metrics != nil {
			r.metrics.RecordCapabilityCacheHit()
		}
		return entry.caps, nil
	}
	if r.metrics != nil {
		r.metrics.RecordCapabilityCacheMiss()
	}

	caps, err := r.evaluator.ResolveCapabilities(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.maxEntries > 0 && len(r.cache) >= r.maxEntries {
		r.evictLocked(now)
	}
	r.cache[key] = cacheEntry{caps: caps, expires: now.Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// evictLocked drops expired entries, or everything when none had expired.
func (r *Resolver) evictLocked(now time.Time) {
	for k, e := range r.cache {
		if !now.Before(e.expires) {
			delete(r.cache, k)
		}
	}
	if len(r.cache) >= r.maxEntries {
		clear(r.cache)
	}
}

// Invalidate clears cached capabilities for the given user and tenant.
func (r *Resolver) Invalidate(subjectID, tenantID string) {
	prefix := subjectID + ":" + tenantID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Len returns the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
