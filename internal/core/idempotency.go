package core

import (
	"container/list"
	"fmt"

	"YPoolLedger/internal/event"
)

// IdempotencyRegistry implements two-tier deduplication of external events.
// Keys are partitioned by class: the same universal id may be processed once
// as a deposit and once as a claim.
type IdempotencyRegistry struct {
	// Tier 1: In-memory LRU, carried in snapshots
	lru *IdempotencyLRU

	// Tier 2: Postgres event log (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(class string, idempotencyKey string) (bool, error)
}

// NewIdempotencyRegistry creates a registry. capacity <= 0 keeps every key.
func NewIdempotencyRegistry(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyRegistry {
	return &IdempotencyRegistry{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

func compositeKey(class event.IdempotencyClass, key string) string {
	return fmt.Sprintf("%s:%s", class, key)
}

// IsDuplicate checks whether the key was already processed in its class.
// A tier-2 failure is returned as an error: the event must not be applied
// when its novelty cannot be established.
func (r *IdempotencyRegistry) IsDuplicate(class event.IdempotencyClass, key string) (bool, error) {
	if class == event.ClassNone {
		return false, nil
	}
	ck := compositeKey(class, key)

	// Tier 1: LRU check (hot path)
	if r.lru.Contains(ck) {
		r.metrics.RecordDuplicate(string(class), "lru")
		return true, nil
	}

	// Tier 2: Postgres check (cold path)
	if r.dbChecker != nil {
		isDup, err := r.dbChecker.IsDuplicate(string(class), key)
		if err != nil {
			r.metrics.RecordTier2Error()
			return false, fmt.Errorf("%w: %v", ErrIdempotencyUnavailable, err)
		}
		if isDup {
			r.metrics.RecordDuplicate(string(class), "postgres")
			r.lru.Add(ck)
			return true, nil
		}
	}

	return false, nil
}

// Contains checks the in-memory tier only.
func (r *IdempotencyRegistry) Contains(class event.IdempotencyClass, key string) bool {
	if class == event.ClassNone {
		return false
	}
	return r.lru.Contains(compositeKey(class, key))
}

// MarkProcessed records the key after successful processing
func (r *IdempotencyRegistry) MarkProcessed(class event.IdempotencyClass, key string) {
	if class == event.ClassNone {
		return
	}
	r.lru.Add(compositeKey(class, key))
}

// Keys returns every composite key held in memory, oldest first.
func (r *IdempotencyRegistry) Keys() []string {
	return r.lru.GetAllKeys()
}

// Warm loads composite keys, e.g. from a snapshot.
func (r *IdempotencyRegistry) Warm(keys []string) {
	r.lru.WarmFromKeys(keys)
}

// GetMetrics returns metrics for monitoring
func (r *IdempotencyRegistry) GetMetrics() *IdempotencyMetrics {
	return r.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe: only accessed under the core's write lock.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	size := capacity
	if size < 0 {
		size = 0
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, size),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(key)
	lru.cache[key] = elem

	if lru.capacity > 0 && lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of composite keys, given oldest first.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys returns keys from least to most recently used, so that
// WarmFromKeys rebuilds the same order.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe: only accessed under the core's write lock.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64 // class -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(class string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[class]++
	} else {
		m.duplicatesPostgres[class]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(class string) (lru int64, postgres int64) {
	return m.duplicatesLRU[class], m.duplicatesPostgres[class]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
