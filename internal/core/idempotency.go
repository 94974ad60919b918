package core

import (
	"container/list"

	"github.com/rs/zerolog"
)

// Duplicate tiers reported by IsDuplicate
const (
	TierNone     = ""
	TierLRU      = "lru"
	TierPostgres = "postgres"
)

// DBIdempotencyChecker looks an idempotency key up in the event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU in
// front of the persisted event log.
type IdempotencyChecker struct {
	lru         *IdempotencyLRU
	dbChecker   DBIdempotencyChecker
	logger      zerolog.Logger
	tier2Errors int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		logger:    logger,
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate reports whether the command was already applied and which
// tier caught it. The database tier is skipped unless useDB is set.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string, useDB bool) (bool, string) {
	key := compositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		return true, TierLRU
	}

	if !useDB || ic.dbChecker == nil {
		return false, TierNone
	}

	isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		// A lookup failure must not stall ingestion; the unique index on
		// the event log still rejects a real duplicate at persist time.
		ic.tier2Errors++
		ic.logger.Warn().Err(err).Str("event_type", eventType).Str("key", idempotencyKey).
			Msg("idempotency tier-2 lookup failed")
		return false, TierNone
	}
	if isDup {
		ic.lru.Add(key)
		return true, TierPostgres
	}
	return false, TierNone
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey))
}

func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

// IdempotencyLRU is an LRU set of composite idempotency keys.
// Not thread-safe; the core serializes access.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
	}
	return exists
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem == nil {
		return
	}
	lru.lruList.Remove(elem)
	delete(lru.cache, elem.Value.(string))
	lru.evictions++
}

// WarmFromKeys loads keys ordered oldest first, so the newest end up most
// recently used.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys returns the keys oldest first, the order WarmFromKeys expects.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
