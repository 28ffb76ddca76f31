// ABOUTME: Lock-held view of a single namespace handed out by Cache.WithLock.
// ABOUTME: Lets callers compose check-then-act sequences without re-entering the lock.

package cache

import "fmt"

// Txn gives access to one namespace while its lock is held. A Txn is only
// valid inside the WithLock callback that produced it.
type Txn struct {
	cache *Cache
	name  string
	ns    *namespace
}

// Get returns the value under key if it has not expired.
func (tx *Txn) Get(key string) (any, error) {
	e, ok := tx.ns.entries[key]
	if !ok || tx.cache.now().Sub(e.createdAt) >= tx.ns.maxAge {
		tx.cache.logger.Debug("cache miss", "namespace", tx.name, "key", key)
		return nil, fmt.Errorf("%w: %s/%s", ErrExpiredOrMissing, tx.name, key)
	}
	tx.cache.logger.Debug("cache hit", "namespace", tx.name, "key", key)
	return e.value, nil
}

// Put stores value under key stamped with the current time.
func (tx *Txn) Put(key string, value any) (any, error) {
	tx.ns.entries[key] = entry{value: value, createdAt: tx.cache.now()}
	return value, nil
}

// IsValid reports whether key holds a live entry.
func (tx *Txn) IsValid(key string) bool {
	e, ok := tx.ns.entries[key]
	return ok && tx.cache.now().Sub(e.createdAt) < tx.ns.maxAge
}

// Invalidate removes key and reports whether it was present.
func (tx *Txn) Invalidate(key string) bool {
	_, ok := tx.ns.entries[key]
	delete(tx.ns.entries, key)
	return ok
}
