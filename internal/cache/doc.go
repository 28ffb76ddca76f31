// ABOUTME: Package cache provides named, TTL-bounded key/value namespaces.
// ABOUTME: Shared by discovery, metadata loading and signed-request nonce tracking.

// Package cache implements a process-wide store of named namespaces, each
// holding keyed values that expire after the namespace's max age.
//
// # Overview
//
// A namespace is created once with [Cache.Setup] and lives until
// [Cache.Drop]. Creating an existing namespace is a no-op, so several
// components can race to set up the same namespace without clobbering each
// other's entries.
//
// Every namespace owns its own lock. Plain operations (Put, Get, Check,
// Invalidate) take that lock for their own duration. Compound
// check-then-act sequences go through [Cache.WithLock], which hands the
// callback a [Txn] whose methods run without re-acquiring the lock:
//
//	err := c.WithLock("ddl", func(tx *cache.Txn) error {
//		if tx.IsValid(name) {
//			return nil
//		}
//		_, err := tx.Put(name, load(name))
//		return err
//	})
//
// The directory lock only guards creation and removal of namespaces.
//
// # Expiry
//
// An entry is valid while now - createdAt < maxAge. Expired entries are
// treated as missing and are removed lazily by [Cache.Prune].
package cache
