// ABOUTME: Named TTL cache with one lock per namespace and a directory lock.
// ABOUTME: Entries expire after the namespace max age; expired reads fail with ErrExpiredOrMissing.

package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is the max age used when a namespace is set up with ttl <= 0.
const DefaultTTL = 300 * time.Second

var (
	// ErrUnknownNamespace is returned when operating on a namespace that was never set up.
	ErrUnknownNamespace = errors.New("unknown cache namespace")
	// ErrExpiredOrMissing is returned when a key is absent or older than the namespace max age.
	ErrExpiredOrMissing = errors.New("cache entry expired or missing")
)

// entry stores a cached value and when it was written.
type entry struct {
	value     any
	createdAt time.Time
}

// namespace is a single named cache.
type namespace struct {
	mu      sync.Mutex
	maxAge  time.Duration
	entries map[string]entry
}

// Cache is a directory of named namespaces. The zero value is not usable; call New.
type Cache struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for hit/miss debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates an empty cache directory.
func New(opts ...Option) *Cache {
	c := &Cache{
		namespaces: make(map[string]*namespace),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cache")
	return c
}

// Setup creates the namespace if it does not already exist. Existing
// namespaces keep their entries and max age.
func (c *Cache) Setup(name string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.namespaces[name]; ok {
		return
	}
	c.namespaces[name] = &namespace{
		maxAge:  ttl,
		entries: make(map[string]entry),
	}
}

// Has reports whether the namespace exists.
func (c *Cache) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.namespaces[name]
	return ok
}

// Drop removes a namespace and all of its entries.
func (c *Cache) Drop(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.namespaces[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, name)
	}
	delete(c.namespaces, name)
	return nil
}

func (c *Cache) lookup(name string) (*namespace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, name)
	}
	return ns, nil
}

// Put stores value under key and returns value.
func (c *Cache) Put(name, key string, value any) (any, error) {
	var out any
	err := c.WithLock(name, func(tx *Txn) error {
		var err error
		out, err = tx.Put(key, value)
		return err
	})
	return out, err
}

// Get returns the value under key if it has not expired.
func (c *Cache) Get(name, key string) (any, error) {
	var out any
	err := c.WithLock(name, func(tx *Txn) error {
		var err error
		out, err = tx.Get(key)
		return err
	})
	return out, err
}

// Check returns nil when key holds a live entry, ErrExpiredOrMissing when it
// does not, and ErrUnknownNamespace when the namespace is absent.
func (c *Cache) Check(name, key string) error {
	_, err := c.Get(name, key)
	return err
}

// IsValid reports whether key holds a live entry. Unknown namespaces and
// missing keys are simply invalid.
func (c *Cache) IsValid(name, key string) bool {
	return c.Check(name, key) == nil
}

// IsInvalid is the negation of IsValid.
func (c *Cache) IsInvalid(name, key string) bool {
	return !c.IsValid(name, key)
}

// Invalidate removes key and reports whether it was present.
func (c *Cache) Invalidate(name, key string) (bool, error) {
	var removed bool
	err := c.WithLock(name, func(tx *Txn) error {
		removed = tx.Invalidate(key)
		return nil
	})
	return removed, err
}

// WithLock runs fn while holding the namespace lock. fn must use the Txn for
// all access to this namespace; calling back into the Cache for the same
// namespace would deadlock.
func (c *Cache) WithLock(name string, fn func(tx *Txn) error) error {
	ns, err := c.lookup(name)
	if err != nil {
		return err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	return fn(&Txn{cache: c, name: name, ns: ns})
}

// Prune removes expired entries from every namespace and returns how many
// were dropped.
func (c *Cache) Prune() int {
	c.mu.Lock()
	spaces := make([]*namespace, 0, len(c.namespaces))
	for _, ns := range c.namespaces {
		spaces = append(spaces, ns)
	}
	c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, ns := range spaces {
		ns.mu.Lock()
		for key, e := range ns.entries {
			if now.Sub(e.createdAt) >= ns.maxAge {
				delete(ns.entries, key)
				removed++
			}
		}
		ns.mu.Unlock()
	}
	return removed
}

// Fetch is a typed Get. A stored value of the wrong type is reported as missing.
func Fetch[T any](c *Cache, name, key string) (T, error) {
	var zero T
	v, err := c.Get(name, key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s/%s holds %T", ErrExpiredOrMissing, name, key, v)
	}
	return typed, nil
}
