// ABOUTME: Repository finds descriptors on disk and memoizes them in the named cache.
// ABOUTME: Satisfies the data timeout lookup used by compound discovery.

package ddl

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"time"

	"github.com/2389/coven-rpc/internal/cache"
)

// CacheNamespace is the cache namespace holding parsed descriptors.
const CacheNamespace = "ddl"

var validName = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

// Repository loads descriptors from a directory.
type Repository struct {
	dir    string
	cache  *cache.Cache
	logger *slog.Logger
}

// NewRepository reads descriptors under dir and memoizes them in c for ttl.
func NewRepository(dir string, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	c.Setup(CacheNamespace, ttl)
	return &Repository{
		dir:    dir,
		cache:  c,
		logger: logger.With("component", "ddl"),
	}
}

// Agent returns the descriptor for the named agent.
func (r *Repository) Agent(name string) (*Agent, error) {
	v, err := r.load("agent", name, func(path string) (any, error) { return LoadAgent(path) })
	if err != nil {
		return nil, err
	}
	return v.(*Agent), nil
}

// Data returns the descriptor for the named data function.
func (r *Repository) Data(name string) (*Data, error) {
	v, err := r.load("data", name, func(path string) (any, error) { return LoadData(path) })
	if err != nil {
		return nil, err
	}
	return v.(*Data), nil
}

// DataTimeout returns the evaluation allowance of a data function, or zero
// when it has no descriptor.
func (r *Repository) DataTimeout(name string) time.Duration {
	d, err := r.Data(name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("loading data descriptor", "name", name, "error", err)
		}
		return 0
	}
	return d.Timeout()
}

func (r *Repository) load(kind, name string, parse func(path string) (any, error)) (any, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid %s name %q", ErrNotFound, kind, name)
	}

	key := kind + "/" + name
	var out any
	err := r.cache.WithLock(CacheNamespace, func(tx *cache.Txn) error {
		if v, err := tx.Get(key); err == nil {
			out = v
			return nil
		}
		path := filepath.Join(r.dir, kind, name+".yaml")
		v, err := parse(path)
		if err != nil {
			return err
		}
		r.logger.Debug("loaded descriptor", "kind", kind, "name", name, "path", path)
		out, _ = tx.Put(key, v)
		return nil
	})
	return out, err
}
