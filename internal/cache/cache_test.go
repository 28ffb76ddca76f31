// ABOUTME: Tests for the named TTL cache.
// ABOUTME: Covers namespace lifecycle, expiry with a fake clock, locked transactions, and concurrency.

package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_SetupIsIdempotent(t *testing.T) {
	c := New()
	c.Setup("x", time.Minute)
	_, err := c.Put("x", "k", 1)
	require.NoError(t, err)

	c.Setup("x", time.Second)

	v, err := c.Get("x", "k")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, c.Has("x"))
}

func TestCache_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	c.Setup("d", 0)
	_, _ = c.Put("d", "k", "v")

	clock.Advance(DefaultTTL - time.Second)
	assert.True(t, c.IsValid("d", "k"))

	clock.Advance(time.Second)
	assert.False(t, c.IsValid("d", "k"))
}

func TestCache_UnknownNamespace(t *testing.T) {
	c := New()

	_, err := c.Get("nope", "k")
	assert.ErrorIs(t, err, ErrUnknownNamespace)

	_, err = c.Put("nope", "k", 1)
	assert.ErrorIs(t, err, ErrUnknownNamespace)

	_, err = c.Invalidate("nope", "k")
	assert.ErrorIs(t, err, ErrUnknownNamespace)

	assert.ErrorIs(t, c.Drop("nope"), ErrUnknownNamespace)
	assert.ErrorIs(t, c.Check("nope", "k"), ErrUnknownNamespace)
	assert.False(t, c.IsValid("nope", "k"))
	assert.True(t, c.IsInvalid("nope", "k"))
}

func TestCache_PutReturnsValue(t *testing.T) {
	c := New()
	c.Setup("x", time.Minute)

	v, err := c.Put("x", "k", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	c.Setup("x", 10*time.Second)
	_, _ = c.Put("x", "k", 1)

	clock.Advance(9 * time.Second)
	require.NoError(t, c.Check("x", "k"))

	clock.Advance(time.Second)
	err := c.Check("x", "k")
	assert.ErrorIs(t, err, ErrExpiredOrMissing)

	_, err = c.Get("x", "k")
	assert.ErrorIs(t, err, ErrExpiredOrMissing)
}

func TestCache_MissingKey(t *testing.T) {
	c := New()
	c.Setup("x", time.Minute)

	_, err := c.Get("x", "missing")
	assert.ErrorIs(t, err, ErrExpiredOrMissing)
	assert.False(t, c.IsValid("x", "missing"))
}

func TestCache_Invalidate(t *testing.T) {
	c := New()
	c.Setup("x", time.Minute)
	_, _ = c.Put("x", "k", 1)

	removed, err := c.Invalidate("x", "k")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.Invalidate("x", "k")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCache_Drop(t *testing.T) {
	c := New()
	c.Setup("x", time.Minute)
	require.NoError(t, c.Drop("x"))
	assert.False(t, c.Has("x"))

	// A recreated namespace starts empty.
	c.Setup("x", time.Minute)
	assert.False(t, c.IsValid("x", "k"))
}

func TestCache_WithLockComputeIfAbsent(t *testing.T) {
	c := New()
	c.Setup("ddl", time.Minute)

	loads := 0
	load := func() error {
		return c.WithLock("ddl", func(tx *Txn) error {
			if tx.IsValid("agent") {
				return nil
			}
			loads++
			_, err := tx.Put("agent", "descriptor")
			return err
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, load())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, loads)
	v, err := Fetch[string](c, "ddl", "agent")
	require.NoError(t, err)
	assert.Equal(t, "descriptor", v)
}

func TestCache_WithLockPropagatesError(t *testing.T) {
	c := New()
	c.Setup("x", time.Minute)
	boom := errors.New("boom")

	err := c.WithLock("x", func(tx *Txn) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestCache_FetchWrongType(t *testing.T) {
	c := New()
	c.Setup("x", time.Minute)
	_, _ = c.Put("x", "k", 42)

	_, err := Fetch[string](c, "x", "k")
	assert.ErrorIs(t, err, ErrExpiredOrMissing)

	n, err := Fetch[int](c, "x", "k")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestCache_Prune(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	c.Setup("short", time.Second)
	c.Setup("long", time.Hour)
	_, _ = c.Put("short", "a", 1)
	_, _ = c.Put("short", "b", 1)
	_, _ = c.Put("long", "c", 1)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, c.Prune())
	assert.True(t, c.IsValid("long", "c"))
}

func TestCache_ConcurrentNamespaces(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			c.Setup(name, time.Minute)
			for j := 0; j < 100; j++ {
				_, _ = c.Put(name, "k", j)
				_, _ = c.Get(name, "k")
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		v, err := c.Get(string(rune('a'+i)), "k")
		require.NoError(t, err)
		assert.Equal(t, 99, v)
	}
}

func TestProperty_PutThenGetWithinTTL(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := newFakeClock()
		c := New(WithClock(clock.Now))
		ttl := time.Duration(rapid.IntRange(1, 600).Draw(rt, "ttl")) * time.Second
		elapsed := time.Duration(rapid.IntRange(0, 1200).Draw(rt, "elapsed")) * time.Second
		key := rapid.String().Draw(rt, "key")
		value := rapid.Int().Draw(rt, "value")

		c.Setup("p", ttl)
		_, err := c.Put("p", key, value)
		require.NoError(rt, err)
		clock.Advance(elapsed)

		got, err := c.Get("p", key)
		if elapsed < ttl {
			require.NoError(rt, err)
			assert.Equal(rt, value, got)
		} else {
			assert.ErrorIs(rt, err, ErrExpiredOrMissing)
		}
	})
}
