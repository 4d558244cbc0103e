package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// TestCache_BasicOperations 基本读写删除
func TestCache_BasicOperations(t *testing.T) {
	c := New(Config[string, int]{Name: "test", Capacity: 10})

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 0, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

// TestCache_LRUEviction 超出容量时驱逐最久未使用的条目
func TestCache_LRUEviction(t *testing.T) {
	var evicted []string
	c := New(Config[string, int]{
		Capacity: 2,
		OnEvict:  func(k string, _ int) { evicted = append(evicted, k) },
	})

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	// 访问 a，使 b 成为最久未使用
	_, _ = c.Get("a")
	c.Set("c", 3, 0)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

// TestCache_PerEntryTTL 每个条目独立过期
func TestCache_PerEntryTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(Config[string, int]{Now: clock.Now})

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	c.Set("forever", 3, 0)

	clock.Advance(2 * time.Second)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Expires)
}

// TestCache_UpdateExisting 覆盖写入会重置有效期并回调旧值
func TestCache_UpdateExisting(t *testing.T) {
	clock := newFakeClock()
	var old []int
	c := New(Config[string, int]{Now: clock.Now, OnEvict: func(_ string, v int) { old = append(old, v) }})

	c.Set("k", 1, time.Second)
	c.Set("k", 2, 0)
	clock.Advance(time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, []int{1}, old)
	assert.Equal(t, 1, c.Len())
}

// TestCache_Purge 清空
func TestCache_Purge(t *testing.T) {
	n := 0
	c := New(Config[int, int]{OnEvict: func(int, int) { n++ }})
	for i := 0; i < 5; i++ {
		c.Set(i, i, 0)
	}
	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 5, n)
	assert.Contains(t, c.String(), "Cache[unnamed]")
}
