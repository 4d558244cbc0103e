package redisstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/cache"
	"zenoo/logging"
)

var _ cache.IStore = (*Store)(nil)

// fakeRedis 内存实现的最小 Redis 命令集
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string][]byte
	ttls    map[string]time.Duration
	sets    map[string]map[string]struct{}
	closed  bool
	failGet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: map[string][]byte{},
		ttls:   map[string]time.Duration{},
		sets:   map[string]map[string]struct{}{},
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = append([]byte(nil), value.([]byte)...)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = map[string]struct{}{}
		f.sets[key] = set
	}
	var n int64
	for _, m := range members {
		s := m.(string)
		if _, ok := set[s]; !ok {
			set[s] = struct{}{}
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range f.sets {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func newTestStore(f *fakeRedis, own bool) *Store {
	return newStore(f, own, "test:", logging.NewNoopLogger())
}

// TestStore_GetSet 读写与未命中
func TestStore_GetSet(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	s := newTestStore(f, false)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte(`[1,2]`), time.Minute, []string{"res.partner"}))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[1,2]`), v)

	assert.Equal(t, time.Minute, f.ttls["test:v:k"])
	assert.Contains(t, f.sets["test:t:res.partner"], "test:v:k")

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

// TestStore_GetError 非 redis.Nil 错误向上返回
func TestStore_GetError(t *testing.T) {
	f := newFakeRedis()
	f.failGet = assert.AnError
	_, _, err := newTestStore(f, false).Get(context.Background(), "k")
	assert.ErrorIs(t, err, assert.AnError)
}

// TestStore_InvalidateTags 删除标签成员与标签集合
func TestStore_InvalidateTags(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	s := newTestStore(f, false)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0, []string{"res.partner"}))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0, []string{"res.partner", "res.company"}))
	require.NoError(t, s.Set(ctx, "c", []byte("3"), 0, []string{"res.users"}))

	n, err := s.InvalidateTags(ctx, "res.partner", "res.missing")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "c")
	assert.True(t, ok)
	assert.NotContains(t, f.sets, "test:t:res.partner")

	// b 已被删除，res.company 标签只剩悬空成员
	n, err = s.InvalidateTags(ctx, "res.company")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestStore_Clear 删除前缀下全部键
func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	f.values["other:x"] = []byte("keep")
	s := newTestStore(f, false)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0, []string{"m"}))
	require.NoError(t, s.Clear(ctx))

	assert.Equal(t, map[string][]byte{"other:x": []byte("keep")}, f.values)
	assert.Empty(t, f.sets)
}

// TestStore_Close 只关闭自行创建的连接
func TestStore_Close(t *testing.T) {
	f := newFakeRedis()
	require.NoError(t, newTestStore(f, false).Close())
	assert.False(t, f.closed)
	require.NoError(t, newTestStore(f, true).Close())
	assert.True(t, f.closed)
}

// TestStore_WithManager 作为 Manager 后端使用
func TestStore_WithManager(t *testing.T) {
	ctx := context.Background()
	m := cache.NewManager(newTestStore(newFakeRedis(), false), cache.WithLogger(logging.NewNoopLogger()))

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"id":1}`), nil
	}
	for i := 0; i < 2; i++ {
		_, err := m.GetOrCompute(ctx, "k", cache.Options{Tags: []string{"res.partner"}}, compute)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	require.NoError(t, m.Invalidate(ctx, "res.partner"))
	_, err := m.GetOrCompute(ctx, "k", cache.Options{Tags: []string{"res.partner"}}, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

// TestNew_RequiresAddr 缺少地址与客户端
func TestNew_RequiresAddr(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, err := New(Config{Addr: "localhost:6379"})
	require.NoError(t, err)
	assert.True(t, s.ownClient)
	assert.Equal(t, "zenoo:", s.prefix)
	_ = s.Close()
}
