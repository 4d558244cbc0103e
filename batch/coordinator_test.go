package batch

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/errors"
	"zenoo/logging"
)

func vals(name string) map[string]any {
	return map[string]any{"name": name}
}

func payloadsOf(names ...string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = vals(n)
	}
	return out
}

// idsFromOffset create 执行器：新 id = 1000 + 全局下标
func idsFromOffset(ch Chunk) []int64 {
	ids := make([]int64, len(ch.Payloads))
	for i := range ch.Payloads {
		ids[i] = int64(1000 + ch.Offset + i)
	}
	return ids
}

func newTestCoordinator(exec Executor, size, concurrency int, opts ...Option) *Coordinator {
	opts = append([]Option{WithLogger(logging.NewNoopLogger())}, opts...)
	return NewCoordinator(exec, Config{MaxChunkSize: size, MaxConcurrency: concurrency}, opts...)
}

// TestCoordinator_OrderWithOutOfOrderCompletion 第二个分块先完成，结果顺序仍与输入一致
func TestCoordinator_OrderWithOutOfOrderCompletion(t *testing.T) {
	secondDone := make(chan struct{})
	var order []int
	var mu sync.Mutex
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		if ch.Offset == 0 {
			<-secondDone
		}
		mu.Lock()
		order = append(order, ch.Offset)
		mu.Unlock()
		if ch.Offset == 2 {
			close(secondDone)
		}
		return idsFromOffset(ch), nil
	})

	c := newTestCoordinator(exec, 2, 2)
	results, err := c.Submit(context.Background(), "res.partner", KindCreate, payloadsOf("p0", "p1", "p2"))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 0}, order)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.True(t, r.OK())
		assert.Equal(t, int64(1000+i), r.ID)
	}
}

// TestCoordinator_ChunkFailure 失败只影响该分块范围
func TestCoordinator_ChunkFailure(t *testing.T) {
	boom := errors.RetriesExhausted(errors.Transient(stdErrors.New("timeout"), "超时"), 3)
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		if ch.Offset == 2 {
			return nil, boom
		}
		return idsFromOffset(ch), nil
	})

	c := newTestCoordinator(exec, 2, 4)
	results, err := c.Submit(context.Background(), "res.partner", KindCreate, payloadsOf("a", "b", "c", "d", "e"))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.True(t, results[0].OK())
	assert.True(t, results[1].OK())
	assert.ErrorIs(t, results[2].Err, boom)
	assert.ErrorIs(t, results[3].Err, boom)
	assert.True(t, results[4].OK())
	assert.Equal(t, int64(1004), results[4].ID)
}

// TestCoordinator_OrderedDispatch 事务中逐个执行分块
func TestCoordinator_OrderedDispatch(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	var offsets []int
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		n := inflight.Add(1)
		if n > maxInflight.Load() {
			maxInflight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		offsets = append(offsets, ch.Offset)
		inflight.Add(-1)
		return nil, nil
	})

	c := newTestCoordinator(exec, 1, 8, WithOrdered(func() bool { return true }))
	results, err := c.Submit(context.Background(), "res.partner", KindUnlink, []any{int64(1), int64(2), int64(3), int64(4)})
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, int32(1), maxInflight.Load())
	assert.Equal(t, []int{0, 1, 2, 3}, offsets)
}

// TestCoordinator_ConcurrencyLimit 并发分块数不超过上限
func TestCoordinator_ConcurrencyLimit(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	var mu sync.Mutex
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		n := inflight.Add(1)
		mu.Lock()
		if n > maxInflight.Load() {
			maxInflight.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return nil, nil
	})

	payloads := make([]any, 20)
	for i := range payloads {
		payloads[i] = int64(i + 1)
	}
	c := newTestCoordinator(exec, 2, 3)
	_, err := c.Submit(context.Background(), "res.partner", KindUnlink, payloads)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxInflight.Load(), int32(3))
}

// TestCoordinator_InvalidPayloads 输入不合法时不发出任何调用
func TestCoordinator_InvalidPayloads(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		calls.Add(1)
		return nil, nil
	})
	c := newTestCoordinator(exec, 2, 2)
	ctx := context.Background()

	_, err := c.Submit(ctx, "res.partner", KindCreate, []any{vals("a"), "oops"})
	assert.True(t, errors.IsValidation(err))
	_, err = c.Submit(ctx, "res.partner", KindWrite, []any{WriteItem{Vals: vals("a")}})
	assert.True(t, errors.IsValidation(err))
	_, err = c.Submit(ctx, "res.partner", Kind("merge"), nil)
	assert.True(t, errors.IsValidation(err))
	_, err = c.Submit(ctx, "", KindUnlink, []any{int64(1)})
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, int32(0), calls.Load())

	results, err := c.Submit(ctx, "res.partner", KindUnlink, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestCoordinator_CreateIDMismatch 返回 id 数与负载数不一致视为分块失败
func TestCoordinator_CreateIDMismatch(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		return []int64{1}, nil
	})
	c := newTestCoordinator(exec, 5, 1)
	results, err := c.Submit(context.Background(), "res.partner", KindCreate, payloadsOf("a", "b"))
	require.NoError(t, err)
	assert.True(t, errors.IsErrorCode(results[0].Err, errors.ErrCodeRemote))
	assert.True(t, errors.IsErrorCode(results[1].Err, errors.ErrCodeRemote))
}

// TestCoordinator_Canceled 已取消的上下文不再发出调用
func TestCoordinator_Canceled(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		calls.Add(1)
		return nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCoordinator(exec, 1, 2)
	results, err := c.Submit(ctx, "res.partner", KindUnlink, []any{int64(1), int64(2)})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.ErrorIs(t, results[1].Err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

// TestGroupWrites 值相同的 write 合并，保持首次出现顺序
func TestGroupWrites(t *testing.T) {
	groups := GroupWrites([]any{
		WriteItem{IDs: []int64{1}, Vals: map[string]any{"active": false, "note": "x"}},
		WriteItem{IDs: []int64{2}, Vals: map[string]any{"name": "B"}},
		WriteItem{IDs: []int64{3, 4}, Vals: map[string]any{"note": "x", "active": false}},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, []int64{1, 3, 4}, groups[0].IDs)
	assert.Equal(t, []int64{2}, groups[1].IDs)
	assert.Equal(t, map[string]any{"name": "B"}, groups[1].Vals)
}
