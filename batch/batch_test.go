package batch

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/errors"
)

// TestBatch_Flush 按 (模型, 类型) 分组提交，每个 Pending 拿到自己的结果
func TestBatch_Flush(t *testing.T) {
	var mu sync.Mutex
	var chunks []Chunk
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		mu.Lock()
		chunks = append(chunks, ch)
		mu.Unlock()
		if ch.Kind == KindCreate {
			return idsFromOffset(ch), nil
		}
		return nil, nil
	})
	c := newTestCoordinator(exec, 10, 1)

	var p1, p2, p3, p4 *Pending
	err := Run(context.Background(), c, func(b *Batch) error {
		p1 = b.Create("res.partner", vals("a"))
		p2 = b.Update("res.partner", []int64{7}, vals("b"))
		p3 = b.Create("res.partner", vals("c"))
		p4 = b.Delete("res.company", 3, 4)
		assert.Equal(t, 5, b.Len())
		assert.False(t, p1.Resolved())
		assert.Error(t, p1.Err())
		return nil
	})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, KindCreate, chunks[0].Kind)
	assert.Len(t, chunks[0].Payloads, 2)
	assert.Equal(t, KindWrite, chunks[1].Kind)
	assert.Equal(t, KindUnlink, chunks[2].Kind)
	assert.Equal(t, "res.company", chunks[2].Model)

	assert.True(t, p1.Resolved())
	assert.NoError(t, p1.Err())
	assert.Equal(t, int64(1000), p1.ID())
	assert.Equal(t, int64(1001), p3.ID())
	assert.Equal(t, []int64{7}, p2.IDs())
	assert.Equal(t, []int64{3, 4}, p4.IDs())
	assert.NoError(t, p4.Err())
}

// TestBatch_PartialFailure 失败分块只影响对应的 Pending
func TestBatch_PartialFailure(t *testing.T) {
	boom := errors.Remote(stdErrors.New("constraint"), "unlink 失败")
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		if ch.Kind == KindUnlink && ch.Offset == 1 {
			return nil, boom
		}
		return idsFromOffset(ch), nil
	})
	c := newTestCoordinator(exec, 1, 1)
	b := New(c)
	ok := b.Delete("res.partner", 1)
	bad := b.Delete("res.partner", 2)
	created := b.Create("res.partner", vals("x"))

	err := b.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, ok.Err())
	assert.ErrorIs(t, bad.Err(), boom)
	assert.NoError(t, created.Err())
	assert.Equal(t, 0, b.Len())
}

// TestBatch_RunError fn 返回错误时不提交
func TestBatch_RunError(t *testing.T) {
	called := false
	exec := ExecutorFunc(func(ctx context.Context, ch Chunk) ([]int64, error) {
		called = true
		return nil, nil
	})
	cause := stdErrors.New("abort")
	err := Run(context.Background(), newTestCoordinator(exec, 10, 1), func(b *Batch) error {
		b.Delete("res.partner", 1)
		return cause
	})
	assert.ErrorIs(t, err, cause)
	assert.False(t, called)
}
