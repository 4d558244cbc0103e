package client

import (
	"context"

	"zenoo/batch"
	"zenoo/errors"
)

// batchExecutor 把分块接到会话的修改路径上
//
// 每个分块走与单条修改相同的逻辑：事务中读取修改前的值、记录逆操作、失效缓存。
// 只有执行成功的分块会进入事务日志。
type batchExecutor struct {
	c *Client
}

// ExecChunk 实现 batch.Executor
func (e batchExecutor) ExecChunk(ctx context.Context, ch batch.Chunk) ([]int64, error) {
	switch ch.Kind {
	case batch.KindCreate:
		rows := make([]map[string]any, len(ch.Payloads))
		for i, p := range ch.Payloads {
			rows[i], _ = p.(map[string]any)
		}
		return e.c.create(ctx, ch.Model, rows, true)

	case batch.KindWrite:
		// 值相同的 write 合并为一次调用
		for _, g := range batch.GroupWrites(ch.Payloads) {
			if err := e.c.Update(ctx, ch.Model, g.IDs, g.Vals); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case batch.KindUnlink:
		ids := make([]int64, 0, len(ch.Payloads))
		for _, p := range ch.Payloads {
			if id, ok := p.(int64); ok {
				ids = append(ids, id)
			}
		}
		return nil, e.c.Delete(ctx, ch.Model, ids...)
	}
	return nil, errors.NewValidationError("未知的批量操作类型 %q", ch.Kind)
}
