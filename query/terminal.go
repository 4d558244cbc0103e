package query

import (
	"context"
	"encoding/json"

	"zenoo/domain"
	"zenoo/errors"
	"zenoo/model"
	"zenoo/transport"
)

// All 返回全部匹配记录（一次 search_read）
func (q *Query) All(ctx context.Context) ([]*Record, error) {
	raw, err := q.run(ctx, transport.MethodSearchRead)
	if err != nil {
		return nil, err
	}
	return decodeRecords(q.exec, q.registry, q.model, raw)
}

// First 返回第一条记录；结果为空时返回 (nil, nil)
//
// 无论用户设置的 limit 为多少，都强制 limit 1。
func (q *Query) First(ctx context.Context) (*Record, error) {
	c := q.clone()
	c.limit = 1
	records, err := c.All(ctx)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// Get 按 id 获取记录，不存在时返回 RecordNotFound
func (q *Query) Get(ctx context.Context, id int64) (*Record, error) {
	rec, err := q.Filter(model.IdentityField, domain.OpEq, id).First(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.RecordNotFound(q.model, id)
	}
	return rec, nil
}

// Count 返回匹配记录数（一次 search_count）
func (q *Query) Count(ctx context.Context) (int64, error) {
	raw, err := q.run(ctx, transport.MethodSearchCount)
	if err != nil {
		return 0, err
	}
	var n json.Number
	if err := DecodeResult(raw, &n); err != nil {
		return 0, err
	}
	count, ok := ToInt64(n)
	if !ok {
		return 0, errors.NewError(errors.ErrCodeRemote, "search_count 返回了非数值结果")
	}
	return count, nil
}

// Exists 是否存在匹配记录（一次 limit 1 的 search）
func (q *Query) Exists(ctx context.Context) (bool, error) {
	c := q.clone()
	c.limit = 1
	c.offset = 0
	raw, err := c.run(ctx, transport.MethodSearch)
	if err != nil {
		return false, err
	}
	var ids []json.Number
	if err := DecodeResult(raw, &ids); err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// IDs 返回匹配记录的 id（一次 search）
func (q *Query) IDs(ctx context.Context) ([]int64, error) {
	raw, err := q.run(ctx, transport.MethodSearch)
	if err != nil {
		return nil, err
	}
	var nums []json.Number
	if err := DecodeResult(raw, &nums); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(nums))
	for _, n := range nums {
		if id, ok := ToInt64(n); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// run 编译并交给执行器，构建错误不会到达网络
func (q *Query) run(ctx context.Context, method string) (json.RawMessage, error) {
	if q.exec == nil {
		return nil, errors.NewError(errors.ErrCodeInternal, "查询未绑定执行器")
	}
	compiled, err := q.Compile()
	if err != nil {
		return nil, err
	}
	key, err := compiled.Key(method)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "无法计算缓存键")
	}
	return q.exec.Execute(ctx, Call{
		Request: compiled.Request(method),
		Key:     key,
		Tags:    q.tags(),
		TTL:     q.ttl,
		NoCache: q.noCache,
	})
}
