package client

import (
	"context"
	"fmt"
	"sort"

	"zenoo/errors"
	"zenoo/logging"
	"zenoo/model"
	"zenoo/query"
	"zenoo/transaction"
	"zenoo/transport"
)

// Create 创建一条记录，返回新 id
func (c *Client) Create(ctx context.Context, modelName string, vals map[string]any) (int64, error) {
	ids, err := c.create(ctx, modelName, []map[string]any{vals}, false)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// CreateMany 一次调用创建多条记录，返回的 id 与 rows 顺序一致
func (c *Client) CreateMany(ctx context.Context, modelName string, rows []map[string]any) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	return c.create(ctx, modelName, rows, true)
}

// Update 把 vals 写入 ids 对应的记录
func (c *Client) Update(ctx context.Context, modelName string, ids []int64, vals map[string]any) error {
	if err := c.checkVals(modelName, vals); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if len(vals) == 0 {
		return errors.NewValidationError("%s: 写入的值为空", modelName)
	}

	var inverse []transaction.Inverse
	if c.tx.InTransaction() {
		meta, err := c.modelMeta(ctx, modelName)
		if err != nil {
			return err
		}
		prior, err := c.readPrior(ctx, modelName, ids, fieldNames(vals))
		if err != nil {
			return err
		}
		if inverse, err = transaction.InverseOfWrite(meta, modelName, vals, prior); err != nil {
			return err
		}
	}

	defer c.invalidate(ctx, modelName)
	if _, err := c.Call(ctx, transport.Request{
		Model:  modelName,
		Method: transport.MethodWrite,
		Args:   []any{idArgs(ids), vals},
	}); err != nil {
		return err
	}
	return c.tx.Record(ctx, transaction.Operation{
		Kind:    transaction.KindWrite,
		Model:   modelName,
		IDs:     append([]int64(nil), ids...),
		Payload: vals,
		Inverse: inverse,
	})
}

// Delete 删除记录
//
// 事务中先读取全部可写字段，回滚时重新创建（新记录会得到新的 id）。
func (c *Client) Delete(ctx context.Context, modelName string, ids ...int64) error {
	if modelName == "" {
		return errors.NewValidationError("模型名为空")
	}
	if len(ids) == 0 {
		return nil
	}

	var inverse []transaction.Inverse
	if c.tx.InTransaction() {
		meta, err := c.modelMeta(ctx, modelName)
		if err != nil {
			return err
		}
		prior, err := c.readPrior(ctx, modelName, ids, meta.WritableFieldNames())
		if err != nil {
			return err
		}
		if inverse, err = transaction.InverseOfUnlink(meta, modelName, prior); err != nil {
			return err
		}
	}

	defer c.invalidate(ctx, modelName)
	if _, err := c.Call(ctx, transport.Request{
		Model:  modelName,
		Method: transport.MethodUnlink,
		Args:   []any{idArgs(ids)},
	}); err != nil {
		return err
	}
	return c.tx.Record(ctx, transaction.Operation{
		Kind:    transaction.KindUnlink,
		Model:   modelName,
		IDs:     append([]int64(nil), ids...),
		Inverse: inverse,
	})
}

// create many 为 true 时以列表形式发送，远端返回 id 列表
func (c *Client) create(ctx context.Context, modelName string, rows []map[string]any, many bool) ([]int64, error) {
	for _, vals := range rows {
		if err := c.checkVals(modelName, vals); err != nil {
			return nil, err
		}
	}

	var arg any = rows[0]
	if many {
		list := make([]any, len(rows))
		for i, r := range rows {
			list[i] = r
		}
		arg = list
	}

	defer c.invalidate(ctx, modelName)
	raw, err := c.Call(ctx, transport.Request{
		Model:  modelName,
		Method: transport.MethodCreate,
		Args:   []any{arg},
	})
	if err != nil {
		return nil, err
	}

	var result any
	if err := query.DecodeResult(raw, &result); err != nil {
		return nil, err
	}
	ids := query.RelationIDs(result)
	if len(ids) != len(rows) {
		return nil, errors.NewError(errors.ErrCodeRemote,
			fmt.Sprintf("%s: create 返回 %d 个 id，期望 %d 个", modelName, len(ids), len(rows)))
	}

	payload := make([]map[string]any, len(rows))
	copy(payload, rows)
	if err := c.tx.Record(ctx, transaction.Operation{
		Kind:    transaction.KindCreate,
		Model:   modelName,
		IDs:     ids,
		Payload: payload,
		Inverse: transaction.InverseOfCreate(modelName, ids),
	}); err != nil {
		return nil, err
	}
	return ids, nil
}

// modelMeta 事务中计算逆操作需要字段元信息，未注册的模型先通过 fields_get 加载
func (c *Client) modelMeta(ctx context.Context, modelName string) (*model.ModelMeta, error) {
	if meta, ok := c.rt.registry.Get(modelName); ok {
		return meta, nil
	}
	return c.LoadModel(ctx, modelName)
}

// readPrior 修改前读取记录，直接访问远端，不经过缓存
func (c *Client) readPrior(ctx context.Context, modelName string, ids []int64, fields []string) ([]map[string]any, error) {
	kwargs := map[string]any{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	raw, err := c.Call(ctx, transport.Request{
		Model:  modelName,
		Method: transport.MethodRead,
		Args:   []any{idArgs(ids)},
		Kwargs: kwargs,
	})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := query.DecodeResult(raw, &rows); err != nil {
		return nil, err
	}
	if len(rows) != len(ids) {
		return nil, errors.NewError(errors.ErrCodeRecordNotFound,
			fmt.Sprintf("%s: 期望读取 %d 条记录，实际 %d 条", modelName, len(ids), len(rows)))
	}
	return rows, nil
}

// checkVals 已注册模型的字段必须存在且可写
func (c *Client) checkVals(modelName string, vals map[string]any) error {
	if modelName == "" {
		return errors.NewValidationError("模型名为空")
	}
	meta, ok := c.rt.registry.Get(modelName)
	if !ok {
		return nil
	}
	for _, name := range fieldNames(vals) {
		f, ok := meta.Field(name)
		if !ok {
			return errors.NewValidationError("%s: 字段 %q 不存在", modelName, name)
		}
		if f.Readonly || f.Computed || model.IsMagicField(name) {
			return errors.NewValidationError("%s: 字段 %q 只读", modelName, name)
		}
	}
	return nil
}

// invalidate 修改完成前失效模型标签，失败只记录日志
func (c *Client) invalidate(ctx context.Context, modelName string) {
	if c.rt.cache == nil {
		return
	}
	if err := c.rt.cache.Invalidate(context.WithoutCancel(ctx), modelName); err != nil {
		c.logger.Warn(ctx, "失效缓存失败", logging.String("model", modelName), logging.Error(err))
	}
}

func fieldNames(vals map[string]any) []string {
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func idArgs(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
