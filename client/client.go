// Package client 是 zenoo 的公开入口
//
// Runtime 持有多个会话共享的缓存、熔断器与模型注册表；Client 是单个会话，
// 负责把查询、修改、事务和批量操作接到同一条重试 + 缓存 + 事务感知的调用链上：
//
//	rt := client.NewRuntime()
//	c := client.New(rt, transport)
//	partners, err := c.Model("res.partner").Where("name__ilike", "acme").All(ctx)
//
//	err = c.Transaction(ctx, func(ctx context.Context) error {
//		id, err := c.Create(ctx, "res.partner", map[string]any{"name": "Acme"})
//		...
//	})
package client

import (
	"context"
	"encoding/json"

	"zenoo/batch"
	"zenoo/cache"
	"zenoo/errors"
	"zenoo/logging"
	"zenoo/model"
	"zenoo/patterns/retry"
	"zenoo/query"
	"zenoo/transaction"
	"zenoo/transport"
)

// Client 一个会话
//
// 会话内的修改与事务按调用顺序执行；相互独立的查询可以并发。
type Client struct {
	rt        *Runtime
	transport transport.ITransport
	retry     *retry.Controller
	tx        *transaction.Manager
	coord     *batch.Coordinator
	logger    logging.Logger
}

// New 创建会话
func New(rt *Runtime, tr transport.ITransport) *Client {
	if rt == nil {
		rt = NewRuntime()
	}
	c := &Client{
		rt:        rt,
		transport: tr,
		retry:     rt.newController(),
		logger:    rt.logger.WithFields(logging.String("endpoint", tr.Endpoint())),
	}

	txOpts := []transaction.Option{transaction.WithLogger(logging.Component(c.logger, "transaction"))}
	if rt.journal != nil {
		txOpts = append(txOpts, transaction.WithJournal(rt.journal))
	}
	if rt.cache != nil {
		txOpts = append(txOpts, transaction.WithInvalidator(rt.cache))
	}
	c.tx = transaction.NewManager(c, txOpts...)

	c.coord = batch.NewCoordinator(batchExecutor{c}, rt.batchCfg,
		batch.WithLogger(logging.Component(c.logger, "batch")),
		batch.WithOrdered(c.tx.InTransaction))
	return c
}

// Runtime 所属运行时
func (c *Client) Runtime() *Runtime {
	return c.rt
}

// Transport 底层传输
func (c *Client) Transport() transport.ITransport {
	return c.transport
}

// Registry 模型注册表
func (c *Client) Registry() *model.Registry {
	return c.rt.registry
}

// Model 在模型上开始一个查询
func (c *Client) Model(name string) *query.Query {
	return query.New(c, c.rt.registry, name)
}

// Call 经过重试与熔断执行一次原始远端调用，不读写缓存
func (c *Client) Call(ctx context.Context, req transport.Request) (json.RawMessage, error) {
	raw, err := retry.Do(ctx, c.retry, c.transport.Endpoint(), func(ctx context.Context) (json.RawMessage, error) {
		return c.transport.Call(ctx, req)
	})
	if err != nil {
		return nil, errors.Annotate(err, req.Model, req.Method)
	}
	return raw, nil
}

// Invoke 实现 transaction.Invoker：逆操作同样经过重试
func (c *Client) Invoke(ctx context.Context, req transport.Request) (json.RawMessage, error) {
	return c.Call(ctx, req)
}

// Execute 实现 query.Executor
//
// 事务进行中绕过缓存：既不读取可能过期的结果，也不写入未提交的状态。
func (c *Client) Execute(ctx context.Context, call query.Call) (json.RawMessage, error) {
	if c.rt.cache == nil || call.NoCache || call.Request.IsMutation() {
		return c.Call(ctx, call.Request)
	}
	opts := cache.Options{
		TTL:    call.TTL,
		Tags:   call.Tags,
		Bypass: c.tx.InTransaction(),
	}
	key := transport.SessionKey(c.transport) + "|" + call.Key
	data, err := c.rt.cache.GetOrCompute(ctx, key, opts, func(ctx context.Context) ([]byte, error) {
		return c.Call(ctx, call.Request)
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// LoadModel 通过 fields_get 读取模型元信息并注册
func (c *Client) LoadModel(ctx context.Context, name string) (*model.ModelMeta, error) {
	raw, err := c.Call(ctx, transport.Request{
		Model:  name,
		Method: transport.MethodFieldsGet,
		Kwargs: map[string]any{"attributes": []string{"type", "string", "relation", "readonly", "required", "store"}},
	})
	if err != nil {
		return nil, err
	}
	var fields map[string]map[string]any
	if err := query.DecodeResult(raw, &fields); err != nil {
		return nil, err
	}
	meta, err := model.FromFieldsGet(name, fields)
	if err != nil {
		return nil, errors.Remote(err, "fields_get 返回格式错误")
	}
	c.rt.registry.Register(meta)
	c.logger.Debug(ctx, "已加载模型元信息", logging.String("model", name), logging.Int("fields", len(fields)))
	return meta, nil
}

// Transaction 在补偿式事务中执行 fn
//
// fn 返回错误或 panic 时倒序执行逆操作；回滚成功返回 TRANSACTION_ROLLED_BACK（包装 fn 的错误），
// 回滚失败返回 *errors.RollbackFailedError。
func (c *Client) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.tx.Run(ctx, func(ctx context.Context, _ *transaction.Scope) error {
		return fn(ctx)
	})
}

// Begin 手动开始事务
func (c *Client) Begin(ctx context.Context) (*transaction.Scope, error) {
	return c.tx.Begin(ctx)
}

// Commit 提交事务
func (c *Client) Commit(ctx context.Context, s *transaction.Scope) error {
	return c.tx.Commit(ctx, s)
}

// Rollback 回滚事务
func (c *Client) Rollback(ctx context.Context, s *transaction.Scope, cause error) error {
	return c.tx.Rollback(ctx, s, cause)
}

// InTransaction 是否有活动事务
func (c *Client) InTransaction() bool {
	return c.tx.InTransaction()
}

// FailedTransactions 回滚失败、等待修复的事务
func (c *Client) FailedTransactions(ctx context.Context) ([]*transaction.State, error) {
	return c.tx.Failed(ctx)
}

// RepairTransaction 重新执行失败事务剩余的逆操作
func (c *Client) RepairTransaction(ctx context.Context, scopeID string) error {
	return c.tx.Repair(ctx, scopeID)
}

// Batch 收集 fn 中的 Create/Update/Delete，按 (模型, 类型) 分组批量提交
func (c *Client) Batch(ctx context.Context, fn func(b *batch.Batch) error) error {
	return batch.Run(ctx, c.coord, fn)
}

// Submit 直接提交一组同类修改，结果顺序与 payloads 一致
func (c *Client) Submit(ctx context.Context, modelName string, kind batch.Kind, payloads []any) ([]batch.Result, error) {
	return c.coord.Submit(ctx, modelName, kind, payloads)
}

var (
	_ query.Executor      = (*Client)(nil)
	_ transaction.Invoker = (*Client)(nil)
)
