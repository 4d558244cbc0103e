// Package query 提供流式查询构建器
//
// 构建器在终结操作之前不会访问网络；每个终结操作恰好发出一次远端调用：
//
//	partners, err := q.Where("name__ilike", "acme").
//		OrderBy("name", false).
//		Limit(10).
//		All(ctx)
//
// 每个修改方法都返回新的 *Query，从同一个基础查询派生出的两个分支互不影响。
package query

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"zenoo/domain"
	"zenoo/errors"
	"zenoo/model"
	"zenoo/transport"
)

// Call 终结操作交给执行器的一次调用
type Call struct {
	Request transport.Request

	// Key 缓存键，由编译结果与方法决定
	Key string

	// Tags 结果依赖的模型，任一模型被修改时缓存失效
	Tags []string

	// TTL 0 表示使用执行器的默认值
	TTL     time.Duration
	NoCache bool
}

// Executor 执行终结操作（缓存、重试、事务感知由实现负责）
type Executor interface {
	Execute(ctx context.Context, call Call) (json.RawMessage, error)
}

// OrderKey 排序键
type OrderKey struct {
	Field string
	Desc  bool
}

func (o OrderKey) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field + " asc"
}

// Query 查询构建器状态
type Query struct {
	exec     Executor
	registry *model.Registry
	model    string

	nodes   []domain.Node
	orders  []OrderKey
	limit   int
	offset  int
	fields  []string
	ttl     time.Duration
	noCache bool

	// err 第一个构建错误，终结操作直接返回
	err error
}

// New 创建模型上的查询
//
// registry 可以为 nil（不做字段校验）。
func New(exec Executor, registry *model.Registry, modelName string) *Query {
	q := &Query{exec: exec, registry: registry, model: modelName}
	if modelName == "" {
		q.err = errors.NewValidationError("模型名不能为空")
	}
	return q
}

// Model 返回目标模型名
func (q *Query) Model() string {
	return q.model
}

// Err 返回构建过程中记录的第一个错误
func (q *Query) Err() error {
	return q.err
}

func (q *Query) clone() *Query {
	c := *q
	c.nodes = append([]domain.Node(nil), q.nodes...)
	c.orders = append([]OrderKey(nil), q.orders...)
	c.fields = append([]string(nil), q.fields...)
	return &c
}

func (q *Query) fail(err error) *Query {
	c := q.clone()
	if c.err == nil {
		c.err = err
	}
	return c
}

// Filter 追加条件，与已有条件隐式 AND
func (q *Query) Filter(field string, op domain.Operator, value any) *Query {
	return q.FilterNode(domain.C(field, op, value))
}

// Where 以 field__lookup 形式追加条件，例如 Where("company_id__name__ilike", "acme")
func (q *Query) Where(lookup string, value any) *Query {
	cond, err := domain.ParseLookup(lookup, value)
	if err != nil {
		return q.fail(err)
	}
	return q.FilterNode(cond)
}

// FilterNode 追加任意过滤节点（含 Or / Not 分组）
func (q *Query) FilterNode(n domain.Node) *Query {
	if q.err != nil {
		return q
	}
	if _, err := domain.CompileNode(n); err != nil {
		return q.fail(err)
	}
	for _, f := range domain.Fields(n) {
		if err := q.registry.ValidatePath(q.model, f); err != nil {
			return q.fail(err)
		}
	}
	c := q.clone()
	c.nodes = append(c.nodes, n)
	return c
}

// OrderBy 追加排序键
func (q *Query) OrderBy(field string, desc bool) *Query {
	if q.err != nil {
		return q
	}
	if err := q.validateField(field); err != nil {
		return q.fail(err)
	}
	c := q.clone()
	c.orders = append(c.orders, OrderKey{Field: field, Desc: desc})
	return c
}

// Limit 设置返回条数上限，0 表示不限制
func (q *Query) Limit(n int) *Query {
	if n < 0 {
		return q.fail(errors.NewValidationError("limit 不能为负数: %d", n))
	}
	c := q.clone()
	c.limit = n
	return c
}

// Offset 设置偏移量
func (q *Query) Offset(n int) *Query {
	if n < 0 {
		return q.fail(errors.NewValidationError("offset 不能为负数: %d", n))
	}
	c := q.clone()
	c.offset = n
	return c
}

// Fields 设置投影字段（集合语义，顺序无关）
func (q *Query) Fields(names ...string) *Query {
	if q.err != nil {
		return q
	}
	for _, name := range names {
		if strings.Contains(name, ".") {
			return q.fail(errors.NewValidationError("投影字段不支持关系遍历: %s", name))
		}
		if err := q.validateField(name); err != nil {
			return q.fail(err)
		}
	}
	c := q.clone()
	c.fields = append(c.fields, names...)
	return c
}

// Cache 指定本查询结果的缓存有效期
func (q *Query) Cache(ttl time.Duration) *Query {
	c := q.clone()
	c.ttl = ttl
	c.noCache = false
	return c
}

// NoCache 本查询绕过缓存
func (q *Query) NoCache() *Query {
	c := q.clone()
	c.noCache = true
	return c
}

func (q *Query) validateField(path string) error {
	return q.registry.ValidatePath(q.model, path)
}

// Compile 编译当前状态
func (q *Query) Compile() (*CompiledQuery, error) {
	if q.err != nil {
		return nil, q.err
	}
	d, err := domain.CompileNodes(q.nodes)
	if err != nil {
		return nil, err
	}
	orders := make([]string, len(q.orders))
	for i, o := range q.orders {
		orders[i] = o.String()
	}
	return &CompiledQuery{
		Model:  q.model,
		Domain: d,
		Order:  strings.Join(orders, ", "),
		Limit:  q.limit,
		Offset: q.offset,
		Fields: normalizeFields(q.fields),
	}, nil
}

// tags 结果依赖的模型：自身加上过滤与排序经过的关系模型
func (q *Query) tags() []string {
	var paths []string
	for _, n := range q.nodes {
		paths = append(paths, domain.Fields(n)...)
	}
	for _, o := range q.orders {
		paths = append(paths, o.Field)
	}
	return q.registry.DependentModels(q.model, paths...)
}
