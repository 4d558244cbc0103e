package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"zenoo/domain"
	"zenoo/errors"
	"zenoo/model"
)

// Record 远端返回的一条记录
//
// 数值以 json.Number 保存，访问器负责转换；关系字段通过 Related 访问。
type Record struct {
	model    string
	values   map[string]any
	exec     Executor
	registry *model.Registry

	mu        sync.Mutex
	relations map[string]*Relation
}

// NewRecord 由字段值构造记录
func NewRecord(exec Executor, registry *model.Registry, modelName string, values map[string]any) *Record {
	if values == nil {
		values = map[string]any{}
	}
	return &Record{model: modelName, values: values, exec: exec, registry: registry}
}

// Model 所属模型
func (r *Record) Model() string {
	return r.model
}

// ID 记录主键
func (r *Record) ID() int64 {
	return r.Int(model.IdentityField)
}

// Value 返回原始字段值
func (r *Record) Value(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Values 返回字段值副本
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// FieldNames 返回已加载字段（排序）
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.values))
	for k := range r.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// String 字符串字段；远端用 false 表示空值，此时返回 ""
func (r *Record) String(field string) string {
	switch v := r.values[field].(type) {
	case string:
		return v
	case nil, bool:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int 整数字段；many2one 返回关联记录 id
func (r *Record) Int(field string) int64 {
	v := r.values[field]
	if pair, ok := v.([]any); ok && len(pair) > 0 {
		v = pair[0]
	}
	n, _ := ToInt64(v)
	return n
}

// Float 浮点字段
func (r *Record) Float(field string) float64 {
	switch v := r.values[field].(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	case float64:
		return v
	}
	n, ok := ToInt64(r.values[field])
	if ok {
		return float64(n)
	}
	return 0
}

// Bool 布尔字段
func (r *Record) Bool(field string) bool {
	b, _ := r.values[field].(bool)
	return b
}

// IDs 关系字段的 id 列表：many2one 返回零或一个，x2many 返回全部
func (r *Record) IDs(field string) []int64 {
	return RelationIDs(r.values[field])
}

// Related 返回关系字段的惰性访问器，同一字段多次调用返回同一个实例
func (r *Record) Related(field string) *Relation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rel, ok := r.relations[field]; ok {
		return rel
	}
	if r.relations == nil {
		r.relations = make(map[string]*Relation)
	}

	rel := &Relation{field: field, ids: r.IDs(field), exec: r.exec, registry: r.registry}
	target, err := r.registry.RelationTarget(r.model, field)
	if err != nil {
		rel.err = err
	} else {
		rel.target = target
	}
	r.relations[field] = rel
	return rel
}

// Relation 关系字段的惰性加载
//
// 首次 Get 时对目标模型发起一次新的查询（可独立缓存），结果随后被记住。
type Relation struct {
	field    string
	target   string
	ids      []int64
	exec     Executor
	registry *model.Registry
	err      error

	mu      sync.Mutex
	loaded  bool
	records []*Record
}

// Target 目标模型
func (r *Relation) Target() string {
	return r.target
}

// IDs 关联记录 id
func (r *Relation) IDs() []int64 {
	return append([]int64(nil), r.ids...)
}

// Loaded 是否已经加载（不会触发远端调用）
func (r *Relation) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Get 加载关联记录，顺序与 id 列表一致
func (r *Relation) Get(ctx context.Context) ([]*Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.records, nil
	}
	if len(r.ids) == 0 {
		r.loaded = true
		return nil, nil
	}

	ids := make([]any, len(r.ids))
	for i, id := range r.ids {
		ids[i] = id
	}
	records, err := New(r.exec, r.registry, r.target).Filter(model.IdentityField, domain.OpIn, ids).All(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*Record, len(records))
	for _, rec := range records {
		byID[rec.ID()] = rec
	}
	ordered := make([]*Record, 0, len(records))
	for _, id := range r.ids {
		if rec, ok := byID[id]; ok {
			ordered = append(ordered, rec)
		}
	}
	r.records = ordered
	r.loaded = true
	return ordered, nil
}

// One 加载 many2one 关联记录，空关联返回 nil
func (r *Relation) One(ctx context.Context) (*Record, error) {
	records, err := r.Get(ctx)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// decodeRecords 解析 search_read / read 结果
func decodeRecords(exec Executor, registry *model.Registry, modelName string, raw json.RawMessage) ([]*Record, error) {
	var rows []map[string]any
	if err := DecodeResult(raw, &rows); err != nil {
		return nil, err
	}
	records := make([]*Record, len(rows))
	for i, row := range rows {
		records[i] = NewRecord(exec, registry, modelName, row)
	}
	return records, nil
}

// DecodeResult 以 UseNumber 解码远端结果
func DecodeResult(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.WrapError(err, errors.ErrCodeRemote, "无法解析远端结果")
	}
	return nil
}

// ToInt64 把远端返回的数值转换为 int64
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// RelationIDs 从关系字段的读取结果中取出 id：many2one 为 [id, name]，x2many 为 id 列表
func RelationIDs(v any) []int64 {
	switch x := v.(type) {
	case []any:
		// many2one: [id, display_name]
		if len(x) == 2 {
			if _, isName := x[1].(string); isName {
				if id, ok := ToInt64(x[0]); ok {
					return []int64{id}
				}
			}
		}
		ids := make([]int64, 0, len(x))
		for _, item := range x {
			if id, ok := ToInt64(item); ok {
				ids = append(ids, id)
			}
		}
		return ids
	case []int64:
		return append([]int64(nil), x...)
	}
	if id, ok := ToInt64(v); ok && id != 0 {
		return []int64{id}
	}
	return nil
}
