package transaction

import (
	"sort"

	"zenoo/errors"
	"zenoo/model"
	"zenoo/query"
	"zenoo/transport"
)

// InverseOfCreate create 的逆操作：删除新建的记录
func InverseOfCreate(modelName string, ids []int64) []Inverse {
	if len(ids) == 0 {
		return nil
	}
	return []Inverse{{Request: transport.Request{
		Model:  modelName,
		Method: transport.MethodUnlink,
		Args:   []any{idList(ids)},
	}}}
}

// InverseOfWrite write 的逆操作：逐条记录写回修改前的值
//
// prior 是修改执行前读取的记录，至少包含 id 与 vals 中的字段。
func InverseOfWrite(meta *model.ModelMeta, modelName string, vals map[string]any, prior []map[string]any) ([]Inverse, error) {
	fields := make([]string, 0, len(vals))
	for f := range vals {
		if f != model.IdentityField {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	out := make([]Inverse, 0, len(prior))
	for _, row := range prior {
		id, ok := query.ToInt64(row[model.IdentityField])
		if !ok {
			return nil, errors.NewError(errors.ErrCodeInternal, "修改前的记录缺少 id，无法计算逆操作")
		}
		restore := make(map[string]any, len(fields))
		for _, f := range fields {
			v, present := row[f]
			if !present {
				continue
			}
			restore[f] = normalizeValue(meta, f, v)
		}
		if len(restore) == 0 {
			continue
		}
		out = append(out, Inverse{Request: transport.Request{
			Model:  modelName,
			Method: transport.MethodWrite,
			Args:   []any{idList([]int64{id}), restore},
		}})
	}
	return out, nil
}

// InverseOfUnlink unlink 的逆操作：按修改前读取的完整记录重新创建
//
// 不可写回的字段（只读、计算、自动维护、one2many）被跳过；重建的记录会得到新的 id。
func InverseOfUnlink(meta *model.ModelMeta, modelName string, prior []map[string]any) ([]Inverse, error) {
	out := make([]Inverse, 0, len(prior))
	for _, row := range prior {
		id, ok := query.ToInt64(row[model.IdentityField])
		if !ok {
			return nil, errors.NewError(errors.ErrCodeInternal, "删除前的记录缺少 id，无法计算逆操作")
		}
		vals := make(map[string]any, len(row))
		for f, v := range row {
			if !restorable(meta, f) {
				continue
			}
			vals[f] = normalizeValue(meta, f, v)
		}
		out = append(out, Inverse{
			Request: transport.Request{
				Model:  modelName,
				Method: transport.MethodCreate,
				Args:   []any{vals},
			},
			Restores: id,
		})
	}
	return out, nil
}

func restorable(meta *model.ModelMeta, field string) bool {
	if model.IsMagicField(field) {
		return false
	}
	if meta == nil {
		return true
	}
	f, ok := meta.Field(field)
	return ok && f.Writable()
}

// normalizeValue 把读取格式转换成写入格式
//
// many2one 读出 [id, name]，写入只接受 id；x2many 读出 id 列表，写入用 (6, 0, ids) 整体替换。
func normalizeValue(meta *model.ModelMeta, field string, v any) any {
	if f, ok := meta.Field(field); ok {
		switch {
		case f.Type == model.TypeMany2one:
			ids := query.RelationIDs(v)
			if len(ids) == 0 {
				return false
			}
			return ids[0]
		case f.IsToMany():
			return []any{[]any{6, 0, idList(query.RelationIDs(v))}}
		}
		return v
	}

	// 无元信息时按值的形状推断
	list, ok := v.([]any)
	if !ok {
		return v
	}
	if len(list) == 2 {
		if _, isName := list[1].(string); isName {
			if id, ok := query.ToInt64(list[0]); ok {
				return id
			}
		}
	}
	for _, item := range list {
		if _, ok := query.ToInt64(item); !ok {
			return v
		}
	}
	return []any{[]any{6, 0, idList(query.RelationIDs(list))}}
}

func idList(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// idRemap 回滚期间重建记录的旧 id → 新 id
type idRemap map[string]map[int64]int64

func (r idRemap) add(modelName string, oldID, newID int64) {
	if r[modelName] == nil {
		r[modelName] = make(map[int64]int64)
	}
	r[modelName][oldID] = newID
}

// apply 替换 write/unlink 参数中已被重建的旧 id
func (r idRemap) apply(req transport.Request) transport.Request {
	mapping := r[req.Model]
	if len(mapping) == 0 || len(req.Args) == 0 {
		return req
	}
	if req.Method != transport.MethodWrite && req.Method != transport.MethodUnlink {
		return req
	}
	ids, ok := req.Args[0].([]any)
	if !ok {
		return req
	}
	replaced := make([]any, len(ids))
	for i, item := range ids {
		replaced[i] = item
		if id, ok := query.ToInt64(item); ok {
			if newID, found := mapping[id]; found {
				replaced[i] = newID
			}
		}
	}
	args := append([]any{replaced}, req.Args[1:]...)
	req.Args = args
	return req
}
