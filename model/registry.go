package model

import (
	"fmt"
	"sort"
	"sync"

	"zenoo/errors"
)

// Registry 模型元信息注册表，并发安全
//
// 未注册的模型不做字段校验：元信息是可选的外部协作方，缺失时退化为“远端说了算”。
type Registry struct {
	mu     sync.RWMutex
	models map[string]*ModelMeta
}

// NewRegistry 创建注册表
func NewRegistry(models ...*ModelMeta) *Registry {
	r := &Registry{models: make(map[string]*ModelMeta)}
	for _, m := range models {
		r.Register(m)
	}
	return r
}

// Register 注册或替换模型元信息
func (r *Registry) Register(m *ModelMeta) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

// Get 获取模型元信息
func (r *Registry) Get(name string) (*ModelMeta, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Names 已注册模型名（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePath 校验字段路径
//
// 路径第一段必须是模型字段；后续段要求前一段是关系字段，
// 若目标模型已注册则继续校验，否则停止（交给远端解析）。
func (r *Registry) ValidatePath(modelName, path string) error {
	if path == "" {
		return errors.NewValidationError("%s: 字段名不能为空", modelName)
	}

	current, ok := r.Get(modelName)
	if !ok {
		return nil
	}

	segments := SplitPath(path)
	for i, seg := range segments {
		f, ok := current.Field(seg)
		if !ok {
			return errors.NewValidationError("%s: 字段 %q 不存在（路径 %s）", current.Name, seg, path)
		}
		if i == len(segments)-1 {
			return nil
		}
		if !f.IsRelational() {
			return errors.NewValidationError("%s: 字段 %q 不是关系字段，不能继续遍历（路径 %s）", current.Name, seg, path)
		}
		next, ok := r.Get(f.Relation)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// RelationTarget 返回关系字段的目标模型
func (r *Registry) RelationTarget(modelName, field string) (string, error) {
	m, ok := r.Get(modelName)
	if !ok {
		return "", errors.NewValidationError("模型 %s 未注册，无法解析关系字段 %s", modelName, field)
	}
	f, ok := m.Field(field)
	if !ok {
		return "", errors.NewValidationError("%s: 字段 %q 不存在", modelName, field)
	}
	if !f.IsRelational() {
		return "", errors.NewValidationError("%s: 字段 %q 不是关系字段", modelName, field)
	}
	return f.Relation, nil
}

// DependentModels 返回路径经过的所有模型（含起点），用作缓存标签
//
// 例如 res.partner 上的 company_id.name 依赖 res.partner 与 res.company。
func (r *Registry) DependentModels(modelName string, paths ...string) []string {
	seen := map[string]bool{modelName: true}
	out := []string{modelName}

	for _, path := range paths {
		current, ok := r.Get(modelName)
		if !ok {
			break
		}
		segments := SplitPath(path)
		for _, seg := range segments[:len(segments)-1] {
			f, ok := current.Field(seg)
			if !ok || !f.IsRelational() || f.Relation == "" {
				break
			}
			if !seen[f.Relation] {
				seen[f.Relation] = true
				out = append(out, f.Relation)
			}
			next, ok := r.Get(f.Relation)
			if !ok {
				break
			}
			current = next
		}
	}
	return out
}

// FromFieldsGet 由远端 fields_get 结果构建模型元信息
//
// 输入形如 {"name": {"type": "char", "string": "Name", "required": true}, ...}
func FromFieldsGet(name string, raw map[string]map[string]any) (*ModelMeta, error) {
	fields := make([]FieldMeta, 0, len(raw))
	for fieldName, attrs := range raw {
		typ, _ := attrs["type"].(string)
		if typ == "" {
			return nil, fmt.Errorf("fields_get %s.%s: missing type", name, fieldName)
		}
		f := FieldMeta{
			Name: fieldName,
			Type: FieldType(typ),
		}
		f.Label, _ = attrs["string"].(string)
		f.Relation, _ = attrs["relation"].(string)
		f.Readonly, _ = attrs["readonly"].(bool)
		f.Required, _ = attrs["required"].(bool)
		if store, ok := attrs["store"].(bool); ok && !store {
			f.Computed = true
		}
		fields = append(fields, f)
	}
	return NewModel(name, fields...), nil
}
