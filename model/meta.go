// Package model 描述远端模型的字段元信息
//
// 元信息只用于三件事：
//   - 校验过滤条件中的字段是否存在；
//   - 关系字段的目标模型（惰性加载、缓存标签）；
//   - 计算逆操作时判断哪些字段可以写回。
package model

import (
	"sort"
	"strings"
)

// FieldType 字段类型，取值与远端 fields_get 返回的 type 一致
type FieldType string

const (
	TypeChar      FieldType = "char"
	TypeText      FieldType = "text"
	TypeHTML      FieldType = "html"
	TypeInteger   FieldType = "integer"
	TypeFloat     FieldType = "float"
	TypeMonetary  FieldType = "monetary"
	TypeBoolean   FieldType = "boolean"
	TypeDate      FieldType = "date"
	TypeDatetime  FieldType = "datetime"
	TypeSelection FieldType = "selection"
	TypeBinary    FieldType = "binary"
	TypeMany2one  FieldType = "many2one"
	TypeOne2many  FieldType = "one2many"
	TypeMany2many FieldType = "many2many"
	TypeReference FieldType = "reference"
)

// IdentityField 记录主键字段
const IdentityField = "id"

// magicFields 远端自动维护的字段，任何模型都存在且不可写
var magicFields = map[string]FieldType{
	"id":            TypeInteger,
	"display_name":  TypeChar,
	"create_date":   TypeDatetime,
	"create_uid":    TypeMany2one,
	"write_date":    TypeDatetime,
	"write_uid":     TypeMany2one,
	"__last_update": TypeDatetime,
}

// IsMagicField 是否为自动维护字段
func IsMagicField(name string) bool {
	_, ok := magicFields[name]
	return ok
}

// FieldMeta 描述字段元信息
type FieldMeta struct {
	Name     string
	Type     FieldType
	Label    string
	Relation string // 关系字段的目标模型
	Readonly bool
	Required bool
	// Computed 非存储的计算字段，无法写回
	Computed bool
}

// IsRelational 是否为关系字段
func (f *FieldMeta) IsRelational() bool {
	switch f.Type {
	case TypeMany2one, TypeOne2many, TypeMany2many:
		return true
	}
	return false
}

// IsToMany 是否为 x2many 字段
func (f *FieldMeta) IsToMany() bool {
	return f.Type == TypeOne2many || f.Type == TypeMany2many
}

// Writable 是否可以在逆操作中写回
//
// one2many 由子记录维护，写回会与子记录自身的逆操作冲突，这里一律跳过。
func (f *FieldMeta) Writable() bool {
	if f.Readonly || f.Computed || IsMagicField(f.Name) {
		return false
	}
	return f.Type != TypeOne2many
}

// ModelMeta 描述模型级别元信息
type ModelMeta struct {
	Name   string
	fields map[string]*FieldMeta
}

// NewModel 创建模型元信息
func NewModel(name string, fields ...FieldMeta) *ModelMeta {
	m := &ModelMeta{
		Name:   name,
		fields: make(map[string]*FieldMeta, len(fields)),
	}
	for i := range fields {
		f := fields[i]
		m.fields[f.Name] = &f
	}
	return m
}

// Field 返回字段元信息，自动维护字段总是存在
func (m *ModelMeta) Field(name string) (*FieldMeta, bool) {
	if m == nil {
		return nil, false
	}
	if f, ok := m.fields[name]; ok {
		return f, true
	}
	if t, ok := magicFields[name]; ok {
		f := &FieldMeta{Name: name, Type: t, Readonly: true}
		if t == TypeMany2one {
			f.Relation = "res.users"
		}
		return f, true
	}
	return nil, false
}

// FieldNames 返回已声明字段名（排序）
func (m *ModelMeta) FieldNames() []string {
	names := make([]string, 0, len(m.fields))
	for name := range m.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WritableFieldNames 返回可写回的字段名（排序）
func (m *ModelMeta) WritableFieldNames() []string {
	names := make([]string, 0, len(m.fields))
	for name, f := range m.fields {
		if f.Writable() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SplitPath 拆分关系遍历路径，例如 company_id.name
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}
