package domain

import (
	"reflect"

	"zenoo/errors"
)

// Node 过滤表达式节点：Condition 或分组
//
// 仅本包类型实现该接口。
type Node interface {
	node()
}

// Condition 单个字段条件
//
// Field 可以包含关系遍历分隔符（company_id.name），编译时原样保留，由远端解析。
type Condition struct {
	Field string
	Op    Operator
	Value any
}

func (Condition) node() {}

// C 创建条件
func C(field string, op Operator, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// Eq 等值条件
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// In 集合条件，values 顺序保留
func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

type groupKind int

const (
	groupAnd groupKind = iota
	groupOr
	groupNot
)

// Group 显式逻辑分组
type Group struct {
	kind     groupKind
	children []Node
}

func (*Group) node() {}

// And 显式 AND 分组
func And(children ...Node) *Group {
	return &Group{kind: groupAnd, children: append([]Node(nil), children...)}
}

// Or 显式 OR 分组
func Or(children ...Node) *Group {
	return &Group{kind: groupOr, children: append([]Node(nil), children...)}
}

// Not 取反
func Not(child Node) *Group {
	return &Group{kind: groupNot, children: []Node{child}}
}

// Validate 校验条件本身（不涉及模型元信息）
func (c Condition) Validate() error {
	if c.Field == "" {
		return errors.NewValidationError("条件字段不能为空")
	}
	if _, err := c.Op.Symbol(); err != nil {
		return err
	}
	if !c.Op.acceptsSequence() && isSequence(c.Value) {
		return errors.NewValidationError("操作符 %s 不接受序列值（字段 %s）", c.Op, c.Field)
	}
	return nil
}

// tuple 编译为三元组
func (c Condition) tuple() ([]any, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	sym, _ := c.Op.Symbol()
	return []any{c.Field, sym, c.normalizedValue()}, nil
}

// normalizedValue 值规范化
//
//   - in / not in：任意切片或数组转为 []any 并保持顺序，标量包成单元素列表；
//   - child_of / parent_of：切片同样转为 []any，标量不包装；
//   - nil 统一为 false（远端用 false 表示空值）；
//   - 其他标量原样保留。
func (c Condition) normalizedValue() any {
	if c.Value == nil {
		if c.Op.IsSequence() {
			return []any{}
		}
		return false
	}
	if seq, ok := toSequence(c.Value); ok {
		return seq
	}
	if c.Op.IsSequence() {
		return []any{c.Value}
	}
	return c.Value
}

func isSequence(v any) bool {
	if v == nil {
		return false
	}
	switch v.(type) {
	case string, []byte:
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func toSequence(v any) ([]any, bool) {
	if !isSequence(v) {
		return nil, false
	}
	if seq, ok := v.([]any); ok {
		return append([]any{}, seq...), true
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Fields 返回节点树中出现的所有字段路径（按出现顺序，去重）
func Fields(n Node) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case Condition:
			if !seen[v.Field] {
				seen[v.Field] = true
				out = append(out, v.Field)
			}
		case *Group:
			for _, child := range v.children {
				walk(child)
			}
		}
	}
	walk(n)
	return out
}
