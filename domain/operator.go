// Package domain 把过滤条件编译为远端的 domain 过滤语法
//
// 远端语法是前缀表示法的嵌套列表：
//
//	["&", ["name", "ilike", "acme"], ["is_company", "=", true]]
//
// n 个隐式 AND 的条件前面恰好有 n-1 个 "&"；显式的 OR / NOT 分组递归遵循同样规则。
// 编译是纯函数：相同的输入总是得到逐字节相同的输出（缓存键依赖这一点）。
package domain

import "zenoo/errors"

// Operator 条件操作符
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpLike     Operator = "like"
	OpILike    Operator = "ilike"
	OpNotLike  Operator = "not_like"
	OpNotILike Operator = "not_ilike"
	OpEqLike   Operator = "eq_like"
	OpEqILike  Operator = "eq_ilike"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpChildOf  Operator = "child_of"
	OpParentOf Operator = "parent_of"
)

// 逻辑标记
const (
	MarkerAnd = "&"
	MarkerOr  = "|"
	MarkerNot = "!"
)

// symbols 操作符到远端符号的固定映射，必须是全函数
var symbols = map[Operator]string{
	OpEq:       "=",
	OpNeq:      "!=",
	OpIn:       "in",
	OpNotIn:    "not in",
	OpLike:     "like",
	OpILike:    "ilike",
	OpNotLike:  "not like",
	OpNotILike: "not ilike",
	OpEqLike:   "=like",
	OpEqILike:  "=ilike",
	OpGt:       ">",
	OpGte:      ">=",
	OpLt:       "<",
	OpLte:      "<=",
	OpChildOf:  "child_of",
	OpParentOf: "parent_of",
}

// operatorsBySymbol 反向映射，用于解析和求值
var operatorsBySymbol = func() map[string]Operator {
	m := make(map[string]Operator, len(symbols))
	for op, sym := range symbols {
		m[sym] = op
	}
	return m
}()

// Symbol 返回远端符号；未知操作符返回 UnsupportedOperator
func (o Operator) Symbol() (string, error) {
	sym, ok := symbols[o]
	if !ok {
		return "", errors.UnsupportedOperator(string(o))
	}
	return sym, nil
}

// IsSequence 操作符的值是否为序列
func (o Operator) IsSequence() bool {
	return o == OpIn || o == OpNotIn
}

// acceptsSequence 操作符是否允许序列值
func (o Operator) acceptsSequence() bool {
	return o.IsSequence() || o == OpChildOf || o == OpParentOf
}

// ParseOperator 解析操作符名称或远端符号
func ParseOperator(s string) (Operator, error) {
	if _, ok := symbols[Operator(s)]; ok {
		return Operator(s), nil
	}
	if op, ok := operatorsBySymbol[s]; ok {
		return op, nil
	}
	return "", errors.UnsupportedOperator(s)
}

// Operators 返回所有支持的操作符
func Operators() []Operator {
	return []Operator{
		OpEq, OpNeq, OpIn, OpNotIn, OpLike, OpILike, OpNotLike, OpNotILike,
		OpEqLike, OpEqILike, OpGt, OpGte, OpLt, OpLte, OpChildOf, OpParentOf,
	}
}
