package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"zenoo/errors"
)

// Evaluate 在本地记录上求值已编译的 domain
//
// 只支持平铺字段（不支持关系遍历与 child_of / parent_of），
// 供内存传输实现模拟远端过滤；顶层剩余项按远端规则隐式 AND。
func Evaluate(d Domain, record map[string]any) (bool, error) {
	return EvaluateWith(d, func(field string) (any, error) {
		if strings.Contains(field, ".") {
			return nil, errors.NewValidationError("本地求值不支持关系遍历字段 %s", field)
		}
		return record[field], nil
	})
}

// Resolver 返回字段（可能是关系遍历路径）在当前记录上的值
type Resolver func(field string) (any, error)

// EvaluateWith 与 Evaluate 相同，字段取值交给 resolve
func EvaluateWith(d Domain, resolve Resolver) (bool, error) {
	e := &evaluator{items: d, resolve: resolve}
	result := true
	for e.pos < len(e.items) {
		ok, err := e.next()
		if err != nil {
			return false, err
		}
		result = result && ok
	}
	return result, nil
}

type evaluator struct {
	items   Domain
	pos     int
	resolve Resolver
}

func (e *evaluator) next() (bool, error) {
	if e.pos >= len(e.items) {
		return false, errors.NewValidationError("domain 不完整：逻辑标记缺少操作数")
	}
	item := e.items[e.pos]
	e.pos++

	switch v := item.(type) {
	case string:
		switch v {
		case MarkerNot:
			ok, err := e.next()
			return !ok, err
		case MarkerAnd, MarkerOr:
			left, err := e.next()
			if err != nil {
				return false, err
			}
			right, err := e.next()
			if err != nil {
				return false, err
			}
			if v == MarkerAnd {
				return left && right, nil
			}
			return left || right, nil
		}
		return false, errors.NewValidationError("未知的逻辑标记 %q", v)
	case []any:
		return e.leaf(v)
	}
	return false, errors.NewValidationError("domain 元素类型错误: %T", item)
}

func (e *evaluator) leaf(t []any) (bool, error) {
	if len(t) != 3 {
		return false, errors.NewValidationError("domain 三元组长度错误: %v", t)
	}
	field, ok := t[0].(string)
	if !ok {
		return false, errors.NewValidationError("domain 字段名必须是字符串: %v", t[0])
	}
	sym, ok := t[1].(string)
	if !ok {
		return false, errors.NewValidationError("domain 操作符必须是字符串: %v", t[1])
	}
	op, err := ParseOperator(sym)
	if err != nil {
		return false, err
	}
	actual, err := e.resolve(field)
	if err != nil {
		return false, err
	}
	expected := t[2]

	switch op {
	case OpEq:
		return matchEq(actual, expected), nil
	case OpNeq:
		return !matchEq(actual, expected), nil
	case OpIn, OpNotIn:
		seq, ok := toSequence(expected)
		if !ok {
			seq = []any{expected}
		}
		found := false
		for _, candidate := range seq {
			if matchEq(actual, candidate) {
				found = true
				break
			}
		}
		if op == OpIn {
			return found, nil
		}
		return !found, nil
	case OpLike, OpILike, OpNotLike, OpNotILike, OpEqLike, OpEqILike:
		return matchLike(op, actual, expected)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compare(actual, expected)
		if !ok {
			return false, nil
		}
		switch op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return false, errors.UnsupportedOperator(sym)
}

// matchEq 相等判断：false 与 nil 等价；列表字段（x2many）按成员关系判断
func matchEq(actual, expected any) bool {
	if isEmpty(expected) {
		return isEmpty(actual)
	}
	if seq, ok := toSequence(actual); ok {
		if len(seq) == 2 {
			// many2one 的 [id, display_name] 形式
			if _, isName := seq[1].(string); isName {
				return scalarEq(seq[0], expected)
			}
		}
		for _, item := range seq {
			if scalarEq(item, expected) {
				return true
			}
		}
		return false
	}
	return scalarEq(actual, expected)
}

func scalarEq(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	}
	if seq, ok := toSequence(v); ok {
		return len(seq) == 0
	}
	return false
}

func compare(a, b any) (int, bool) {
	if isEmpty(a) {
		return 0, false
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func matchLike(op Operator, actual, expected any) (bool, error) {
	pattern, ok := expected.(string)
	if !ok {
		return false, errors.NewValidationError("like 类操作符的值必须是字符串")
	}
	s, ok := actual.(string)
	if !ok {
		s = ""
		if !isEmpty(actual) {
			s = fmt.Sprint(actual)
		}
	}

	exact := op == OpEqLike || op == OpEqILike
	if !exact {
		pattern = "%" + pattern + "%"
	}
	insensitive := op == OpILike || op == OpNotILike || op == OpEqILike

	re, err := likeRegexp(pattern, insensitive)
	if err != nil {
		return false, err
	}
	matched := re.MatchString(s)
	if op == OpNotLike || op == OpNotILike {
		return !matched, nil
	}
	return matched, nil
}

// likeRegexp 把 SQL LIKE 模式转换为正则：% 匹配任意串，_ 匹配单个字符
func likeRegexp(pattern string, insensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if insensitive {
		b.WriteString("(?is)")
	} else {
		b.WriteString("(?s)")
	}
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
