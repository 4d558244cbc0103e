package domain

import (
	"strings"

	"zenoo/errors"
)

// LookupSeparator 查找键中字段段与后缀之间的分隔符
const LookupSeparator = "__"

// lookups 后缀到操作符的映射
var lookups = map[string]Operator{
	"exact":     OpEq,
	"eq":        OpEq,
	"ne":        OpNeq,
	"neq":       OpNeq,
	"in":        OpIn,
	"not_in":    OpNotIn,
	"like":      OpLike,
	"ilike":     OpILike,
	"not_like":  OpNotLike,
	"not_ilike": OpNotILike,
	"gt":        OpGt,
	"gte":       OpGte,
	"lt":        OpLt,
	"lte":       OpLte,
	"child_of":  OpChildOf,
	"parent_of": OpParentOf,
	"contains":  OpLike,
	"icontains": OpILike,
}

// patternLookups 需要改写值的后缀
var patternLookups = map[string]struct {
	op     Operator
	prefix string
	suffix string
}{
	"startswith":  {OpEqLike, "", "%"},
	"istartswith": {OpEqILike, "", "%"},
	"endswith":    {OpEqLike, "%", ""},
	"iendswith":   {OpEqILike, "%", ""},
}

// ParseLookup 解析 field__lookup=value 形式的过滤键
//
// 例如：
//
//	ParseLookup("name__ilike", "acme")          → ("name", ilike, "acme")
//	ParseLookup("company_id__name", "ACME")     → ("company_id.name", =, "ACME")
//	ParseLookup("email__isnull", true)          → ("email", =, false)
//	ParseLookup("name__startswith", "Ac")       → ("name", =like, "Ac%")
func ParseLookup(key string, value any) (Condition, error) {
	if key == "" {
		return Condition{}, errors.NewValidationError("过滤键不能为空")
	}

	// 以 __ 开头的字段名（如 __last_update）整体视为第一段
	leading := ""
	rest := key
	if strings.HasPrefix(rest, LookupSeparator) {
		leading = LookupSeparator
		rest = strings.TrimPrefix(rest, LookupSeparator)
	}
	parts := strings.Split(rest, LookupSeparator)
	parts[0] = leading + parts[0]

	for _, p := range parts {
		if p == "" {
			return Condition{}, errors.NewValidationError("过滤键 %q 格式错误", key)
		}
	}

	suffix := ""
	if len(parts) > 1 {
		last := parts[len(parts)-1]
		if _, ok := lookups[last]; ok {
			suffix = last
		} else if _, ok := patternLookups[last]; ok {
			suffix = last
		} else if last == "isnull" {
			suffix = last
		}
		if suffix != "" {
			parts = parts[:len(parts)-1]
		}
	}
	field := strings.Join(parts, ".")

	switch {
	case suffix == "":
		return Condition{Field: field, Op: OpEq, Value: value}, nil
	case suffix == "isnull":
		isNull, ok := value.(bool)
		if !ok {
			return Condition{}, errors.NewValidationError("%s 的值必须是 bool", key)
		}
		if isNull {
			return Condition{Field: field, Op: OpEq, Value: false}, nil
		}
		return Condition{Field: field, Op: OpNeq, Value: false}, nil
	}

	if p, ok := patternLookups[suffix]; ok {
		s, ok := value.(string)
		if !ok {
			return Condition{}, errors.NewValidationError("%s 的值必须是字符串，实际为 %T", key, value)
		}
		return Condition{Field: field, Op: p.op, Value: p.prefix + s + p.suffix}, nil
	}

	return Condition{Field: field, Op: lookups[suffix], Value: value}, nil
}

// ParseLookups 按给定键顺序解析多个过滤键
//
// map 无序，键顺序必须由调用方给出，以保证编译结果确定。
func ParseLookups(keys []string, values map[string]any) ([]Condition, error) {
	conds := make([]Condition, 0, len(keys))
	for _, k := range keys {
		v, ok := values[k]
		if !ok {
			return nil, errors.NewValidationError("过滤键 %q 没有对应的值", k)
		}
		c, err := ParseLookup(k, v)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}
