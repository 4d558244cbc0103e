package cli

import (
	"strconv"
	"strings"

	"zenoo/errors"
	"zenoo/query"
)

// applyFilters 把 key=value 形式的过滤参数按给出顺序加到查询上
//
// key 使用 field__lookup 语法；__in 的值按逗号拆分。
func applyFilters(q *query.Query, filters []string) (*query.Query, error) {
	for _, f := range filters {
		key, raw, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, errors.NewValidationError("过滤参数 %q 格式错误，应为 key=value", f)
		}
		var value any
		if strings.HasSuffix(key, "__in") || strings.HasSuffix(key, "__not_in") {
			parts := strings.Split(raw, ",")
			list := make([]any, len(parts))
			for i, p := range parts {
				list[i] = parseValue(strings.TrimSpace(p))
			}
			value = list
		} else {
			value = parseValue(raw)
		}
		q = q.Where(key, value)
	}
	return q, q.Err()
}

// parseValue 依次尝试 bool、整数、浮点数，否则按字符串处理
func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// applyOrder 解析 "name desc, id" 形式的排序
func applyOrder(q *query.Query, order string) *query.Query {
	for _, part := range strings.Split(order, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		desc := len(fields) > 1 && strings.EqualFold(fields[1], "desc")
		q = q.OrderBy(fields[0], desc)
	}
	return q
}
