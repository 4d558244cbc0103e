package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/errors"
)

var partner = map[string]any{
	"id":         int64(7),
	"name":       "Acme Corporation",
	"email":      false,
	"is_company": true,
	"credit":     json.Number("120.5"),
	"company_id": []any{int64(1), "My Company"},
	"tag_ids":    []any{int64(3), int64(4), int64(5)},
	"state":      "posted",
}

// TestEvaluate 本地求值
func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		node     Node
		expected bool
	}{
		{"等值", Eq("name", "Acme Corporation"), true},
		{"数值跨类型比较", Eq("id", 7), true},
		{"json.Number 比较", C("credit", OpGt, 100), true},
		{"空值等于 false", Eq("email", false), true},
		{"空值等于 nil", Eq("email", nil), true},
		{"不存在的字段视为空", Eq("phone", false), true},
		{"many2one 按 id 比较", Eq("company_id", 1), true},
		{"x2many 成员关系", Eq("tag_ids", 4), true},
		{"in", In("state", "draft", "posted"), true},
		{"not in", C("state", OpNotIn, []string{"draft"}), true},
		{"ilike", C("name", OpILike, "acme"), true},
		{"like 区分大小写", C("name", OpLike, "acme"), false},
		{"not ilike", C("name", OpNotILike, "corp"), false},
		{"=like 前缀", C("name", OpEqLike, "Acme%"), true},
		{"=ilike 单字符通配", C("state", OpEqILike, "POST_D"), true},
		{"字符串比较", C("state", OpLt, "z"), true},
		{"空值不参与大小比较", C("email", OpGt, 0), false},
		{"or", Or(Eq("state", "draft"), Eq("is_company", true)), true},
		{"not", Not(Eq("is_company", true)), false},
		{"and", And(Eq("is_company", true), C("id", OpGte, 8)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := CompileNode(tt.node)
			require.NoError(t, err)
			ok, err := Evaluate(d, partner)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

// TestEvaluate_Empty 空 domain 匹配全部记录
func TestEvaluate_Empty(t *testing.T) {
	ok, err := Evaluate(Domain{}, partner)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestEvaluate_ImplicitAnd 顶层多个三元组隐式 AND
func TestEvaluate_ImplicitAnd(t *testing.T) {
	d := Domain{[]any{"is_company", "=", true}, []any{"state", "=", "draft"}}
	ok, err := Evaluate(d, partner)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestEvaluate_Errors 不完整或不支持的 domain
func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name string
		d    Domain
	}{
		{"缺少操作数", Domain{"&", []any{"a", "=", 1}}},
		{"未知标记", Domain{"^", []any{"a", "=", 1}}},
		{"三元组长度", Domain{[]any{"a", "="}}},
		{"关系遍历", Domain{[]any{"company_id.name", "=", "x"}}},
		{"元素类型", Domain{42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.d, partner)
			assert.True(t, errors.IsValidation(err))
		})
	}

	_, err := Evaluate(Domain{[]any{"a", "~", 1}}, partner)
	assert.ErrorIs(t, err, errors.ErrUnsupportedOp)

	_, err = Evaluate(Domain{[]any{"parent_id", "child_of", 1}}, partner)
	assert.ErrorIs(t, err, errors.ErrUnsupportedOp)
}

// TestEvaluateWith 关系遍历由调用方解析
func TestEvaluateWith(t *testing.T) {
	values := map[string]any{"company_id.name": "ACME", "name": "Bob"}
	resolve := func(field string) (any, error) { return values[field], nil }

	ok, err := EvaluateWith(Domain{"&", []any{"company_id.name", "ilike", "acm"}, []any{"name", "=", "Bob"}}, resolve)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateWith(Domain{[]any{"company_id.name", "=", "Other"}}, resolve)
	require.NoError(t, err)
	assert.False(t, ok)
}
