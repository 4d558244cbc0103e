package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/errors"
)

// TestParseLookup 解析 field__lookup 过滤键
func TestParseLookup(t *testing.T) {
	tests := []struct {
		key      string
		value    any
		expected Condition
	}{
		{"name", "Acme", Condition{"name", OpEq, "Acme"}},
		{"name__exact", "Acme", Condition{"name", OpEq, "Acme"}},
		{"name__ilike", "acme", Condition{"name", OpILike, "acme"}},
		{"name__icontains", "acme", Condition{"name", OpILike, "acme"}},
		{"name__contains", "Ac", Condition{"name", OpLike, "Ac"}},
		{"state__ne", "draft", Condition{"state", OpNeq, "draft"}},
		{"id__in", []int{1, 2}, Condition{"id", OpIn, []int{1, 2}}},
		{"id__not_in", []int{3}, Condition{"id", OpNotIn, []int{3}}},
		{"amount__gte", 10, Condition{"amount", OpGte, 10}},
		{"amount__lt", 5, Condition{"amount", OpLt, 5}},
		{"parent_id__child_of", 1, Condition{"parent_id", OpChildOf, 1}},
		{"company_id__name", "ACME", Condition{"company_id.name", OpEq, "ACME"}},
		{"company_id__country_id__code__in", []string{"FR"}, Condition{"company_id.country_id.code", OpIn, []string{"FR"}}},
		{"name__startswith", "Ac", Condition{"name", OpEqLike, "Ac%"}},
		{"name__istartswith", "ac", Condition{"name", OpEqILike, "ac%"}},
		{"email__endswith", "@acme.com", Condition{"email", OpEqLike, "%@acme.com"}},
		{"email__iendswith", "@ACME.COM", Condition{"email", OpEqILike, "%@ACME.COM"}},
		{"email__isnull", true, Condition{"email", OpEq, false}},
		{"email__isnull", false, Condition{"email", OpNeq, false}},
		{"__last_update__gt", "2024-01-01", Condition{"__last_update", OpGt, "2024-01-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c, err := ParseLookup(tt.key, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c)
		})
	}
}

// TestParseLookup_Invalid 非法过滤键与值类型
func TestParseLookup_Invalid(t *testing.T) {
	for _, key := range []string{"", "name__", "a____b"} {
		_, err := ParseLookup(key, 1)
		assert.True(t, errors.IsValidation(err), key)
	}

	_, err := ParseLookup("email__isnull", "yes")
	assert.True(t, errors.IsValidation(err))

	_, err = ParseLookup("name__startswith", 3)
	assert.True(t, errors.IsValidation(err))
}

// TestParseLookups 按给定顺序解析并编译
func TestParseLookups(t *testing.T) {
	keys := []string{"name__ilike", "is_company"}
	conds, err := ParseLookups(keys, map[string]any{"name__ilike": "acme", "is_company": true})
	require.NoError(t, err)

	d, err := Compile(conds)
	require.NoError(t, err)
	assert.Equal(t, `["&",["name","ilike","acme"],["is_company","=",true]]`, d.String())

	_, err = ParseLookups([]string{"missing"}, map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "missing")
}
