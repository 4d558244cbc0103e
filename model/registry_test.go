package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/errors"
)

func testRegistry() *Registry {
	return NewRegistry(
		NewModel("res.partner",
			FieldMeta{Name: "name", Type: TypeChar, Required: true},
			FieldMeta{Name: "email", Type: TypeChar},
			FieldMeta{Name: "company_id", Type: TypeMany2one, Relation: "res.company"},
			FieldMeta{Name: "child_ids", Type: TypeOne2many, Relation: "res.partner"},
			FieldMeta{Name: "category_id", Type: TypeMany2many, Relation: "res.partner.category"},
			FieldMeta{Name: "commercial_name", Type: TypeChar, Computed: true},
		),
		NewModel("res.company",
			FieldMeta{Name: "name", Type: TypeChar},
			FieldMeta{Name: "currency_id", Type: TypeMany2one, Relation: "res.currency"},
		),
	)
}

// TestValidatePath 测试字段路径校验
func TestValidatePath(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name    string
		model   string
		path    string
		wantErr bool
	}{
		{"普通字段", "res.partner", "name", false},
		{"主键", "res.partner", "id", false},
		{"关系遍历", "res.partner", "company_id.name", false},
		{"目标模型未注册时停止校验", "res.partner", "company_id.currency_id.anything", false},
		{"字段不存在", "res.partner", "nope", true},
		{"遍历目标字段不存在", "res.partner", "company_id.nope", true},
		{"非关系字段不能遍历", "res.partner", "name.length", true},
		{"模型未注册不校验", "sale.order", "whatever", false},
		{"空字段", "res.partner", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidatePath(tt.model, tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestRelationTarget 测试关系目标解析
func TestRelationTarget(t *testing.T) {
	r := testRegistry()

	target, err := r.RelationTarget("res.partner", "company_id")
	require.NoError(t, err)
	assert.Equal(t, "res.company", target)

	target, err = r.RelationTarget("res.partner", "create_uid")
	require.NoError(t, err)
	assert.Equal(t, "res.users", target)

	_, err = r.RelationTarget("res.partner", "name")
	assert.Error(t, err)
	_, err = r.RelationTarget("sale.order", "partner_id")
	assert.Error(t, err)
}

// TestDependentModels 测试缓存标签依赖模型
func TestDependentModels(t *testing.T) {
	r := testRegistry()

	deps := r.DependentModels("res.partner", "name", "company_id.name", "company_id.currency_id.name")
	assert.Equal(t, []string{"res.partner", "res.company", "res.currency"}, deps)

	assert.Equal(t, []string{"sale.order"}, r.DependentModels("sale.order", "partner_id.name"))
}

// TestWritableFieldNames 测试可写回字段
func TestWritableFieldNames(t *testing.T) {
	m, _ := testRegistry().Get("res.partner")
	assert.Equal(t, []string{"category_id", "company_id", "email", "name"}, m.WritableFieldNames())
}

// TestFromFieldsGet 测试由 fields_get 构建元信息
func TestFromFieldsGet(t *testing.T) {
	raw := map[string]map[string]any{
		"name":       {"type": "char", "string": "Name", "required": true},
		"company_id": {"type": "many2one", "relation": "res.company"},
		"total":      {"type": "monetary", "readonly": true, "store": false},
	}

	m, err := FromFieldsGet("res.partner", raw)
	require.NoError(t, err)

	f, ok := m.Field("company_id")
	require.True(t, ok)
	assert.Equal(t, "res.company", f.Relation)
	assert.True(t, f.IsRelational())

	f, ok = m.Field("total")
	require.True(t, ok)
	assert.True(t, f.Computed)
	assert.False(t, f.Writable())

	_, err = FromFieldsGet("x", map[string]map[string]any{"bad": {}})
	assert.Error(t, err)
}
