package memory

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/errors"
	"zenoo/model"
	"zenoo/query"
	"zenoo/transport"
)

func testRegistry() *model.Registry {
	return model.NewRegistry(
		model.NewModel("res.partner",
			model.FieldMeta{Name: "name", Type: model.TypeChar, Required: true},
			model.FieldMeta{Name: "age", Type: model.TypeInteger},
			model.FieldMeta{Name: "active", Type: model.TypeBoolean},
			model.FieldMeta{Name: "company_id", Type: model.TypeMany2one, Relation: "res.company"},
			model.FieldMeta{Name: "category_id", Type: model.TypeMany2many, Relation: "res.partner.category"},
		),
		model.NewModel("res.company",
			model.FieldMeta{Name: "name", Type: model.TypeChar},
			model.FieldMeta{Name: "country", Type: model.TypeChar},
		),
		model.NewModel("res.partner.category",
			model.FieldMeta{Name: "name", Type: model.TypeChar},
		),
	)
}

func seeded(t *testing.T) *Server {
	t.Helper()
	s := New(WithRegistry(testRegistry()))
	s.Seed("res.company",
		map[string]any{"name": "Acme", "country": "BE"},
		map[string]any{"name": "Globex", "country": "FR"},
	)
	s.Seed("res.partner.category", map[string]any{"name": "VIP"})
	s.Seed("res.partner",
		map[string]any{"name": "Alice", "age": 30, "active": true, "company_id": 1, "category_id": []any{1}},
		map[string]any{"name": "Bob", "age": 25, "active": true, "company_id": 2},
		map[string]any{"name": "Carol", "age": 41, "active": false, "company_id": 1},
	)
	return s
}

func call(t *testing.T, s *Server, req transport.Request, out any) error {
	t.Helper()
	raw, err := s.Call(context.Background(), req)
	if err != nil {
		return err
	}
	require.NoError(t, query.DecodeResult(raw, out))
	return nil
}

func names(rows []map[string]any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["name"].(string)
	}
	return out
}

// TestServer_SearchRead 过滤、排序、分页与字段投影
func TestServer_SearchRead(t *testing.T) {
	s := seeded(t)

	var rows []map[string]any
	require.NoError(t, call(t, s, transport.Request{
		Model:  "res.partner",
		Method: transport.MethodSearchRead,
		Args:   []any{[]any{[]any{"active", "=", true}}},
		Kwargs: map[string]any{"order": "age desc", "fields": []string{"name", "company_id"}},
	}, &rows))
	assert.Equal(t, []string{"Alice", "Bob"}, names(rows))
	assert.Equal(t, []any{json.Number("1"), "Acme"}, rows[0]["company_id"])
	assert.NotContains(t, rows[0], "age")
	assert.Equal(t, json.Number("1"), rows[0]["id"])

	require.NoError(t, call(t, s, transport.Request{
		Model:  "res.partner",
		Method: transport.MethodSearchRead,
		Args:   []any{[]any{}},
		Kwargs: map[string]any{"order": "name asc", "limit": 1, "offset": 1},
	}, &rows))
	assert.Equal(t, []string{"Bob"}, names(rows))
}

// TestServer_RelationTraversal 点号路径沿关系字段求值
func TestServer_RelationTraversal(t *testing.T) {
	s := seeded(t)

	var ids []int64
	require.NoError(t, call(t, s, transport.Request{
		Model:  "res.partner",
		Method: transport.MethodSearch,
		Args:   []any{[]any{"|", []any{"company_id.country", "=", "FR"}, []any{"category_id.name", "=", "VIP"}}},
	}, &ids))
	assert.Equal(t, []int64{1, 2}, ids)

	var count int
	require.NoError(t, call(t, s, transport.Request{
		Model:  "res.partner",
		Method: transport.MethodSearchCount,
		Args:   []any{[]any{[]any{"company_id", "in", []any{1}}}},
	}, &count))
	assert.Equal(t, 2, count)
}

// TestServer_CreateWriteUnlink 写入格式的关系值被规范化
func TestServer_CreateWriteUnlink(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	var id int64
	require.NoError(t, call(t, s, transport.Request{
		Model:  "res.partner",
		Method: transport.MethodCreate,
		Args:   []any{map[string]any{"name": "Dave", "company_id": 2, "category_id": []any{[]any{6, 0, []any{1}}}}},
	}, &id))
	assert.Equal(t, int64(4), id)

	var ids []int64
	require.NoError(t, call(t, s, transport.Request{
		Model:  "res.partner",
		Method: transport.MethodCreate,
		Args:   []any{[]any{map[string]any{"name": "E"}, map[string]any{"name": "F"}}},
	}, &ids))
	assert.Equal(t, []int64{5, 6}, ids)

	_, err := s.Call(ctx, transport.Request{
		Model:  "res.partner",
		Method: transport.MethodWrite,
		Args:   []any{[]any{4}, map[string]any{"company_id": false, "category_id": []any{[]any{5}}}},
	})
	require.NoError(t, err)
	rec, ok := s.Get("res.partner", 4)
	require.True(t, ok)
	assert.Equal(t, false, rec["company_id"])
	assert.Equal(t, []int64{}, rec["category_id"])

	_, err = s.Call(ctx, transport.Request{Model: "res.partner", Method: transport.MethodUnlink, Args: []any{[]any{4, 5}}})
	require.NoError(t, err)
	_, ok = s.Get("res.partner", 4)
	assert.False(t, ok)
	assert.Len(t, s.All("res.partner"), 4)
}

// TestServer_Faults 缺失记录、必填字段与未知方法
func TestServer_Faults(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	_, err := s.Call(ctx, transport.Request{Model: "res.partner", Method: transport.MethodWrite, Args: []any{[]any{99}, map[string]any{"name": "x"}}})
	assert.True(t, errors.IsNotFound(err))

	_, err = s.Call(ctx, transport.Request{Model: "res.partner", Method: transport.MethodUnlink, Args: []any{[]any{1, 99}}})
	assert.True(t, errors.IsNotFound(err))
	_, ok := s.Get("res.partner", 1)
	assert.True(t, ok, "部分缺失时不删除任何记录")

	_, err = s.Call(ctx, transport.Request{Model: "res.partner", Method: transport.MethodCreate, Args: []any{map[string]any{"age": 1}}})
	assert.True(t, errors.IsValidation(err))

	_, err = s.Call(ctx, transport.Request{Model: "res.partner", Method: "merge"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeRemote))
}

// TestServer_FailNext 注入的故障只作用于匹配的调用，次数用完后恢复
func TestServer_FailNext(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	boom := errors.Transient(stdErrors.New("503"), "暂不可用")
	s.FailNext(2, FailMethod("res.partner", transport.MethodSearch), boom)

	req := transport.Request{Model: "res.partner", Method: transport.MethodSearch}
	for i := 0; i < 2; i++ {
		_, err := s.Call(ctx, req)
		assert.ErrorIs(t, err, boom)
	}
	_, err := s.Call(ctx, transport.Request{Model: "res.company", Method: transport.MethodSearchCount})
	require.NoError(t, err)
	_, err = s.Call(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 3, s.CallCount(transport.MethodSearch))
	assert.Equal(t, 4, s.CallCount(""))
	s.ResetCalls()
	assert.Empty(t, s.Calls())
}

// TestServer_FieldsGet 输出格式可被 model.FromFieldsGet 解析
func TestServer_FieldsGet(t *testing.T) {
	s := seeded(t)

	var raw map[string]map[string]any
	require.NoError(t, call(t, s, transport.Request{Model: "res.partner", Method: transport.MethodFieldsGet}, &raw))
	meta, err := model.FromFieldsGet("res.partner", raw)
	require.NoError(t, err)

	f, ok := meta.Field("company_id")
	require.True(t, ok)
	assert.Equal(t, model.TypeMany2one, f.Type)
	assert.Equal(t, "res.company", f.Relation)
	name, _ := meta.Field("name")
	assert.True(t, name.Required)

	_, err = s.Call(context.Background(), transport.Request{Model: "x.unknown", Method: transport.MethodFieldsGet})
	assert.Error(t, err)
}

// TestServer_Canceled 已取消的上下文不记录调用
func TestServer_Canceled(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Call(ctx, transport.Request{Model: "res.partner", Method: transport.MethodSearch})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.CallCount(""))
}
