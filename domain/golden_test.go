package domain

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// TestCompile_Golden 编译结果与 testdata/golden 下的快照逐字节一致
//
// 更新快照：go test ./domain -run Golden -update
func TestCompile_Golden(t *testing.T) {
	cases := map[string][]Node{
		"single": {Eq("name", "Acme")},
		"implicit_and": {
			C("name", OpILike, "acme"),
			Eq("is_company", true),
			C("company_id.country_id.code", OpIn, []string{"FR", "BE"}),
		},
		"or_not": {
			Eq("active", true),
			Or(Eq("state", "draft"), Eq("state", "sent")),
			Not(C("email", OpEq, nil)),
		},
		"lookups": {
			C("name", OpEqILike, "ac%"),
			C("amount", OpGte, 100.5),
			C("parent_id", OpChildOf, 1),
			C("tag_ids", OpNotIn, []int64{4, 2}),
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for name, nodes := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := CompileNodes(nodes)
			require.NoError(t, err)
			data, err := d.JSON()
			require.NoError(t, err)
			g.Assert(t, name, data)
		})
	}
}
