package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/logging"
	"zenoo/transport/jsonrpc"
)

// TestClient_SessionIsolation 共享运行时的两个会话只差数据库，查询结果互不复用
func TestClient_SessionIsolation(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params struct {
				Args []any `json:"args"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Params.Args) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		db, _ := req.Params.Args[0].(string)
		mu.Lock()
		calls[db]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[{"id":1,"name":"from-` + db + `"}]}`))
	}))
	defer srv.Close()

	dial := func(db string) *jsonrpc.Transport {
		tr, err := jsonrpc.New(jsonrpc.Config{
			URL:      srv.URL,
			Database: db,
			Username: "admin",
			Password: "secret",
			UID:      2,
			Logger:   logging.NewNoopLogger(),
		})
		require.NoError(t, err)
		return tr
	}
	trA, trB := dial("db_a"), dial("db_b")
	require.Equal(t, trA.Endpoint(), trB.Endpoint())
	assert.NotEqual(t, trA.SessionKey(), trB.SessionKey())

	rt := NewRuntime(WithRegistry(testRegistry()), WithLogger(logging.NewNoopLogger()))
	ctx := context.Background()
	a, b := New(rt, trA), New(rt, trB)

	for i := 0; i < 2; i++ {
		recs, err := a.Model("res.partner").All(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "from-db_a", recs[0].String("name"))

		recs, err = b.Model("res.partner").All(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "from-db_b", recs[0].String("name"))
	}
	// 每个会话各自命中自己的缓存
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"db_a": 1, "db_b": 1}, calls)
	// 熔断器仍按端点共享
	assert.Same(t, rt.Breakers().For(trA.Endpoint()), rt.Breakers().For(trB.Endpoint()))
}
