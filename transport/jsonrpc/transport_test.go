package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenoo/errors"
	"zenoo/logging"
	"zenoo/transport"
)

// fakeServer 记录收到的请求，由 handle 决定返回
type fakeServer struct {
	mu       sync.Mutex
	requests []rpcRequest
	handle   func(req rpcRequest) (status int, body string)
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != Path || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	status, body := f.handle(req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func okResult(result string) (int, string) {
	return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":` + result + `}`
}

func fault(name, message string) (int, string) {
	return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":200,"message":"Odoo Server Error","data":{"name":"` + name + `","message":"` + message + `","debug":"Traceback"}}}`
}

func newTestTransport(t *testing.T, f *fakeServer, mutate ...func(*Config)) *Transport {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	cfg := Config{
		URL:      srv.URL,
		Database: "demo",
		Username: "admin",
		Password: "secret",
		Logger:   logging.NewNoopLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	tr, err := New(cfg)
	require.NoError(t, err)
	return tr
}

// TestTransport_LoginThenExecute 首次调用前自动登录，之后复用 uid
func TestTransport_LoginThenExecute(t *testing.T) {
	f := &fakeServer{handle: func(req rpcRequest) (int, string) {
		if req.Params.Service == "common" {
			return okResult(`7`)
		}
		return okResult(`[{"id":1,"name":"Acme & Co"}]`)
	}}
	tr := newTestTransport(t, f)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		raw, err := tr.Call(ctx, transport.Request{
			Model:  "res.partner",
			Method: transport.MethodSearchRead,
			Args:   []any{[]any{"&", []any{"name", "ilike", "acme"}, []any{"active", "=", true}}},
			Kwargs: map[string]any{"limit": 5},
		})
		require.NoError(t, err)
		assert.JSONEq(t, `[{"id":1,"name":"Acme & Co"}]`, string(raw))
	}

	require.Len(t, f.requests, 3)
	login := f.requests[0]
	assert.Equal(t, "call", login.Method)
	assert.Equal(t, "common", login.Params.Service)
	assert.Equal(t, "login", login.Params.Method)
	assert.Equal(t, []any{"demo", "admin", "secret"}, login.Params.Args)

	exec := f.requests[1]
	assert.Equal(t, "object", exec.Params.Service)
	assert.Equal(t, "execute_kw", exec.Params.Method)
	require.Len(t, exec.Params.Args, 7)
	assert.Equal(t, "demo", exec.Params.Args[0])
	assert.Equal(t, float64(7), exec.Params.Args[1])
	assert.Equal(t, "res.partner", exec.Params.Args[3])
	assert.Equal(t, "search_read", exec.Params.Args[4])
	assert.Equal(t, []any{[]any{"&", []any{"name", "ilike", "acme"}, []any{"active", "=", true}}}, exec.Params.Args[5])
	assert.Equal(t, map[string]any{"limit": float64(5)}, exec.Params.Args[6])
}

// TestTransport_EmptyKwargs kwargs 为空时发送空对象
func TestTransport_EmptyKwargs(t *testing.T) {
	f := &fakeServer{handle: func(req rpcRequest) (int, string) { return okResult(`3`) }}
	tr := newTestTransport(t, f, func(c *Config) { c.UID = 2 })

	raw, err := tr.Call(context.Background(), transport.Request{Model: "res.partner", Method: transport.MethodSearchCount})
	require.NoError(t, err)
	assert.Equal(t, "3", string(raw))

	require.Len(t, f.requests, 1)
	assert.Equal(t, []any{}, f.requests[0].Params.Args[5])
	assert.Equal(t, map[string]any{}, f.requests[0].Params.Args[6])
}

// TestTransport_LoginFailed 认证失败为权限错误
func TestTransport_LoginFailed(t *testing.T) {
	f := &fakeServer{handle: func(req rpcRequest) (int, string) { return okResult(`false`) }}
	tr := newTestTransport(t, f)

	_, err := tr.Call(context.Background(), transport.Request{Model: "res.partner", Method: transport.MethodSearch})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodePermissionDenied))
	assert.Len(t, f.requests, 1)
}

// TestTransport_FaultClassification 远端故障按名称归类
func TestTransport_FaultClassification(t *testing.T) {
	tests := []struct {
		name      string
		fault     string
		message   string
		code      errors.ErrorCode
		transient bool
	}{
		{"权限", "odoo.exceptions.AccessError", "not allowed", errors.ErrCodePermissionDenied, false},
		{"校验", "odoo.exceptions.ValidationError", "bad value", errors.ErrCodeValidation, false},
		{"记录缺失", "odoo.exceptions.MissingError", "gone", errors.ErrCodeRecordNotFound, false},
		{"序列化冲突", "psycopg2.errors.SerializationFailure", "could not serialize access", errors.ErrCodeTransient, true},
		{"其他", "builtins.KeyError", "x", errors.ErrCodeRemote, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeServer{handle: func(req rpcRequest) (int, string) { return fault(tt.fault, tt.message) }}
			tr := newTestTransport(t, f, func(c *Config) { c.UID = 2 })

			_, err := tr.Call(context.Background(), transport.Request{Model: "res.partner", Method: transport.MethodWrite})
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetErrorCode(err))
			assert.Equal(t, tt.transient, errors.IsTransient(err))

			var rf *errors.RemoteFault
			require.ErrorAs(t, err, &rf)
			assert.Equal(t, tt.fault, rf.Name)
			assert.Equal(t, "Traceback", rf.Debug)
		})
	}
}

// TestTransport_HTTPStatus 网关错误是瞬时错误，其他 4xx/5xx 不是
func TestTransport_HTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		code   errors.ErrorCode
	}{
		{http.StatusServiceUnavailable, errors.ErrCodeTransient},
		{http.StatusTooManyRequests, errors.ErrCodeTransient},
		{http.StatusBadGateway, errors.ErrCodeTransient},
		{http.StatusForbidden, errors.ErrCodePermissionDenied},
		{http.StatusInternalServerError, errors.ErrCodeRemote},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := &fakeServer{handle: func(req rpcRequest) (int, string) { return tt.status, "boom" }}
			tr := newTestTransport(t, f, func(c *Config) { c.UID = 2 })
			_, err := tr.Call(context.Background(), transport.Request{Model: "res.partner", Method: transport.MethodRead})
			assert.Equal(t, tt.code, errors.GetErrorCode(err))
		})
	}
}

// TestTransport_NetworkError 连接失败是瞬时错误
func TestTransport_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	tr, err := New(Config{URL: addr, UID: 2, Timeout: time.Second, Logger: logging.NewNoopLogger()})
	require.NoError(t, err)
	_, err = tr.Call(context.Background(), transport.Request{Model: "res.partner", Method: transport.MethodRead})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

// TestTransport_Canceled 取消原样返回，不视为瞬时错误
func TestTransport_Canceled(t *testing.T) {
	f := &fakeServer{handle: func(req rpcRequest) (int, string) { return okResult(`[]`) }}
	tr := newTestTransport(t, f, func(c *Config) { c.UID = 2 })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Call(ctx, transport.Request{Model: "res.partner", Method: transport.MethodRead})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsRetryable(err))
}

// TestTransport_RateLimit 超出速率时等待
func TestTransport_RateLimit(t *testing.T) {
	f := &fakeServer{handle: func(req rpcRequest) (int, string) { return okResult(`[]`) }}
	tr := newTestTransport(t, f, func(c *Config) {
		c.UID = 2
		c.RateLimit = 20
		c.RateBurst = 1
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := tr.Call(context.Background(), transport.Request{Model: "res.partner", Method: transport.MethodRead})
		require.NoError(t, err)
	}
	// 第 2、3 次各等待约 50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

// TestNew_InvalidURL 地址校验
func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errors.IsValidation(err))
	_, err = New(Config{URL: "not a url"})
	assert.True(t, errors.IsValidation(err))

	tr, err := New(Config{URL: "https://erp.example.com/odoo/"})
	require.NoError(t, err)
	assert.Equal(t, "https://erp.example.com", tr.Endpoint())
}

// TestTransport_SessionKey 会话标识区分数据库与用户，端点只含地址
func TestTransport_SessionKey(t *testing.T) {
	f := &fakeServer{handle: func(req rpcRequest) (int, string) { return okResult(`true`) }}
	a := newTestTransport(t, f)
	b := newTestTransport(t, f, func(c *Config) { c.Database = "other" })
	c := newTestTransport(t, f, func(c *Config) { c.Username = ""; c.UID = 7 })

	assert.NotEqual(t, a.SessionKey(), b.SessionKey())
	assert.Equal(t, a.Endpoint()+"/demo/admin", a.SessionKey())
	assert.Equal(t, c.Endpoint()+"/demo/uid:7", c.SessionKey())
	assert.Equal(t, a.SessionKey(), transport.SessionKey(a))
	assert.Equal(t, "func", transport.SessionKey(transport.TransportFunc(nil)))
}
