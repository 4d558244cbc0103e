// Package jsonrpc 通过 HTTP JSON-RPC 调用远端 ORM 服务（/jsonrpc 端点）
//
// 数据调用走 object.execute_kw，认证走 common.login。
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"zenoo/errors"
	"zenoo/logging"
	"zenoo/transport"
)

// Path JSON-RPC 端点路径
const Path = "/jsonrpc"

// Config 连接配置
type Config struct {
	URL      string
	Database string
	Username string
	Password string

	// UID 已知的用户 id；为 0 时首次调用前自动 login
	UID int64

	Timeout time.Duration

	// RateLimit 每秒最大请求数，0 表示不限制
	RateLimit float64
	RateBurst int

	// HTTPClient 可注入自定义客户端（测试用）
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Transport JSON-RPC 传输
type Transport struct {
	cfg      Config
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	logger   logging.Logger

	mu  sync.Mutex
	uid int64

	seq atomic.Int64
}

// New 创建 JSON-RPC 传输
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.NewValidationError("远端地址为空")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, errors.NewValidationError("远端地址不合法: %s", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "transport.jsonrpc"))
	}

	t := &Transport{
		cfg:      cfg,
		endpoint: u.Scheme + "://" + u.Host,
		http:     client,
		logger:   logger,
		uid:      cfg.UID,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return t, nil
}

// Endpoint 实现 transport.ITransport
func (t *Transport) Endpoint() string {
	return t.endpoint
}

// SessionKey 实现 transport.ISessionKeyer：端点、数据库与用户共同标识会话
//
// 未配置用户名时使用配置的 uid。
func (t *Transport) SessionKey() string {
	user := t.cfg.Username
	if user == "" {
		user = "uid:" + strconv.FormatInt(t.cfg.UID, 10)
	}
	return t.endpoint + "/" + url.PathEscape(t.cfg.Database) + "/" + url.PathEscape(user)
}

// Login 认证并缓存 uid
func (t *Transport) Login(ctx context.Context) (int64, error) {
	raw, err := t.rpc(ctx, "common", "login", []any{t.cfg.Database, t.cfg.Username, t.cfg.Password})
	if err != nil {
		return 0, err
	}
	var result any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return 0, errors.Remote(err, "login 返回格式错误")
	}
	n, ok := result.(json.Number)
	if !ok {
		// 认证失败时远端返回 false
		return 0, errors.NewError(errors.ErrCodePermissionDenied, fmt.Sprintf("用户 %s 认证失败", t.cfg.Username))
	}
	uid, err := n.Int64()
	if err != nil || uid == 0 {
		return 0, errors.NewError(errors.ErrCodePermissionDenied, fmt.Sprintf("用户 %s 认证失败", t.cfg.Username))
	}

	t.mu.Lock()
	t.uid = uid
	t.mu.Unlock()
	t.logger.Info(ctx, "认证成功", logging.String("endpoint", t.endpoint), logging.Int64("uid", uid))
	return uid, nil
}

func (t *Transport) ensureUID(ctx context.Context) (int64, error) {
	t.mu.Lock()
	uid := t.uid
	t.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}
	return t.Login(ctx)
}

// Call 实现 transport.ITransport：object.execute_kw
func (t *Transport) Call(ctx context.Context, req transport.Request) (json.RawMessage, error) {
	uid, err := t.ensureUID(ctx)
	if err != nil {
		return nil, err
	}
	args := req.Args
	if args == nil {
		args = []any{}
	}
	kwargs := req.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return t.rpc(ctx, "object", "execute_kw", []any{
		t.cfg.Database, uid, t.cfg.Password, req.Model, req.Method, args, kwargs,
	})
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Debug   string `json:"debug"`
	} `json:"data"`
}

func (t *Transport) rpc(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Transient(err, "限流等待超时")
		}
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      t.seq.Add(1),
	}); err != nil {
		return nil, errors.NewValidationError("请求参数无法序列化: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(t.cfg.URL, "/")+Path, &body)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "构造请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, errors.ClassifyNetwork(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ClassifyNetwork(err)
	}
	if err := classifyStatus(resp.StatusCode, data); err != nil {
		return nil, err
	}

	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Remote(err, "响应不是合法的 JSON-RPC")
	}
	if out.Error != nil {
		fault := &errors.RemoteFault{
			Name:    out.Error.Data.Name,
			Message: out.Error.Data.Message,
			Debug:   out.Error.Data.Debug,
		}
		if fault.Message == "" {
			fault.Message = out.Error.Message
		}
		t.logger.Debug(ctx, "远端返回故障",
			logging.String("service", service),
			logging.String("method", method),
			logging.String("fault", fault.Name))
		return nil, errors.ClassifyFault(fault)
	}
	if len(out.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}

// classifyStatus 网关类状态码视为瞬时错误
func classifyStatus(status int, body []byte) error {
	if status < 400 {
		return nil
	}
	cause := fmt.Errorf("http %d: %s", status, truncate(body, 200))
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return errors.Transient(cause, "远端暂时不可用")
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.WrapError(cause, errors.ErrCodePermissionDenied, "远端拒绝访问")
	}
	return errors.Remote(cause, "远端调用失败")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ transport.ITransport = (*Transport)(nil)
