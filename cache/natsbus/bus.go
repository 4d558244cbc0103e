// Package natsbus 通过 NATS 在进程间广播缓存失效
//
// 每个进程的本地缓存只知道本进程的写操作；其他进程修改同一模型时，
// 通过该总线收到标签并失效本地条目。消息带有来源 id，进程忽略自己发出的消息。
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"zenoo/logging"
)

// DefaultSubject 默认主题
const DefaultSubject = "zenoo.cache.invalidate"

// conn 所需的 NATS 连接能力
type conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// Applier 接收远端失效（cache.Manager 实现）
type Applier interface {
	ApplyRemoteInvalidation(ctx context.Context, tags ...string) error
}

// Config 总线配置
type Config struct {
	Conn    *nats.Conn
	URL     string
	Subject string
	Logger  logging.Logger
}

// message 线上格式
type message struct {
	Origin string   `json:"origin"`
	Tags   []string `json:"tags"`
}

// Bus 失效广播总线，实现 cache.Publisher
type Bus struct {
	conn     conn
	ownsConn bool
	subject  string
	origin   string
	target   Applier
	logger   logging.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// New 创建总线；未提供连接时按 URL 连接
func New(cfg Config, target Applier) (*Bus, error) {
	if target == nil {
		return nil, errors.New("natsbus: target is required")
	}
	var c conn
	owns := false
	if cfg.Conn != nil {
		c = cfg.Conn
	} else {
		if cfg.URL == "" {
			return nil, errors.New("natsbus: url not configured")
		}
		nc, err := nats.Connect(cfg.URL, nats.Name("zenoo-cache"))
		if err != nil {
			return nil, err
		}
		c = nc
		owns = true
	}
	return newBus(c, owns, cfg.Subject, target, cfg.Logger), nil
}

func newBus(c conn, owns bool, subject string, target Applier, logger logging.Logger) *Bus {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "cache.natsbus"))
	}
	return &Bus{
		conn:     c,
		ownsConn: owns,
		subject:  subject,
		origin:   uuid.NewString(),
		target:   target,
		logger:   logger,
	}
}

// Origin 本进程来源 id
func (b *Bus) Origin() string {
	return b.origin
}

// Start 订阅失效主题
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub, err := b.conn.Subscribe(b.subject, b.handle)
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// PublishInvalidation 实现 cache.Publisher
func (b *Bus) PublishInvalidation(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	data, err := json.Marshal(message{Origin: b.origin, Tags: tags})
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

func (b *Bus) handle(msg *nats.Msg) {
	ctx := context.Background()
	var m message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		b.logger.Warn(ctx, "无法解析缓存失效消息", logging.Error(err))
		return
	}
	if m.Origin == b.origin || len(m.Tags) == 0 {
		return
	}
	if err := b.target.ApplyRemoteInvalidation(ctx, m.Tags...); err != nil {
		b.logger.Warn(ctx, "应用远端缓存失效失败",
			logging.String("origin", m.Origin), logging.Any("tags", m.Tags), logging.Error(err))
		return
	}
	b.logger.Debug(ctx, "已应用远端缓存失效", logging.String("origin", m.Origin), logging.Any("tags", m.Tags))
}

// Close 取消订阅，关闭自行创建的连接
func (b *Bus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	var err error
	if sub != nil {
		if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) {
			err = uerr
		}
	}
	if b.ownsConn {
		b.conn.Close()
	}
	return err
}
