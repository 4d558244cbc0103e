package client

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"os"

	"zenoo/batch"
	"zenoo/cache"
	"zenoo/cache/natsbus"
	"zenoo/cache/redisstore"
	"zenoo/config"
	"zenoo/errors"
	"zenoo/logging"
	"zenoo/model"
	"zenoo/patterns/retry"
	"zenoo/transaction"
)

// journalDrivers 配置中的驱动名 → database/sql 注册名
var journalDrivers = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "pgx",
}

// Runtime 多个会话共享的运行时：缓存、熔断器、重试策略、模型注册表
//
// 显式构造并传给 New，不存在隐藏的全局状态。
type Runtime struct {
	cache    *cache.Manager
	breakers *retry.Breakers
	retryCfg retry.Config
	retryOps []retry.Option
	registry *model.Registry
	journal  transaction.IJournal
	batchCfg batch.Config
	logger   logging.Logger

	closers []func() error
}

// RuntimeOption 运行时选项
type RuntimeOption func(*Runtime)

// WithCache 设置缓存管理器；传 nil 关闭缓存
func WithCache(m *cache.Manager) RuntimeOption {
	return func(r *Runtime) {
		r.cache = m
	}
}

// WithBreakers 共享熔断器注册表
func WithBreakers(b *retry.Breakers) RuntimeOption {
	return func(r *Runtime) {
		r.breakers = b
	}
}

// WithRetry 设置重试策略，opts 用于注入时钟与等待函数
func WithRetry(cfg retry.Config, opts ...retry.Option) RuntimeOption {
	return func(r *Runtime) {
		r.retryCfg = cfg
		r.retryOps = opts
	}
}

// WithRegistry 设置模型注册表
func WithRegistry(reg *model.Registry) RuntimeOption {
	return func(r *Runtime) {
		r.registry = reg
	}
}

// WithJournal 事务日志
func WithJournal(j transaction.IJournal) RuntimeOption {
	return func(r *Runtime) {
		r.journal = j
	}
}

// WithBatchConfig 批量分块配置
func WithBatchConfig(cfg batch.Config) RuntimeOption {
	return func(r *Runtime) {
		r.batchCfg = cfg
	}
}

// WithLogger 设置日志
func WithLogger(logger logging.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// NewRuntime 创建运行时；未指定的部分使用默认值（内存缓存、默认重试与熔断）
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		retryCfg: retry.DefaultConfig(),
		batchCfg: batch.DefaultConfig(),
		logger:   logging.Component(nil, "client"),
	}
	r.cache = cache.NewManager(cache.NewMemoryStore(1000))
	for _, opt := range opts {
		opt(r)
	}
	if r.breakers == nil {
		cfg := retry.DefaultBreakerConfig()
		cfg.Logger = r.logger
		r.breakers = retry.NewBreakers(cfg)
	}
	if r.registry == nil {
		r.registry = model.NewRegistry()
	}
	return r
}

// NewRuntimeFromConfig 按配置创建运行时
//
// 按需连接 Redis（缓存后端）、NATS（失效广播）与事务日志数据库；
// 连接在 Close 时释放。数据库驱动需由调用方导入注册。
func NewRuntimeFromConfig(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewValidationError("配置不合法: %v", err)
	}

	logger := logging.Component(logging.NewWriterLogger(os.Stderr, "zenoo", logging.ParseLevel(cfg.Log.Level)), "client")
	r := NewRuntime(
		WithRetry(cfg.RetryPolicy()),
		WithBatchConfig(cfg.BatchConfig()),
		WithLogger(logger),
	)
	breakerCfg := cfg.BreakerConfig()
	breakerCfg.Logger = logger
	r.breakers = retry.NewBreakers(breakerCfg)

	if err := r.setupCache(cfg, logger); err != nil {
		_ = r.Close()
		return nil, err
	}
	if err := r.setupJournal(ctx, cfg, logger); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) setupCache(cfg *config.Config, logger logging.Logger) error {
	if !cfg.Cache.Enabled {
		r.cache = nil
		return nil
	}

	var store cache.IStore
	switch cfg.Cache.Backend {
	case "redis":
		rs, err := redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Logger:   logger,
		})
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeInternal, "创建 Redis 缓存失败")
		}
		r.closers = append(r.closers, rs.Close)
		store = rs
	default:
		store = cache.NewMemoryStore(cfg.Cache.Capacity)
	}
	r.cache = cache.NewManager(store,
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithLogger(logger))

	if cfg.NATS.URL == "" {
		return nil
	}
	bus, err := natsbus.New(natsbus.Config{
		URL:     cfg.NATS.URL,
		Subject: cfg.NATS.Subject,
		Logger:  logger,
	}, r.cache)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "连接 NATS 失败")
	}
	r.closers = append(r.closers, bus.Close)
	if err := bus.Start(); err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "订阅缓存失效主题失败")
	}
	r.cache.SetPublisher(bus)
	return nil
}

func (r *Runtime) setupJournal(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	if cfg.Journal.Driver == "" {
		r.journal = transaction.NewMemoryJournal()
		return nil
	}
	db, err := sql.Open(journalDrivers[cfg.Journal.Driver], cfg.Journal.DSN)
	if err != nil {
		return errors.WrapWithLog(ctx, logger, err, errors.ErrCodeInternal, "打开事务日志数据库失败",
			logging.String("driver", cfg.Journal.Driver))
	}
	r.closers = append(r.closers, db.Close)
	if cfg.Journal.Driver == "sqlite" {
		// SQLite 单写者
		db.SetMaxOpenConns(1)
	}

	j, err := transaction.NewSQLJournal(transaction.SQLJournalConfig{
		DB:                 db,
		Table:              cfg.Journal.Table,
		DollarPlaceholders: cfg.Journal.Driver == "postgres",
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	if err := j.Init(ctx); err != nil {
		return err
	}
	r.journal = j
	return nil
}

// Cache 缓存管理器，未启用时为 nil
func (r *Runtime) Cache() *cache.Manager {
	return r.cache
}

// Breakers 熔断器注册表
func (r *Runtime) Breakers() *retry.Breakers {
	return r.breakers
}

// Registry 模型注册表
func (r *Runtime) Registry() *model.Registry {
	return r.registry
}

// Journal 事务日志，可能为 nil
func (r *Runtime) Journal() transaction.IJournal {
	return r.journal
}

// BatchConfig 批量分块配置
func (r *Runtime) BatchConfig() batch.Config {
	return r.batchCfg
}

// Logger 运行时日志
func (r *Runtime) Logger() logging.Logger {
	return r.logger
}

// newController 每个会话一个重试控制器，熔断器共享
func (r *Runtime) newController() *retry.Controller {
	opts := append([]retry.Option{retry.WithLogger(r.logger)}, r.retryOps...)
	return retry.NewController(r.retryCfg, r.breakers, opts...)
}

// Close 释放运行时持有的连接
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return stdErrors.Join(errs...)
}
