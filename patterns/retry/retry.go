// Package retry 提供远端调用的重试控制与熔断
//
// 只重试瞬时错误（网络失败、超时、远端繁忙），校验与权限错误从不重试。
// 退避为带完全抖动的指数退避，同时受最大尝试次数和最大总耗时限制。
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"zenoo/errors"
	"zenoo/logging"
)

// Operation 可重试的操作
type Operation func(ctx context.Context) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 初始退避上限
	BackoffFactor float64       // 指数倍数
	MaxDelay      time.Duration // 单次退避上限
	MaxElapsed    time.Duration // 总耗时上限，0 表示不限制

	// Retryable 判定错误是否可重试，默认 errors.IsRetryable
	Retryable func(error) bool
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Second,
		MaxElapsed:    30 * time.Second,
	}
}

// Controller 重试控制器
type Controller struct {
	cfg      Config
	breakers *Breakers
	logger   logging.Logger

	now   func() time.Time
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error
}

// Option 控制器选项
type Option func(*Controller)

// WithLogger 设置日志
func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock 注入时钟（用于总耗时判断）
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithRand 注入 [0,1) 随机源
func WithRand(r func() float64) Option {
	return func(c *Controller) {
		c.rand = r
	}
}

// WithSleep 注入退避等待
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// NewController 创建重试控制器，breakers 为 nil 时不做熔断
func NewController(cfg Config, breakers *Breakers, opts ...Option) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.Retryable == nil {
		cfg.Retryable = errors.IsRetryable
	}
	c := &Controller{
		cfg:      cfg,
		breakers: breakers,
		logger:   logging.GetLogger().WithFields(logging.String("component", "retry")),
		now:      time.Now,
		rand:     rand.Float64,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config 返回配置副本
func (c *Controller) Config() Config {
	return c.cfg
}

// Breakers 返回熔断器注册表
func (c *Controller) Breakers() *Breakers {
	return c.breakers
}

// Execute 执行带重试与熔断的调用
//
// 返回：
//   - nil：某次尝试成功
//   - CircuitOpen：熔断中，未访问网络
//   - RetriesExhausted：瞬时错误超过尝试次数或总耗时，包装最后一次错误
//   - ctx.Err()：退避期间被取消
//   - 其他错误：不可重试，原样返回
func (c *Controller) Execute(ctx context.Context, endpoint string, op Operation) error {
	start := c.now()
	var breaker *Breaker
	if c.breakers != nil {
		breaker = c.breakers.For(endpoint)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ticket Ticket
		if breaker != nil {
			t, err := breaker.Allow()
			if err != nil {
				return err
			}
			ticket = t
		}

		err := op(ctx)
		if breaker != nil {
			breaker.Record(ticket, err)
		}
		if err == nil {
			return nil
		}
		if !c.cfg.Retryable(err) {
			return err
		}

		if attempt >= c.cfg.MaxAttempts {
			return errors.RetriesExhausted(err, attempt)
		}
		delay := c.backoff(attempt)
		if c.cfg.MaxElapsed > 0 && c.now().Sub(start)+delay > c.cfg.MaxElapsed {
			return errors.RetriesExhausted(err, attempt)
		}

		c.logger.Debug(ctx, "瞬时错误，准备重试",
			logging.String("endpoint", endpoint),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Do 执行带返回值的调用
func Do[T any](ctx context.Context, c *Controller, endpoint string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.Execute(ctx, endpoint, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// backoff 第 attempt 次失败后的等待：[0, min(MaxDelay, InitialDelay*factor^(attempt-1))) 内均匀分布
func (c *Controller) backoff(attempt int) time.Duration {
	ceiling := float64(c.cfg.InitialDelay) * math.Pow(c.cfg.BackoffFactor, float64(attempt-1))
	if c.cfg.MaxDelay > 0 && ceiling > float64(c.cfg.MaxDelay) {
		ceiling = float64(c.cfg.MaxDelay)
	}
	return time.Duration(c.rand() * ceiling)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
