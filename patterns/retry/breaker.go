package retry

import (
	"context"
	"sync"
	"time"

	"zenoo/errors"
	"zenoo/logging"
)

// State 熔断器状态
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig 熔断配置
type BreakerConfig struct {
	// FailureThreshold 窗口内连续瞬时失败多少次后打开
	FailureThreshold int

	// Window 连续失败的统计窗口；距第一次失败超过窗口后重新计数
	Window time.Duration

	// Cooldown 打开后多久允许一次探测
	Cooldown time.Duration

	// Now 时钟，测试注入
	Now func() time.Time

	Logger logging.Logger
}

// DefaultBreakerConfig 默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
	}
}

// Breaker 单个端点的熔断器
//
//	closed --N 次连续瞬时失败--> open --冷却结束--> half_open --探测成功--> closed
//	                                ^                         |
//	                                +-------探测失败----------+
//
// 只有瞬时错误计为失败：校验、权限等错误说明端点可达。
type Breaker struct {
	endpoint string
	cfg      BreakerConfig

	mu           sync.Mutex
	state        State
	failures     int
	firstFailure time.Time
	openedAt     time.Time
	probing      bool
	// generation 每次状态变更加一，用于识别旧状态下放行的调用
	generation uint64
}

// Ticket 一次放行的凭证，调用结束后交给 Record
type Ticket struct {
	generation uint64
	trial      bool
}

// Trial 是否为 half_open 状态下的探测
func (t Ticket) Trial() bool {
	return t.trial
}

// State 当前状态（open 冷却结束但尚未有调用时仍报告 open）
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow 判断是否放行一次调用
//
// half_open 状态只放行一个探测，探测结束前的其他调用返回 CircuitOpen。
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return Ticket{}, errors.CircuitOpen(b.endpoint)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return Ticket{generation: b.generation, trial: true}, nil
	case StateHalfOpen:
		if b.probing {
			return Ticket{}, errors.CircuitOpen(b.endpoint)
		}
		b.probing = true
		return Ticket{generation: b.generation, trial: true}, nil
	}
	return Ticket{generation: b.generation}, nil
}

// Record 记录一次已放行调用的结果
//
// 状态变更之前放行的调用结果被忽略；half_open 状态只由探测的结果决定。
func (b *Breaker) Record(t Ticket, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.generation != b.generation {
		return
	}
	failed := errors.IsTransient(err)
	now := b.cfg.Now()

	switch b.state {
	case StateHalfOpen:
		if !t.trial {
			return
		}
		b.probing = false
		if failed {
			b.openedAt = now
			b.transition(StateOpen)
			return
		}
		b.failures = 0
		b.transition(StateClosed)

	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		if b.failures == 0 || (b.cfg.Window > 0 && now.Sub(b.firstFailure) > b.cfg.Window) {
			b.failures = 0
			b.firstFailure = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.failures = 0
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	if b.cfg.Logger == nil {
		return
	}
	fields := []logging.Field{
		logging.String("endpoint", b.endpoint),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	}
	if to == StateOpen {
		b.cfg.Logger.Warn(context.Background(), "熔断器打开", fields...)
	} else {
		b.cfg.Logger.Info(context.Background(), "熔断器状态变更", fields...)
	}
}

// Breakers 按端点隔离的熔断器注册表
//
// 进程内共享，但由调用方显式创建并注入，测试可以构造独立实例。
type Breakers struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakers 创建注册表
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.String("component", "retry.breaker"))
	}
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For 返回端点的熔断器，不存在时创建
func (r *Breakers) For(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[endpoint]
	if !ok {
		b = &Breaker{endpoint: endpoint, cfg: r.cfg, state: StateClosed}
		r.breakers[endpoint] = b
	}
	return b
}

// State 返回端点状态
func (r *Breakers) State(endpoint string) State {
	return r.For(endpoint).State()
}
