// Package batch 把大量独立的修改按分块合并成批量远端调用
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"zenoo/errors"
	"zenoo/logging"
)

// Kind 修改类型
type Kind string

const (
	KindCreate Kind = "create"
	KindWrite  Kind = "write"
	KindUnlink Kind = "unlink"
)

// WriteItem write 的负载：把 Vals 写入 IDs
type WriteItem struct {
	IDs  []int64
	Vals map[string]any
}

// Chunk 一次批量远端调用的输入
//
// Payloads 的元素类型由 Kind 决定：
//   - create: map[string]any
//   - write:  WriteItem
//   - unlink: int64
type Chunk struct {
	Model    string
	Kind     Kind
	Offset   int // 第一个负载在整批中的下标
	Payloads []any
}

// Executor 执行一个分块
//
// create 返回与 Payloads 等长的新 id；write/unlink 的返回值被忽略。
// 失败时整个分块视为未执行。
type Executor interface {
	ExecChunk(ctx context.Context, chunk Chunk) ([]int64, error)
}

// ExecutorFunc 函数适配器
type ExecutorFunc func(ctx context.Context, chunk Chunk) ([]int64, error)

// ExecChunk 实现 Executor
func (f ExecutorFunc) ExecChunk(ctx context.Context, chunk Chunk) ([]int64, error) {
	return f(ctx, chunk)
}

// Result 单个负载的结果
type Result struct {
	ID  int64 // create 的新记录 id
	Err error
}

// OK 是否成功
func (r Result) OK() bool {
	return r.Err == nil
}

// Config 协调器配置
type Config struct {
	MaxChunkSize   int
	MaxConcurrency int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{MaxChunkSize: 100, MaxConcurrency: 4}
}

// Coordinator 批量协调器
type Coordinator struct {
	exec    Executor
	cfg     Config
	logger  logging.Logger
	ordered func() bool
}

// Option 可选配置
type Option func(*Coordinator)

// WithLogger 设置日志
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithOrdered 返回 true 时分块按顺序逐个执行（事务进行中）
func WithOrdered(ordered func() bool) Option {
	return func(c *Coordinator) {
		c.ordered = ordered
	}
}

// NewCoordinator 创建批量协调器
func NewCoordinator(exec Executor, cfg Config, opts ...Option) *Coordinator {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultConfig().MaxChunkSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	c := &Coordinator{
		exec:    exec,
		cfg:     cfg,
		logger:  logging.GetLogger().WithFields(logging.String("component", "batch")),
		ordered: func() bool { return false },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config 返回配置
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Submit 分块执行 payloads，结果与输入一一对应
//
// 某个分块失败只影响该分块范围内的结果，已完成的分块不会撤销。
// 返回的 error 仅表示输入不合法，此时没有任何调用发出。
func (c *Coordinator) Submit(ctx context.Context, model string, kind Kind, payloads []any) ([]Result, error) {
	if model == "" {
		return nil, errors.NewValidationError("批量操作缺少模型名")
	}
	if err := validatePayloads(kind, payloads); err != nil {
		return nil, err
	}
	results := make([]Result, len(payloads))
	if len(payloads) == 0 {
		return results, nil
	}

	chunks := c.split(model, kind, payloads)
	if c.ordered() || len(chunks) == 1 {
		for _, ch := range chunks {
			c.run(ctx, ch, results)
		}
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)
	for _, ch := range chunks {
		g.Go(func() error {
			// 每个分块只写自己的下标范围
			c.run(ctx, ch, results)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (c *Coordinator) split(model string, kind Kind, payloads []any) []Chunk {
	size := c.cfg.MaxChunkSize
	chunks := make([]Chunk, 0, (len(payloads)+size-1)/size)
	for start := 0; start < len(payloads); start += size {
		end := min(start+size, len(payloads))
		chunks = append(chunks, Chunk{
			Model:    model,
			Kind:     kind,
			Offset:   start,
			Payloads: payloads[start:end:end],
		})
	}
	return chunks
}

func (c *Coordinator) run(ctx context.Context, ch Chunk, results []Result) {
	fill := func(err error) {
		for i := range ch.Payloads {
			results[ch.Offset+i] = Result{Err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		fill(err)
		return
	}

	ids, err := c.exec.ExecChunk(ctx, ch)
	if err == nil && ch.Kind == KindCreate && len(ids) != len(ch.Payloads) {
		err = errors.NewError(errors.ErrCodeRemote,
			fmt.Sprintf("批量 create 返回 %d 个 id，期望 %d 个", len(ids), len(ch.Payloads)))
	}
	if err != nil {
		c.logger.Warn(ctx, "批量分块失败", logging.Error(err),
			logging.String("model", ch.Model),
			logging.String("kind", string(ch.Kind)),
			logging.Int("offset", ch.Offset),
			logging.Int("size", len(ch.Payloads)))
		fill(err)
		return
	}
	for i := range ch.Payloads {
		var r Result
		if ch.Kind == KindCreate {
			r.ID = ids[i]
		}
		results[ch.Offset+i] = r
	}
}

func validatePayloads(kind Kind, payloads []any) error {
	for i, p := range payloads {
		var ok bool
		switch kind {
		case KindCreate:
			_, ok = p.(map[string]any)
		case KindWrite:
			var item WriteItem
			item, ok = p.(WriteItem)
			ok = ok && len(item.IDs) > 0
		case KindUnlink:
			_, ok = p.(int64)
		default:
			return errors.NewValidationError("不支持的批量操作类型 %q", kind)
		}
		if !ok {
			return errors.NewValidationError("第 %d 个 %s 负载类型不正确: %T", i, kind, p)
		}
	}
	return nil
}
