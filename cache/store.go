package cache

import (
	"context"
	"time"
)

// IStore 缓存后端
//
// 值是远端返回的原始 JSON；标签是结果依赖的模型名，
// InvalidateTags 必须删除带任一标签的全部条目，不论剩余有效期。
type IStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	Delete(ctx context.Context, key string) error
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
	Clear(ctx context.Context) error
}
