// Package redisstore 提供基于 Redis 的缓存后端
//
// 键布局：
//
//	<prefix>v:<key>  缓存值（带过期时间）
//	<prefix>t:<tag>  标签集合，成员为缓存键
//
// 标签集合不过期；失效时读取集合成员并连同集合一起删除。
// 成员指向的值可能已自然过期，删除不存在的键是无害的。
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"zenoo/logging"
)

// client 所需的 Redis 命令子集，便于测试替换
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// Config Redis 后端配置
type Config struct {
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	Logger   logging.Logger
}

// Store 实现 cache.IStore
type Store struct {
	client    client
	ownClient bool
	prefix    string
	logger    logging.Logger
}

// New 创建 Redis 后端；未提供 Client 时按地址自行创建并在 Close 时关闭
func New(cfg Config) (*Store, error) {
	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis addr not configured")
		}
		cl = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		own = true
	}
	return newStore(cl, own, cfg.Prefix, cfg.Logger), nil
}

func newStore(cl client, own bool, prefix string, logger logging.Logger) *Store {
	if prefix == "" {
		prefix = "zenoo:"
	}
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "cache.redis"))
	}
	return &Store{client: cl, ownClient: own, prefix: prefix, logger: logger}
}

func (s *Store) valueKey(key string) string {
	return s.prefix + "v:" + key
}

func (s *Store) tagKey(tag string) string {
	return s.prefix + "t:" + tag
}

// Get 实现 cache.IStore
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set 实现 cache.IStore
//
// 先登记标签再写值：若中途失败，最多留下指向不存在键的标签成员。
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	vk := s.valueKey(key)
	for _, tag := range tags {
		if err := s.client.SAdd(ctx, s.tagKey(tag), vk).Err(); err != nil {
			return err
		}
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, vk, value, ttl).Err()
}

// Delete 实现 cache.IStore
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.valueKey(key)).Err()
}

// InvalidateTags 实现 cache.IStore
func (s *Store) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	for _, tag := range tags {
		tk := s.tagKey(tag)
		members, err := s.client.SMembers(ctx, tk).Result()
		if err != nil {
			return removed, err
		}
		keys := append(members, tk)
		n, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			return removed, err
		}
		// 标签集合自身不计入
		if len(members) > 0 && n > 0 {
			n--
		}
		removed += int(n)
	}
	s.logger.Debug(ctx, "redis 缓存失效", logging.Any("tags", tags), logging.Int("removed", removed))
	return removed, nil
}

// Clear 实现 cache.IStore，删除前缀下的全部键
func (s *Store) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 256).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close 关闭自行创建的连接
func (s *Store) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
