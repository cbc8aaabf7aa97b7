// 包 store：键值存储抽象与 Redis 实现，承载瓦片缓存、变更日志、待删除队列与分布式锁的全部可变状态
package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// 逻辑键布局：tile/{tileKey}、changelog/tiles、changelog/cities、pendingDeletions/{eventId}、lock/{name}
const (
	TilePrefix        = "tile/"
	ChangelogTilesKey = "changelog/tiles"
	ChangelogCityKey  = "changelog/cities"
	PendingPrefix     = "pendingDeletions/"
	LockPrefix        = "lock/"
)

// Entry：前缀遍历返回的键值对
type Entry struct {
	Key   string
	Value string
}

// KV：外部键值服务契约
// 背景：所有可变状态外置到原子一致、支持 TTL 的键值服务；
// ConditionalWrite 为单键乐观并发原语，expect 为空串表示期望键不存在。
// 约束：ttl 为 0 表示不过期；Get 未命中返回 ok=false 而非错误。
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	ConditionalWrite(ctx context.Context, key, expect, value string, ttl time.Duration) (bool, error)
}

// casScript：先比较当前值（或不存在）再写入，整体原子执行
// 背景：两个观察到锁过期/缺失的调用方同时写入时，仅条件写成功者获得锁
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '' then
  if cur then return 0 end
else
  if cur ~= ARGV[1] then return 0 end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// RedisKV：基于 go-redis 的 KV 实现
type RedisKV struct {
	rc *redis.Client
}

func NewRedisKV(rc *redis.Client) *RedisKV { return &RedisKV{rc: rc} }

func (s *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rc.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rc.Set(ctx, key, value, ttl).Err()
}

func (s *RedisKV) Delete(ctx context.Context, key string) error {
	return s.rc.Del(ctx, key).Err()
}

// List：SCAN 遍历前缀下所有键并逐一读取
// 约束：遍历与读取非同一快照，期间被删除的键跳过即可
func (s *RedisKV) List(ctx context.Context, prefix string) ([]Entry, error) {
	var out []Entry
	iter := s.rc.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		v, err := s.rc.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: k, Value: v})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisKV) ConditionalWrite(ctx context.Context, key, expect, value string, ttl time.Duration) (bool, error) {
	n, err := casScript.Run(ctx, s.rc, []string{key}, expect, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
