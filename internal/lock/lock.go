// 包 lock：基于键值服务条件写的 TTL 互斥锁
package lock

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/metrics"
	"github.com/cafread/metrocity-api/internal/store"
)

const (
	// DefaultTTL：锁默认存活时长，覆盖一次变更日志重建的耗时上限
	DefaultTTL = 10 * time.Second
	// DefaultAttempts：带重试获取的默认尝试次数
	DefaultAttempts = 5
	// baseBackoff：线性退避基数，实际延迟 = 次数 × 基数 + 随机抖动
	baseBackoff = 100 * time.Millisecond
)

// Locker：TTL 互斥锁
// 背景：锁值为过期时间戳（毫秒）；条件写成功是取锁的唯一依据，
// 防止两个调用方同时观察到锁过期/缺失后双双自认成功。
type Locker struct {
	kv  store.KV
	now func() time.Time
}

func New(kv store.KV) *Locker { return &Locker{kv: kv, now: time.Now} }

// SetClock：测试注入时钟
func (l *Locker) SetClock(now func() time.Time) { l.now = now }

// Acquire：尝试取锁一次
// 返回：是否取得；存储层错误原样返回，调用方按可降级处理
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := store.LockPrefix + name
	cur, ok, err := l.kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	nowMs := l.now().UnixMilli()
	if ok {
		if exp, perr := strconv.ParseInt(cur, 10, 64); perr == nil && exp > nowMs {
			return false, nil
		}
		// 锁已过期：针对观察到的旧值做条件写，避免与其他抢占者同时成功
	} else {
		cur = ""
	}
	val := strconv.FormatInt(nowMs+ttl.Milliseconds(), 10)
	return l.kv.ConditionalWrite(ctx, key, cur, val, ttl)
}

// Release：释放锁（无条件删除）
func (l *Locker) Release(ctx context.Context, name string) {
	if err := l.kv.Delete(ctx, store.LockPrefix+name); err != nil {
		logger.L().Warn("lock_release_error", "name", name, "err", err)
	}
}

// AcquireWithRetry：带线性退避与抖动的取锁
// 背景：重试耗尽不致命，调用方跳过本轮受保护操作，等待下一次调度
func (l *Locker) AcquireWithRetry(ctx context.Context, name string, ttl time.Duration, maxAttempts int) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ok, err := l.Acquire(ctx, name, ttl)
		if err != nil {
			logger.L().Warn("lock_acquire_error", "name", name, "attempt", attempt, "err", err)
		} else if ok {
			return true
		}
		if attempt < maxAttempts {
			delay := time.Duration(attempt)*baseBackoff + time.Duration(rand.Intn(50))*time.Millisecond
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
	}
	logger.L().Warn("lock_acquire_exhausted", "name", name, "attempts", maxAttempts)
	metrics.LockAcquireFailTotal.WithLabelValues(name).Inc()
	return false
}
