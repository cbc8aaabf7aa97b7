// 包 pending：持久化的延迟缓存失效队列
// 背景：上游瓦片变更后不立即删缓存——在途读取仍应命中旧瓦片；
// 删除意图落盘到键值服务，固定延迟后由后台清扫执行，进程重启不丢失。
package pending

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cafread/metrocity-api/internal/lock"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/metrics"
	"github.com/cafread/metrocity-api/internal/store"
)

// DefaultDelay：入队到可执行的固定延迟，需长于任何在途读取的生命周期
const DefaultDelay = 10 * time.Minute

// 单条记录执行期间的互斥锁时长，防止并发清扫者重复处理
const entryLockTTL = 30 * time.Second

// Record：一次待删除意图
type Record struct {
	TileKeys  []string `json:"tileKeys"`
	NotBefore int64    `json:"notBefore"`
	CreatedAt int64    `json:"createdAt"`
	Reason    string   `json:"reason,omitempty"`
}

// Queue：待删除队列
type Queue struct {
	kv  store.KV
	lk  *lock.Locker
	now func() time.Time
}

func New(kv store.KV, lk *lock.Locker) *Queue {
	return &Queue{kv: kv, lk: lk, now: time.Now}
}

// SetClock：测试注入时钟
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Enqueue：写入待删除记录
// 背景：以触发事件的稳定标识（webhook 提交 id）为键，同一通知重复投递不产生重复记录；
// 条件写要求键不存在，已存在即保留原 notBefore 直接返回
func (q *Queue) Enqueue(ctx context.Context, eventID string, tileKeys []string, delay time.Duration, reason string) error {
	if len(tileKeys) == 0 {
		return nil
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	nowMs := q.now().UnixMilli()
	rec := Record{
		TileKeys:  tileKeys,
		NotBefore: nowMs + delay.Milliseconds(),
		CreatedAt: nowMs,
		Reason:    reason,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := q.kv.ConditionalWrite(ctx, store.PendingPrefix+eventID, "", string(b), 0)
	if err != nil {
		return err
	}
	if !ok {
		logger.L().Info("pending_duplicate", "event", eventID)
		return nil
	}
	metrics.PendingEnqueuedTotal.Inc()
	logger.L().Info("pending_enqueued", "event", eventID, "tiles", len(tileKeys), "not_before_ms", rec.NotBefore)
	return nil
}

// ProcessDue：执行所有到期记录
// 背景：逐条取单次锁（不重试），他人持锁即跳过本轮，下一次清扫自然重拾；
// 先删各瓦片缓存再删记录本身，中途失败时记录保留，重放是幂等的。
// 返回：本轮完整处理的记录数
func (q *Queue) ProcessDue(ctx context.Context) (int, error) {
	entries, err := q.kv.List(ctx, store.PendingPrefix)
	if err != nil {
		return 0, err
	}
	nowMs := q.now().UnixMilli()
	done := 0
	for _, e := range entries {
		eventID := strings.TrimPrefix(e.Key, store.PendingPrefix)
		var rec Record
		if err := json.Unmarshal([]byte(e.Value), &rec); err != nil {
			logger.L().Error("pending_decode_error", "event", eventID, "err", err)
			continue
		}
		if rec.NotBefore > nowMs {
			continue
		}
		lockName := "pending_" + eventID
		ok, err := q.lk.Acquire(ctx, lockName, entryLockTTL)
		if err != nil || !ok {
			continue
		}
		if q.processOne(ctx, eventID, rec) {
			done++
		}
		q.lk.Release(ctx, lockName)
	}
	return done, nil
}

func (q *Queue) processOne(ctx context.Context, eventID string, rec Record) bool {
	for _, tk := range rec.TileKeys {
		if err := q.kv.Delete(ctx, store.TilePrefix+tk); err != nil {
			logger.L().Error("pending_tile_delete_error", "event", eventID, "tile", tk, "err", err)
			return false
		}
		logger.L().Info("tile_cache_cleared", "tile", tk, "event", eventID)
	}
	if err := q.kv.Delete(ctx, store.PendingPrefix+eventID); err != nil {
		logger.L().Error("pending_record_delete_error", "event", eventID, "err", err)
		return false
	}
	metrics.PendingProcessedTotal.Inc()
	return true
}
