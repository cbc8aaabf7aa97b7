// 包 changelog：瓦片与城市的最后变更时间日志
// 背景：下游按此日志轮询增量变化；每次更新整体重建，保证对主键集合 100% 覆盖，
// 即使主集合本身发生增删也不会出现缺键。更新低频且批量，O(全集) 重建可接受。
package changelog

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cafread/metrocity-api/internal/lock"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/refdata"
	"github.com/cafread/metrocity-api/internal/store"
)

// DefaultEpochMs：从未更新过的实体的哨兵时间戳（2020-01-01T00:00:00Z）
// 约束：多个组件依赖该值保持重建语义一致，必须全局唯一定义
const DefaultEpochMs int64 = 1577836800000

const (
	tileLockName = "changelog_tiles"
	cityLockName = "changelog_cities"
)

// Tracker：变更日志维护者
// 背景：读-改-写周期由分布式锁串行化，两个并发更新者不会互相覆盖对方合并的旧时间戳
type Tracker struct {
	kv  store.KV
	lk  *lock.Locker
	ref *refdata.Set
	now func() time.Time
}

func New(kv store.KV, lk *lock.Locker, ref *refdata.Set) *Tracker {
	return &Tracker{kv: kv, lk: lk, ref: ref, now: time.Now}
}

// SetClock：测试注入时钟
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// RecordTileChange：重建瓦片日志，changed 中的键盖为当前时间
// 返回：取锁失败时跳过本轮（记日志，返回 nil）；存储错误原样返回
func (t *Tracker) RecordTileChange(ctx context.Context, changed map[string]struct{}) error {
	if !t.lk.AcquireWithRetry(ctx, tileLockName, lock.DefaultTTL, lock.DefaultAttempts) {
		logger.L().Warn("changelog_tiles_skipped", "reason", "lock_unavailable")
		return nil
	}
	defer t.lk.Release(ctx, tileLockName)
	prev, err := t.readRaw(ctx, store.ChangelogTilesKey)
	if err != nil {
		return err
	}
	nowMs := t.now().UnixMilli()
	next := make(map[string]int64, len(t.ref.TileKeyList))
	for _, k := range t.ref.TileKeyList {
		next[k] = rebuildStamp(k, changedHasString(changed, k), prev, nowMs)
	}
	return t.writeRaw(ctx, store.ChangelogTilesKey, next)
}

// RecordCityChange：重建城市日志，changed 中的 id 盖为当前时间
func (t *Tracker) RecordCityChange(ctx context.Context, changed map[int]struct{}) error {
	if !t.lk.AcquireWithRetry(ctx, cityLockName, lock.DefaultTTL, lock.DefaultAttempts) {
		logger.L().Warn("changelog_cities_skipped", "reason", "lock_unavailable")
		return nil
	}
	defer t.lk.Release(ctx, cityLockName)
	prev, err := t.readRaw(ctx, store.ChangelogCityKey)
	if err != nil {
		return err
	}
	nowMs := t.now().UnixMilli()
	next := make(map[string]int64, len(t.ref.Cities))
	for id := range t.ref.Cities {
		k := strconv.Itoa(id)
		_, isChanged := changed[id]
		next[k] = rebuildStamp(k, isChanged, prev, nowMs)
	}
	return t.writeRaw(ctx, store.ChangelogCityKey, next)
}

// rebuildStamp：单键重建规则
// 背景：变更键盖当前时间；未变更键沿用旧值；首轮重建（日志尚不存在）全集盖当前时间，
// 此后新加入主集合的键以哨兵时间戳入场，下游可据此识别"从未更新过"
func rebuildStamp(key string, isChanged bool, prev map[string]int64, nowMs int64) int64 {
	if isChanged || prev == nil {
		return nowMs
	}
	if ts, ok := prev[key]; ok {
		return ts
	}
	return DefaultEpochMs
}

// ReadTileLog：读取瓦片日志；不存在时以空变更集惰性初始化
func (t *Tracker) ReadTileLog(ctx context.Context) (map[string]int64, error) {
	m, err := t.readRaw(ctx, store.ChangelogTilesKey)
	if err != nil {
		return nil, err
	}
	if m == nil {
		if err := t.RecordTileChange(ctx, nil); err != nil {
			return nil, err
		}
		m, err = t.readRaw(ctx, store.ChangelogTilesKey)
		if err != nil {
			return nil, err
		}
	}
	if m == nil {
		// 惰性初始化因锁被占而跳过，本次返回空集而非空白日志
		logger.L().Warn("changelog_tiles_uninitialized", "reason", "lock_unavailable")
		m = map[string]int64{}
	}
	return m, nil
}

// ReadCityLog：读取城市日志；不存在时以空变更集惰性初始化
func (t *Tracker) ReadCityLog(ctx context.Context) (map[string]int64, error) {
	m, err := t.readRaw(ctx, store.ChangelogCityKey)
	if err != nil {
		return nil, err
	}
	if m == nil {
		if err := t.RecordCityChange(ctx, nil); err != nil {
			return nil, err
		}
		m, err = t.readRaw(ctx, store.ChangelogCityKey)
		if err != nil {
			return nil, err
		}
	}
	if m == nil {
		// 惰性初始化因锁被占而跳过，本次返回空集而非空白日志
		logger.L().Warn("changelog_cities_uninitialized", "reason", "lock_unavailable")
		m = map[string]int64{}
	}
	return m, nil
}

func (t *Tracker) readRaw(ctx context.Context, key string) (map[string]int64, error) {
	v, ok, err := t.kv.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var m map[string]int64
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		logger.L().Error("changelog_decode_error", "key", key, "err", err)
		return nil, nil // 损坏视为不存在，下一次重建即修复
	}
	return m, nil
}

func (t *Tracker) writeRaw(ctx context.Context, key string, m map[string]int64) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return t.kv.Set(ctx, key, string(b), 0)
}

func changedHasString(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}
