// 包 cache：瓦片缓存编排（查缓存 → 未命中回源 → 编码落盘 → 更新变更日志）
package cache

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cafread/metrocity-api/internal/changelog"
	"github.com/cafread/metrocity-api/internal/geo"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/metrics"
	"github.com/cafread/metrocity-api/internal/refdata"
	"github.com/cafread/metrocity-api/internal/store"
	"github.com/cafread/metrocity-api/internal/tile"
)

// Origin：上游瓦片拉取协作方（internal/origin 为生产实现）
type Origin interface {
	FetchTile(ctx context.Context, tileKey string) ([]byte, error)
}

// Target：投影后的单个查询点（瓦片内坐标 + 请求方国家码）
type Target struct {
	ID string
	X  int
	Y  int
	CC string
}

// Result：单点解析结果
type Result struct {
	ID string
	MC string
}

// Manager：瓦片缓存管理器
// 背景：同一瓦片的并发未命中不做进程内去重——落盘写是幂等的（内容等价，后写者胜），
// 重复回源只是可容忍的低效而非正确性问题。
type Manager struct {
	kv     store.KV
	origin Origin
	ref    *refdata.Set
	codec  *tile.Codec
	chlog  *changelog.Tracker
}

func NewManager(kv store.KV, origin Origin, ref *refdata.Set, codec *tile.Codec, chlog *changelog.Tracker) *Manager {
	return &Manager{kv: kv, origin: origin, ref: ref, codec: codec, chlog: chlog}
}

// ReadTile：读取单瓦片并解析其上所有查询点
// 背景：不在主集合内的瓦片键（含空串）不做任何 I/O，全部点解析为空名；
// 回源失败原样返回错误，由上层把该瓦片的点降级为空名。
func (m *Manager) ReadTile(ctx context.Context, tileKey string, locations []Target) ([]Result, error) {
	if !m.ref.HasTile(tileKey) {
		return emptyResults(locations), nil
	}
	entry, err := m.loadOrFill(ctx, tileKey)
	if err != nil {
		return nil, err
	}
	mcids, err := tile.Decode(entry)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(locations))
	for _, loc := range locations {
		mcid := mcids[loc.Y*geo.TileSize+loc.X]
		mcn := m.ref.CityName(mcid)
		if mcn == "" || loc.CC == "" {
			out = append(out, Result{ID: loc.ID, MC: mcn})
			continue
		}
		mcCC := mcn
		if len(mcn) > 2 {
			mcCC = mcn[len(mcn)-2:]
		}
		out = append(out, Result{ID: loc.ID, MC: geo.ValidateBorder(loc.CC, mcCC, mcn)})
	}
	return out, nil
}

// loadOrFill：缓存读取，未命中则回源填充
func (m *Manager) loadOrFill(ctx context.Context, tileKey string) (tile.CacheEntry, error) {
	key := store.TilePrefix + tileKey
	v, ok, err := m.kv.Get(ctx, key)
	if err != nil {
		return tile.CacheEntry{}, err
	}
	if ok {
		var entry tile.CacheEntry
		if err := json.Unmarshal([]byte(v), &entry); err == nil {
			metrics.TileCacheHitsTotal.Inc()
			return entry, nil
		}
		// 损坏条目按未命中处理，回源重建即覆盖
		logger.L().Warn("tile_cache_corrupt", "tile", tileKey)
	}
	metrics.TileCacheMissesTotal.Inc()
	pixels, err := m.origin.FetchTile(ctx, tileKey)
	if err != nil {
		return tile.CacheEntry{}, err
	}
	entry, err := m.codec.Encode(pixels)
	if err != nil {
		return tile.CacheEntry{}, err
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return tile.CacheEntry{}, err
	}
	if err := m.kv.Set(ctx, key, string(b), 0); err != nil {
		return tile.CacheEntry{}, err
	}
	logger.L().Info("tile_cached", "tile", tileKey, "palette", len(entry.IDMap))
	// 回源填充是发现"新"城市覆盖的唯一路径：非零调色板 id 记入城市日志，本键记入瓦片日志
	cityChanged := make(map[int]struct{}, len(entry.IDMap))
	for _, id := range entry.IDMap {
		if id != 0 {
			cityChanged[id] = struct{}{}
		}
	}
	if len(cityChanged) > 0 {
		if err := m.chlog.RecordCityChange(ctx, cityChanged); err != nil {
			logger.L().Error("changelog_city_update_error", "tile", tileKey, "err", err)
		}
	}
	if err := m.chlog.RecordTileChange(ctx, map[string]struct{}{tileKey: {}}); err != nil {
		logger.L().Error("changelog_tile_update_error", "tile", tileKey, "err", err)
	}
	return entry, nil
}

// CachedPalette：读取已缓存瓦片的调色板（不触发回源）
// 背景：webhook 处理"瓦片被移除"时借此恢复其曾覆盖的城市 id 集合
func (m *Manager) CachedPalette(ctx context.Context, tileKey string) ([]int, bool, error) {
	v, ok, err := m.kv.Get(ctx, store.TilePrefix+tileKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var entry tile.CacheEntry
	if err := json.Unmarshal([]byte(v), &entry); err != nil {
		return nil, false, nil
	}
	return entry.IDMap, true, nil
}

// CachedTileKeys：枚举当前已缓存的瓦片键集合
func (m *Manager) CachedTileKeys(ctx context.Context) (map[string]struct{}, error) {
	entries, err := m.kv.List(ctx, store.TilePrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[strings.TrimPrefix(e.Key, store.TilePrefix)] = struct{}{}
	}
	return out, nil
}

func emptyResults(locations []Target) []Result {
	out := make([]Result, 0, len(locations))
	for _, loc := range locations {
		out = append(out, Result{ID: loc.ID, MC: ""})
	}
	return out
}
