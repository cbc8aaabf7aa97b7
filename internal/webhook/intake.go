// 包 webhook：上游变更通知的失效引导
// 背景：上游内容仓库推送提交载荷（GitHub webhook），此处翻译为受影响的瓦片键与城市 id 集合，
// 入队延迟删除并更新变更日志。签名采用 HMAC-SHA256 常量时间比对。
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cafread/metrocity-api/internal/cache"
	"github.com/cafread/metrocity-api/internal/changelog"
	"github.com/cafread/metrocity-api/internal/geo"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/pending"
	"github.com/cafread/metrocity-api/internal/refdata"
)

const tilePathPrefix = "tiles/"

// Commit：载荷中的单个提交
type Commit struct {
	ID       string   `json:"id"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
	Patch    string   `json:"patch"`
}

// Payload：变更通知载荷
type Payload struct {
	Commits []Commit `json:"commits"`
}

// Intake：失效引导器
type Intake struct {
	secret string
	chlog  *changelog.Tracker
	queue  *pending.Queue
	mgr    *cache.Manager
	delay  time.Duration
}

func New(secret string, chlog *changelog.Tracker, queue *pending.Queue, mgr *cache.Manager, delay time.Duration) *Intake {
	if delay <= 0 {
		delay = pending.DefaultDelay
	}
	return &Intake{secret: secret, chlog: chlog, queue: queue, mgr: mgr, delay: delay}
}

// VerifySignature：校验 X-Hub-Signature-256 头
// 约束：未配置密钥或头缺失一律拒绝；比对必须常量时间
func (i *Intake) VerifySignature(body []byte, sigHeader string) bool {
	if i.secret == "" || sigHeader == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(i.secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(sigHeader))
}

// Process：处理一份已验证的载荷
// 背景：瓦片集合非空时入队延迟删除（在途读取仍可命中旧瓦片）并更新瓦片日志；
// 城市 id 变化立即写城市日志——日志只是咨询性元数据，无需延迟。
func (i *Intake) Process(ctx context.Context, p Payload) error {
	changedTiles := make(map[string]struct{})
	changedCities := make(map[int]struct{})
	for _, c := range p.Commits {
		// 新增与修改同样处理：受影响瓦片在延迟删除后按需重新回源
		for _, f := range append(append([]string{}, c.Added...), c.Modified...) {
			i.collectFromPath(ctx, f, c.Patch, changedTiles)
		}
		for _, f := range c.Removed {
			i.collectFromPath(ctx, f, c.Patch, changedTiles)
			// 被移除的瓦片可能让其覆盖的城市失去一块独立覆盖，从缓存调色板恢复 id 集合
			if tk, ok := tileKeyFromPath(f); ok {
				ids, found, err := i.mgr.CachedPalette(ctx, tk)
				if err != nil {
					logger.L().Error("webhook_palette_read_error", "tile", tk, "err", err)
					continue
				}
				if found {
					for _, id := range ids {
						if id != 0 {
							changedCities[id] = struct{}{}
						}
					}
				}
			}
		}
	}
	if len(changedTiles) > 0 {
		keys := make([]string, 0, len(changedTiles))
		for k := range changedTiles {
			keys = append(keys, k)
		}
		eventID := eventIDOf(p)
		if err := i.queue.Enqueue(ctx, eventID, keys, i.delay, "webhook commit "+eventID); err != nil {
			logger.L().Error("webhook_enqueue_error", "event", eventID, "err", err)
		}
		if err := i.chlog.RecordTileChange(ctx, changedTiles); err != nil {
			logger.L().Error("webhook_tile_changelog_error", "err", err)
		}
	}
	if len(changedCities) > 0 {
		if err := i.chlog.RecordCityChange(ctx, changedCities); err != nil {
			logger.L().Error("webhook_city_changelog_error", "err", err)
		}
	}
	logger.L().Info("webhook_processed", "tiles", len(changedTiles), "cities", len(changedCities))
	return nil
}

// collectFromPath：单个文件路径 → 受影响瓦片键
func (i *Intake) collectFromPath(_ context.Context, path, patch string, tiles map[string]struct{}) {
	if tk, ok := tileKeyFromPath(path); ok {
		tiles[tk] = struct{}{}
		return
	}
	switch path {
	case refdata.CityDataFile:
		for _, line := range diffLines(patch) {
			var rec struct {
				La float64 `json:"la"`
				Lo float64 `json:"lo"`
			}
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				// 单行解析失败只记日志，不中断其余提交的处理
				logger.L().Warn("webhook_diff_parse_error", "line", line)
				continue
			}
			if tk := geo.TileKeyOf(geo.Project(rec.La, rec.Lo)); geo.IsValidTileKey(tk) {
				tiles[tk] = struct{}{}
			}
		}
	case refdata.MastTileKeysFile:
		for _, line := range diffLines(patch) {
			tk := line
			// 行通常是带引号的 JSON 字符串字面量
			var s string
			if err := json.Unmarshal([]byte(line), &s); err == nil {
				tk = s
			}
			if geo.IsValidTileKey(tk) {
				tiles[tk] = struct{}{}
			}
		}
	}
}

// tileKeyFromPath：瓦片图片路径 → 瓦片键
func tileKeyFromPath(path string) (string, bool) {
	if !strings.HasPrefix(path, tilePathPrefix) || !strings.HasSuffix(path, ".png") {
		return "", false
	}
	parts := strings.Split(path, "/")
	tk := strings.TrimSuffix(parts[len(parts)-1], ".png")
	return tk, geo.IsValidTileKey(tk)
}

// diffLines：统一 diff 文本 → 增删行内容（去掉 +/- 前缀与行尾逗号）
func diffLines(patch string) []string {
	var out []string
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if !strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "-") {
			continue
		}
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line[1:]), ","))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// eventIDOf：载荷的稳定标识——首提交 id；缺失时退化为随机 id（失去幂等去重，但不阻断处理）
func eventIDOf(p Payload) string {
	for _, c := range p.Commits {
		if c.ID != "" {
			return c.ID
		}
	}
	return uuid.NewString()
}
