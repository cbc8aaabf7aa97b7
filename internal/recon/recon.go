// 包 recon：启动与周期性对账——重放到期的待删除记录，发现并回填缓存缺口
package recon

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/cafread/metrocity-api/internal/cache"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/metrics"
	"github.com/cafread/metrocity-api/internal/pending"
	"github.com/cafread/metrocity-api/internal/refdata"
)

const (
	defaultTileDelay     = 400 * time.Millisecond
	defaultSweepInterval = time.Minute
)

// Loop：对账循环
// 背景：与请求流量相互独立；缺口回填逐瓦片串行并带固定间隔，避免并发轰击上游
type Loop struct {
	mgr       *cache.Manager
	queue     *pending.Queue
	ref       *refdata.Set
	tileDelay time.Duration
	sweepEach time.Duration
}

// NewFromEnv：按环境变量构建（RECON_TILE_DELAY_MS / RECON_SWEEP_INTERVAL_S）
func NewFromEnv(mgr *cache.Manager, queue *pending.Queue, ref *refdata.Set) *Loop {
	l := &Loop{mgr: mgr, queue: queue, ref: ref, tileDelay: defaultTileDelay, sweepEach: defaultSweepInterval}
	if s := os.Getenv("RECON_TILE_DELAY_MS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			l.tileDelay = time.Duration(n) * time.Millisecond
		}
	}
	if s := os.Getenv("RECON_SWEEP_INTERVAL_S"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			l.sweepEach = time.Duration(n) * time.Second
		}
	}
	return l
}

// Start：后台运行（启动清扫 + 缺口回填，随后周期清扫）
func (l *Loop) Start(ctx context.Context) {
	go func() {
		l.Sweep(ctx)
		l.Backfill(ctx)
		t := time.NewTicker(l.sweepEach)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep(ctx)
			}
		}
	}()
}

// Sweep：执行一轮到期待删除重放
func (l *Loop) Sweep(ctx context.Context) {
	n, err := l.queue.ProcessDue(ctx)
	if err != nil {
		logger.L().Error("recon_sweep_error", "err", err)
		return
	}
	if n > 0 {
		logger.L().Info("recon_sweep_done", "processed", n)
	}
}

// Backfill：发现主集合中未入缓存的瓦片并节流回填
// 约束：逐瓦片串行，每片之间固定延迟；单片失败记日志后继续
func (l *Loop) Backfill(ctx context.Context) {
	cached, err := l.mgr.CachedTileKeys(ctx)
	if err != nil {
		logger.L().Error("recon_gap_scan_error", "err", err)
		return
	}
	var missing []string
	for _, tk := range l.ref.TileKeyList {
		if _, ok := cached[tk]; !ok {
			missing = append(missing, tk)
		}
	}
	if len(missing) == 0 {
		logger.L().Info("recon_cache_complete", "tiles", len(l.ref.TileKeyList))
		return
	}
	logger.L().Info("recon_backfill_begin", "missing", len(missing))
	for _, tk := range missing {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := l.mgr.ReadTile(ctx, tk, nil); err != nil {
			logger.L().Error("recon_backfill_tile_error", "tile", tk, "err", err)
		} else {
			metrics.ReconTilesBackfilledTotal.Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.tileDelay):
		}
	}
	logger.L().Info("recon_backfill_done", "tiles", len(missing))
}
