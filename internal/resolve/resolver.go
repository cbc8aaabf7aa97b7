// 包 resolve：批量请求的顶层编排——投影、按瓦片分组、并发扇出、合并结果
package resolve

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cafread/metrocity-api/internal/cache"
	"github.com/cafread/metrocity-api/internal/geo"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/metrics"
)

// Input：校验后的单条查询记录（id 已归一化为字符串）
type Input struct {
	ID  string
	Lat float64
	Lon float64
	CC  string
}

// Resolver：批量解析器
type Resolver struct {
	mgr *cache.Manager
}

func New(mgr *cache.Manager) *Resolver { return &Resolver{mgr: mgr} }

// PrepData：投影并按瓦片键分组
// 背景：不可投影纬度产生空瓦片键，该组在读取层恒定解析为空名，无额外 I/O
func PrepData(in []Input) map[string][]cache.Target {
	out := make(map[string][]cache.Target)
	for _, d := range in {
		x, y := geo.Project(d.Lat, d.Lon)
		tileKey := geo.TileKeyOf(x, y)
		px, py := geo.PixelOffset(x, y)
		if tileKey == "" {
			px, py = 0, 0
		}
		out[tileKey] = append(out[tileKey], cache.Target{
			ID: d.ID,
			X:  px,
			Y:  py,
			CC: strings.ToUpper(d.CC),
		})
	}
	return out
}

// Resolve：解析一个批次
// 背景：每个去重后的瓦片键一个并发读取任务，全部完成后合并；
// 单瓦片读取失败降级为该瓦片全部点空名，不中断整批。
func (r *Resolver) Resolve(ctx context.Context, in []Input) map[string]string {
	grouped := PrepData(in)
	result := make(map[string]string, len(in))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for tileKey, locs := range grouped {
		tileKey, locs := tileKey, locs
		g.Go(func() error {
			res, err := r.mgr.ReadTile(gctx, tileKey, locs)
			if err != nil {
				logger.L().Error("tile_read_error", "tile", tileKey, "locations", len(locs), "err", err)
				res = make([]cache.Result, 0, len(locs))
				for _, loc := range locs {
					res = append(res, cache.Result{ID: loc.ID, MC: ""})
				}
			}
			mu.Lock()
			for _, rr := range res {
				result[rr.ID] = rr.MC
				if rr.MC == "" {
					metrics.EmptyResultsTotal.Inc()
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	metrics.LocationsResolvedTotal.Add(float64(len(result)))
	return result
}
