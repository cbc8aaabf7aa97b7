// tile-warm：离线预热工具——把主集合中所有未缓存的瓦片拉取编码后写入键值服务
// 背景：新环境或清空缓存后，用本工具一次性预热，避免首批请求全部回源
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/cafread/metrocity-api/internal/cache"
	"github.com/cafread/metrocity-api/internal/changelog"
	"github.com/cafread/metrocity-api/internal/lock"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/origin"
	"github.com/cafread/metrocity-api/internal/refdata"
	"github.com/cafread/metrocity-api/internal/store"
	"github.com/cafread/metrocity-api/internal/tile"
	"github.com/cafread/metrocity-api/internal/utils"
)

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	delayMs := flag.Int("delay-ms", 400, "delay between tile fetches")
	flag.Parse()

	ctx := context.Background()
	ref, err := refdata.Load(ctx)
	if err != nil {
		l.Error("refdata_load_error", "err", err)
		os.Exit(1)
	}
	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Error("redis_required", "hint", "set REDIS_HOST; warming a memory store is pointless")
		os.Exit(1)
	}
	kv := store.NewRedisKV(rc)
	lk := lock.New(kv)
	chlog := changelog.New(kv, lk, ref)
	mgr := cache.NewManager(kv, origin.NewFromEnv(), ref, tile.NewCodec(ref), chlog)

	cached, err := mgr.CachedTileKeys(ctx)
	if err != nil {
		l.Error("cache_scan_error", "err", err)
		os.Exit(1)
	}
	warmed, failed := 0, 0
	for _, tk := range ref.TileKeyList {
		if _, ok := cached[tk]; ok {
			continue
		}
		if _, err := mgr.ReadTile(ctx, tk, nil); err != nil {
			l.Error("warm_tile_error", "tile", tk, "err", err)
			failed++
		} else {
			warmed++
		}
		time.Sleep(time.Duration(*delayMs) * time.Millisecond)
	}
	l.Info("warm_done", "warmed", warmed, "failed", failed, "already", len(cached))
}
