// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/cafread/metrocity-api/internal/api"
	"github.com/cafread/metrocity-api/internal/cache"
	"github.com/cafread/metrocity-api/internal/changelog"
	"github.com/cafread/metrocity-api/internal/lock"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/metrics"
	"github.com/cafread/metrocity-api/internal/middleware"
	"github.com/cafread/metrocity-api/internal/migrate"
	"github.com/cafread/metrocity-api/internal/origin"
	"github.com/cafread/metrocity-api/internal/pending"
	"github.com/cafread/metrocity-api/internal/recon"
	"github.com/cafread/metrocity-api/internal/refdata"
	"github.com/cafread/metrocity-api/internal/resolve"
	"github.com/cafread/metrocity-api/internal/stats"
	"github.com/cafread/metrocity-api/internal/store"
	"github.com/cafread/metrocity-api/internal/tile"
	"github.com/cafread/metrocity-api/internal/utils"
	"github.com/cafread/metrocity-api/internal/webhook"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	ctx := context.Background()

	// 主数据：启动装载一次，进程生命周期只读
	ref, err := refdata.Load(ctx)
	if err != nil {
		l.Error("refdata_load_error", "err", err)
		os.Exit(1)
	}

	// 键值服务：优先 Redis；未配置时回退进程内存储（单实例语义）
	var kv store.KV
	if rc := utils.OpenRedisFromEnv(); rc != nil {
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		kv = store.NewRedisKV(rc)
	} else {
		l.Info("redis_disabled", "fallback", "memory")
		kv = store.NewMemKV()
	}

	// 统计库：可选，缺失时统计退化为进程内计数
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		db = nil
	}
	if db != nil {
		if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
			db = nil
		} else if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			db = nil
		} else {
			l.Info("db_ready")
			defer db.Close()
		}
	}
	st := stats.New(db)

	lk := lock.New(kv)
	chlog := changelog.New(kv, lk, ref)
	codec := tile.NewCodec(ref)
	orig := origin.NewFromEnv()
	mgr := cache.NewManager(kv, orig, ref, codec, chlog)
	queue := pending.New(kv, lk)
	rv := resolve.New(mgr)

	delay := pending.DefaultDelay
	if s := os.Getenv("PENDING_DELETE_DELAY_S"); s != "" {
		if d, err := time.ParseDuration(s + "s"); err == nil && d > 0 {
			delay = d
		}
	}
	intake := webhook.New(os.Getenv("WEBHOOK_SECRET"), chlog, queue, mgr, delay)

	// 后台对账：启动即重放到期删除并回填缓存缺口，此后周期清扫
	recon.NewFromEnv(mgr, queue, ref).Start(ctx)

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(api.Deps{
		Resolver: rv,
		Intake:   intake,
		Chlog:    chlog,
		Ref:      ref,
		Stats:    st,
		KV:       kv,
	})
	mux.Handle("/", apiMux)
	mux.Handle("/metrics", metrics.Handler())

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_exit", "err", err)
	}
}
