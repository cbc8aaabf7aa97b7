package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cafread/metrocity-api/internal/changelog"
	"github.com/cafread/metrocity-api/internal/logger"
	"github.com/cafread/metrocity-api/internal/metrics"
	"github.com/cafread/metrocity-api/internal/refdata"
	"github.com/cafread/metrocity-api/internal/resolve"
	"github.com/cafread/metrocity-api/internal/stats"
	"github.com/cafread/metrocity-api/internal/store"
	"github.com/cafread/metrocity-api/internal/version"
	"github.com/cafread/metrocity-api/internal/webhook"
)

const infoURL = "https://github.com/cafread/metrocity-api"

// Deps：路由依赖集合
type Deps struct {
	Resolver *resolve.Resolver
	Intake   *webhook.Intake
	Chlog    *changelog.Tracker
	Ref      *refdata.Set
	Stats    *stats.Stats
	KV       store.KV
}

// BuildRoutes：构建并返回 API 路由
// 背景：独立 ServeMux 便于在主入口挂载与测试注入；批量上限由 REQ_LIMIT 配置
func BuildRoutes(d Deps) *http.ServeMux {
	reqLimit := 1000000
	if s := os.Getenv("REQ_LIMIT"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			reqLimit = n
		}
	}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /mc_api", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		start := time.Now()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Invalid request data", http.StatusBadRequest)
			return
		}
		batch, rej := parseBatch(body, reqLimit)
		if rej != nil {
			http.Error(w, rej.msg, rej.status)
			return
		}
		// 空批次跑演练数据，等价于健康检查
		if len(batch) == 0 {
			batch = testData
		}
		result := d.Resolver.Resolve(r.Context(), batch)
		w.Header().Set("content-type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(result)
		d.Stats.Record(r.Context(), len(result))
		metrics.RequestDurationMs.Observe(float64(time.Since(start).Milliseconds()))
		logger.L().Info("mc_api_done", "locations", len(result), "duration_ms", time.Since(start).Milliseconds())
	})

	mux.HandleFunc("POST /github-webhook", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Invalid request data", http.StatusBadRequest)
			return
		}
		if !d.Intake.VerifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
			logger.L().Warn("webhook_signature_invalid", "ip", r.RemoteAddr)
			metrics.WebhookEventsTotal.WithLabelValues("unauthorized").Inc()
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		var p webhook.Payload
		if err := json.Unmarshal(body, &p); err != nil {
			metrics.WebhookEventsTotal.WithLabelValues("malformed").Inc()
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if err := d.Intake.Process(r.Context(), p); err != nil {
			logger.L().Error("webhook_process_error", "err", err)
			metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.WebhookEventsTotal.WithLabelValues("ok").Inc()
		}
		// 立即应答，不等待延迟删除
		_, _ = w.Write([]byte("Webhook processed"))
	})

	mux.HandleFunc("GET /changelog", func(w http.ResponseWriter, r *http.Request) {
		tiles, err := d.Chlog.ReadTileLog(r.Context())
		if err != nil {
			logger.L().Error("changelog_tiles_read_error", "err", err)
			http.Error(w, "changelog unavailable", http.StatusServiceUnavailable)
			return
		}
		cities, err := d.Chlog.ReadCityLog(r.Context())
		if err != nil {
			logger.L().Error("changelog_cities_read_error", "err", err)
			http.Error(w, "changelog unavailable", http.StatusServiceUnavailable)
			return
		}
		names := make(map[string]string, len(d.Ref.Cities))
		for id, c := range d.Ref.Cities {
			names[strconv.Itoa(id)] = c.Name
		}
		w.Header().Set("content-type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tiles": tiles,
			"mcids": cities,
			"names": names,
		})
	})

	mux.HandleFunc("GET /cache", func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.KV.List(r.Context(), store.TilePrefix)
		if err != nil {
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "Cached %d of %d tiles", len(entries), len(d.Ref.TileKeyList))
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(d.Stats.StatusLine(r.Context())))
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(infoURL))
	})

	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "%s (%s)", version.Release, version.Commit)
	})

	// 兜底：未知路由按方法回 501，与既有客户端约定保持一致
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.Error(w, "Unknown get route", http.StatusNotImplemented)
		case http.MethodPost:
			http.Error(w, "Unknown post route", http.StatusNotImplemented)
		default:
			http.Error(w, "Request type not accepted", http.StatusNotImplemented)
		}
	})

	return mux
}
