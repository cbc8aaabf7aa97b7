package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_requests_total",
		Help: "Total number of /mc_api requests",
	})
	RequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcapi_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	LocationsResolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_locations_resolved_total",
		Help: "Total locations resolved across all batches",
	})
	EmptyResultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_empty_results_total",
		Help: "Total locations resolved to an empty metro city name",
	})
	TileCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_tile_cache_hits_total",
		Help: "Total tile cache hits in the kv store",
	})
	TileCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_tile_cache_misses_total",
		Help: "Total tile cache misses causing an origin fetch",
	})
	OriginFetchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_origin_fetch_total",
		Help: "Total origin tile fetch attempts",
	})
	OriginFetchFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_origin_fetch_fail_total",
		Help: "Total origin tile fetch failures",
	})
	OriginFetchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcapi_origin_fetch_duration_ms",
		Help:    "Origin tile fetch duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
	})
	WebhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcapi_webhook_events_total",
		Help: "Webhook intake results by status",
	}, []string{"status"})
	PendingEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_pending_enqueued_total",
		Help: "Total pending deletion records enqueued",
	})
	PendingProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_pending_processed_total",
		Help: "Total pending deletion records processed to completion",
	})
	LockAcquireFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcapi_lock_acquire_fail_total",
		Help: "Lock acquisitions abandoned after the retry budget",
	}, []string{"key"})
	ReconTilesBackfilledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcapi_recon_tiles_backfilled_total",
		Help: "Tiles backfilled into the cache by the reconciliation loop",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(LocationsResolvedTotal)
	prometheus.MustRegister(EmptyResultsTotal)
	prometheus.MustRegister(TileCacheHitsTotal)
	prometheus.MustRegister(TileCacheMissesTotal)
	prometheus.MustRegister(OriginFetchTotal)
	prometheus.MustRegister(OriginFetchFailTotal)
	prometheus.MustRegister(OriginFetchDurationMs)
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(PendingEnqueuedTotal)
	prometheus.MustRegister(PendingProcessedTotal)
	prometheus.MustRegister(LockAcquireFailTotal)
	prometheus.MustRegister(ReconTilesBackfilledTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
