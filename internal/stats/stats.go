// 包 stats：请求统计（累计/当日解析点数与请求数）
// 背景：状态端点展示运行时长与服务量；配置了 PostgreSQL 时统计跨重启持久化，
// 未配置时退化为进程内计数，不影响主链路。
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cafread/metrocity-api/internal/logger"
)

// Stats：统计聚合器
type Stats struct {
	db    *sql.DB // 可为 nil
	start time.Time

	mu     sync.Mutex
	served int64
	reqs   int64
}

func New(db *sql.DB) *Stats { return &Stats{db: db, start: time.Now()} }

// Record：一次成功批量解析后记账
// 约束：数据库写入尽力而为，失败只记日志
func (s *Stats) Record(ctx context.Context, served int) {
	s.mu.Lock()
	s.served += int64(served)
	s.reqs++
	s.mu.Unlock()
	if s.db == nil {
		return
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE _mc_stats_total SET total_locations=total_locations+$1, total_requests=total_requests+1 WHERE id=1", served); err != nil {
		logger.L().Warn("stats_total_write_error", "err", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO _mc_stats_daily(day, locations, requests) VALUES(current_date, $1, 1)
        ON CONFLICT (day) DO UPDATE SET locations=_mc_stats_daily.locations+$1, requests=_mc_stats_daily.requests+1`, served); err != nil {
		logger.L().Warn("stats_daily_write_error", "err", err)
	}
}

// Totals：读取累计解析点数与请求数（优先数据库）
func (s *Stats) Totals(ctx context.Context) (int64, int64) {
	if s.db != nil {
		var served, reqs int64
		row := s.db.QueryRowContext(ctx, "SELECT total_locations, total_requests FROM _mc_stats_total WHERE id=1")
		if err := row.Scan(&served, &reqs); err == nil {
			return served, reqs
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served, s.reqs
}

// StatusLine：人类可读的运行状态行
func (s *Stats) StatusLine(ctx context.Context) string {
	up := time.Since(s.start)
	days := int(up.Hours()) / 24
	hrs := int(up.Hours()) % 24
	mins := int(up.Minutes()) % 60
	secs := int(up.Seconds()) % 60
	served, reqs := s.Totals(ctx)
	return fmt.Sprintf("Server has been up for %d days, %d hours, %d minutes, %d seconds. %d locations served via %d requests",
		days, hrs, mins, secs, served, reqs)
}
