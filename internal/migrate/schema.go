// 包 migrate：统计库表结构自举
package migrate

import "database/sql"

// EnsureSchema：幂等建表
// 背景：部署无独立迁移工具，启动时确保统计表存在即可；业务状态全部在键值服务，不落关系库
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _mc_stats_total (
            id INT PRIMARY KEY,
            total_locations BIGINT NOT NULL DEFAULT 0,
            total_requests BIGINT NOT NULL DEFAULT 0
        )`,
		`INSERT INTO _mc_stats_total(id) VALUES(1) ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS _mc_stats_daily (
            day DATE PRIMARY KEY,
            locations BIGINT NOT NULL DEFAULT 0,
            requests BIGINT NOT NULL DEFAULT 0
        )`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
