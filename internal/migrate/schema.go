// 包 migrate：首次运行自动建表
package migrate

import (
	"context"
	"database/sql"

	"bounty-overlay/internal/logger"
)

// schema：赏金蜂窝快照与刷新记录
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突
var schema = []string{
	`CREATE TABLE IF NOT EXISTS _bounty_cells (
        idx TEXT PRIMARY KEY,
        devices_accepted INT NOT NULL DEFAULT 0,
        total_rewards DOUBLE PRECISION NOT NULL DEFAULT 0,
        activation_period_start TEXT NOT NULL DEFAULT '',
        activation_period_end TEXT NOT NULL DEFAULT '',
        distribution_period_in_days INT NOT NULL DEFAULT 0,
        center_lat DOUBLE PRECISION NOT NULL,
        center_lon DOUBLE PRECISION NOT NULL,
        polygon JSONB NOT NULL DEFAULT '[]',
        country_code TEXT NOT NULL DEFAULT '',
        country_name TEXT NOT NULL DEFAULT '',
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_bounty_cells_country ON _bounty_cells(country_code)`,
	`CREATE TABLE IF NOT EXISTS _bounty_refresh_log (
        id SERIAL PRIMARY KEY,
        source TEXT NOT NULL,
        cells INT NOT NULL,
        refreshed_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
}

// EnsureSchema：按顺序执行建表语句，任一失败即返回
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range schema {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
