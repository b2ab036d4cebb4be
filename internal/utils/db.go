// 包 utils：数据库与 Redis 连接工具
package utils

import (
	"context"
	"database/sql"
	"time"

	"bounty-overlay/internal/config"
	"bounty-overlay/internal/logger"

	_ "github.com/lib/pq"
)

// OpenPostgres：按配置打开连接池并做一次连通性检查
// 约束：未启用时返回 nil, nil；调用方据此跳过持久化
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.L().Debug("postgres_open", "host", cfg.Host, "port", cfg.Port, "db", cfg.DB)
	return db, nil
}
