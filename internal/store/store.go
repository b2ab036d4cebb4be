// 包 store：赏金蜂窝快照的 PostgreSQL 持久化
// 背景：上游 API 不可用时以最近一次成功快照继续服务；工具命令也由此读写。
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/logger"
)

// Store：数据库访问入口
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close：关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

const insertCell = `INSERT INTO _bounty_cells(idx, devices_accepted, total_rewards, activation_period_start,
        activation_period_end, distribution_period_in_days, center_lat, center_lon, polygon, country_code, country_name)
    VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    ON CONFLICT (idx) DO UPDATE SET devices_accepted=EXCLUDED.devices_accepted, total_rewards=EXCLUDED.total_rewards,
        activation_period_start=EXCLUDED.activation_period_start, activation_period_end=EXCLUDED.activation_period_end,
        distribution_period_in_days=EXCLUDED.distribution_period_in_days, center_lat=EXCLUDED.center_lat,
        center_lon=EXCLUDED.center_lon, polygon=EXCLUDED.polygon, country_code=EXCLUDED.country_code,
        country_name=EXCLUDED.country_name, updated_at=now()`

// ReplaceCells：以单个事务整体替换快照并记录刷新来源
// 约束：任一写入失败即回滚，保留旧快照
func (s *Store) ReplaceCells(ctx context.Context, source string, cells []bounty.Cell) error {
	t0 := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "DELETE FROM _bounty_cells"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertCell)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range cells {
		poly, err := json.Marshal(c.Polygon)
		if err != nil {
			return fmt.Errorf("store: encode polygon %s: %w", c.Index, err)
		}
		if _, err := stmt.ExecContext(ctx, c.Index, c.DevicesAccepted, c.TotalRewards, c.ActivationPeriodStart,
			c.ActivationPeriodEnd, c.DistributionPeriodInDays, c.Center.Lat, c.Center.Lon, string(poly),
			c.CountryCode, c.CountryName); err != nil {
			return fmt.Errorf("store: insert cell %s: %w", c.Index, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO _bounty_refresh_log(source, cells) VALUES($1,$2)", source, len(cells)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Info("store_cells_replaced", "source", source, "cells", len(cells), "duration_ms", time.Since(t0).Milliseconds())
	return nil
}

// LoadCells：读取当前快照，按索引排序
func (s *Store) LoadCells(ctx context.Context) ([]bounty.Cell, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx, devices_accepted, total_rewards, activation_period_start,
        activation_period_end, distribution_period_in_days, center_lat, center_lon, polygon, country_code, country_name
        FROM _bounty_cells ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bounty.Cell
	for rows.Next() {
		var c bounty.Cell
		var poly []byte
		if err := rows.Scan(&c.Index, &c.DevicesAccepted, &c.TotalRewards, &c.ActivationPeriodStart,
			&c.ActivationPeriodEnd, &c.DistributionPeriodInDays, &c.Center.Lat, &c.Center.Lon, &poly,
			&c.CountryCode, &c.CountryName); err != nil {
			return nil, err
		}
		if len(poly) > 0 {
			if err := json.Unmarshal(poly, &c.Polygon); err != nil {
				logger.L().Warn("store_polygon_decode_fail", "idx", c.Index, "err", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.L().Debug("store_cells_loaded", "cells", len(out))
	return out, nil
}

// RefreshInfo：最近一次刷新记录
type RefreshInfo struct {
	Source      string    `json:"source"`
	Cells       int       `json:"cells"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// LastRefresh：读取最近刷新记录；无记录时返回 nil, nil
func (s *Store) LastRefresh(ctx context.Context) (*RefreshInfo, error) {
	row := s.db.QueryRowContext(ctx, "SELECT source, cells, refreshed_at FROM _bounty_refresh_log ORDER BY id DESC LIMIT 1")
	var r RefreshInfo
	if err := row.Scan(&r.Source, &r.Cells, &r.RefreshedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}
