package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/config"
	"tradecore/internal/store"
)

// DailyTracker 按交易日持久化账户权益、峰值回撤与止损次数，并判定是否停止开仓。
type DailyTracker struct {
	db     *sql.DB
	cfg    config.RiskConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewDailyTracker 创建日度跟踪器并初始化表结构。
func NewDailyTracker(db *sql.DB, cfg config.RiskConfig, logger *zap.Logger) (*DailyTracker, error) {
	if db == nil {
		return nil, errors.New("risk: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker := &DailyTracker{
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	if err := tracker.initSchema(); err != nil {
		return nil, err
	}
	return tracker, nil
}

func (t *DailyTracker) initSchema() error {
	err := store.Migrate(context.Background(), t.db, "risk_daily_v1",
		`CREATE TABLE IF NOT EXISTS risk_daily_equity (
			trading_date TEXT PRIMARY KEY,
			start_equity REAL NOT NULL,
			peak_equity REAL NOT NULL,
			current_equity REAL NOT NULL,
			stops INTEGER NOT NULL DEFAULT 0,
			halted INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS risk_halts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trading_date TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			equity REAL NOT NULL,
			loss_percent REAL NOT NULL
		);`,
	)
	if err != nil {
		return fmt.Errorf("risk: 初始化表结构失败: %w", err)
	}
	return nil
}

// Update 写入当前权益并累加本次新增的止损次数，返回当日状态。
// 当日亏损首次达到 MaxDailyLoss 时置为停止开仓，并记录一条停盘事件。
func (t *DailyTracker) Update(ctx context.Context, ts time.Time, equity float64, stops int) (DailyStatus, error) {
	date := tradingDay(ts, t.cfg.DailyLossResetHour)
	stamp := t.now().UTC().Format(time.RFC3339)

	var status DailyStatus
	err := t.withTx(ctx, func(tx *sql.Tx) error {
		prev, found, err := loadDay(ctx, tx, date)
		if err != nil {
			return err
		}
		if !found {
			prev = DailyStatus{TradingDate: date, StartEquity: equity, PeakEquity: equity}
		}

		status = prev
		status.CurrentEquity = equity
		status.Stops += stops
		if equity > status.PeakEquity {
			status.PeakEquity = equity
		}
		status.LossPercent = changeFrom(status.StartEquity, equity)
		status.Drawdown = -changeFrom(status.PeakEquity, equity)

		tripped := !status.Halted && t.cfg.MaxDailyLoss > 0 && status.StartEquity > 0 &&
			status.LossPercent <= -t.cfg.MaxDailyLoss
		if tripped {
			status.Halted = true
		}

		if err := saveDay(ctx, tx, status, found, stamp); err != nil {
			return err
		}
		if !tripped {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO risk_halts (trading_date, occurred_at, equity, loss_percent) VALUES (?, ?, ?, ?)`,
			date, stamp, equity, status.LossPercent,
		); err != nil {
			return fmt.Errorf("risk: 记录停止开仓事件失败: %w", err)
		}
		t.logger.Warn("当日亏损超过上限，停止开仓",
			zap.String("trading_date", date),
			zap.Float64("loss_percent", status.LossPercent),
			zap.Float64("max_daily_loss", t.cfg.MaxDailyLoss),
		)
		return nil
	})
	return status, err
}

// Halts 返回某交易日的停止开仓事件数。
func (t *DailyTracker) Halts(ctx context.Context, tradingDate string) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM risk_halts WHERE trading_date = ?`, tradingDate,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("risk: 查询停止开仓事件失败: %w", err)
	}
	return n, nil
}

func (t *DailyTracker) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("risk: 提交事务失败: %w", err)
	}
	return nil
}

func loadDay(ctx context.Context, tx *sql.Tx, date string) (DailyStatus, bool, error) {
	s := DailyStatus{TradingDate: date}
	var halted int
	err := tx.QueryRowContext(ctx,
		`SELECT start_equity, peak_equity, stops, halted FROM risk_daily_equity WHERE trading_date = ?`, date,
	).Scan(&s.StartEquity, &s.PeakEquity, &s.Stops, &halted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s, false, nil
	case err != nil:
		return s, false, fmt.Errorf("risk: 查询日度权益失败: %w", err)
	}
	s.Halted = halted == 1
	return s, true, nil
}

func saveDay(ctx context.Context, tx *sql.Tx, s DailyStatus, exists bool, stamp string) error {
	halted := 0
	if s.Halted {
		halted = 1
	}
	var err error
	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE risk_daily_equity SET peak_equity = ?, current_equity = ?, stops = ?, halted = ?, updated_at = ?
			 WHERE trading_date = ?`,
			s.PeakEquity, s.CurrentEquity, s.Stops, halted, stamp, s.TradingDate,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO risk_daily_equity (trading_date, start_equity, peak_equity, current_equity, stops, halted, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.TradingDate, s.StartEquity, s.PeakEquity, s.CurrentEquity, s.Stops, halted, stamp,
		)
	}
	if err != nil {
		return fmt.Errorf("risk: 写入日度权益失败: %w", err)
	}
	return nil
}

// changeFrom 返回 to 相对 from 的变化率，from 非正时为0。
func changeFrom(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from
}

// tradingDay 返回 ts 所属的交易日，交易日在 UTC resetHour 点切换。
func tradingDay(ts time.Time, resetHour int) string {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	shifted := ts.UTC().Add(-time.Duration(resetHour) * time.Hour)
	return shifted.Format("2006-01-02")
}
