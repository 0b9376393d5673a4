package risk

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/config"
	"tradecore/internal/store"
	"tradecore/internal/strategy"
	"tradecore/internal/trade"
)

// Manager 作为持仓监控器执行单笔止损止盈，并在日度亏损超限后拒绝开仓。
//
// 同一个 Manager 可挂到多个交易对的持仓上。
type Manager struct {
	trade.NopMonitor

	cfg     config.RiskConfig
	tracker *DailyTracker
	logger  *zap.Logger
	halted  atomic.Bool
	// stops 为上次 UpdateEquity 之后触发的止损次数。
	stops atomic.Int64
}

var _ trade.Monitor = (*Manager)(nil)

// NewManager 创建风险管理器。store 为 nil 时不做日度亏损跟踪。
func NewManager(cfg config.RiskConfig, store *store.Store, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger,
	}
	if store == nil || !cfg.EnableDailyStopLoss {
		return m, nil
	}

	tracker, err := NewDailyTracker(store.DB(), cfg, logger)
	if err != nil {
		return nil, err
	}
	m.tracker = tracker
	return m, nil
}

// HandleStop 依次检查单笔最大亏损、止盈与回撤止盈。
func (m *Manager) HandleStop(t *trade.Trade) (string, bool) {
	reason := m.stopReason(t)
	if reason == "" {
		return "", false
	}
	m.stops.Add(1)
	m.logger.Info("风控触发平仓",
		zap.Uint64("trade_id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.String("reason", reason),
		zap.Float64("change", t.Change()),
	)
	return reason, true
}

func (m *Manager) stopReason(t *trade.Trade) string {
	change := t.Change()
	switch {
	case m.cfg.MaxTradeLoss > 0 && change <= -m.cfg.MaxTradeLoss:
		return ReasonMaxTradeLoss
	case m.cfg.TakeProfit > 0 && change >= m.cfg.TakeProfit:
		return ReasonTakeProfit
	case m.cfg.TrailingStop > 0 && t.MaxChange() > 0 && t.MaxChange()-change >= m.cfg.TrailingStop:
		return ReasonTrailingStop
	}
	return ""
}

func (m *Manager) DiscardBuy(strategy.Strategy) bool { return m.Halted() }

func (m *Manager) DiscardShortSell(strategy.Strategy) bool { return m.Halted() }

// WorstLoss 记录持仓的新低收益率。
func (m *Manager) WorstLoss(t *trade.Trade, change float64) {
	if change < 0 {
		m.logger.Debug("持仓收益率新低", zap.Uint64("trade_id", t.ID), zap.String("symbol", t.Symbol), zap.Float64("change", change))
	}
}

// Halted 判断当日是否已停止开仓。
func (m *Manager) Halted() bool {
	return m.halted.Load()
}

// UpdateEquity 以当前权益更新日度状态。未启用日度止损时返回零值状态。
func (m *Manager) UpdateEquity(ctx context.Context, ts time.Time, equity float64) (DailyStatus, error) {
	if m.tracker == nil {
		return DailyStatus{}, nil
	}
	stops := m.stops.Swap(0)
	status, err := m.tracker.Update(ctx, ts, equity, int(stops))
	if err != nil {
		m.stops.Add(stops)
		return status, err
	}
	if m.halted.Swap(status.Halted) != status.Halted {
		m.logger.Info("日度开仓状态变化",
			zap.String("trading_date", status.TradingDate),
			zap.Bool("halted", status.Halted),
			zap.Float64("loss_percent", status.LossPercent),
		)
	}
	return status, nil
}
