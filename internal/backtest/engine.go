package backtest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tradecore/internal/account"
	"tradecore/internal/engine"
	"tradecore/internal/fees"
	"tradecore/internal/orderbook"
	"tradecore/internal/strategy"
	"tradecore/internal/trade"
)

// ReasonEndOfData 为回测结束时强制平仓的原因。
const ReasonEndOfData = "end_of_data"

// Result 汇总回测结果。
type Result struct {
	Metrics      Metrics
	EquityCurve  []float64
	ReturnSeries []float64
	Trades       []*trade.Trade
	Wins         int
	Losses       int
	ProfitLoss   float64
	FeesPaid     float64
	FinalEquity  float64
}

// WinRate 返回盈利持仓占已成交持仓的比例。
func (r Result) WinRate() float64 {
	if r.Wins+r.Losses == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Wins+r.Losses)
}

// Engine 以模拟盘口回放K线，驱动交易引擎与模拟账户。
type Engine struct {
	cfg       Config
	provider  CandleProvider
	engine    *engine.Engine
	simulator *Simulator
	logger    *zap.Logger
}

// Options 为回测的可选依赖。
type Options struct {
	Fees     fees.Policy
	Monitors []trade.Monitor
	Signals  engine.SignalRecorder
	Logger   *zap.Logger
}

// NewEngine 构建回测引擎。
func NewEngine(cfg Config, provider CandleProvider, s strategy.Strategy, opts Options) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("backtest: provider 不能为空")
	}
	if s == nil {
		return nil, fmt.Errorf("backtest: strategy 不能为空")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.normalize()
	book := orderbook.New(cfg.AssetSymbol+cfg.FundsSymbol, orderbook.DefaultDepth)
	paper := account.NewPaper(book, account.PaperOptions{
		Balances: map[string]float64{cfg.FundsSymbol: cfg.InitialEquity},
		Fees:     opts.Fees,
	}, logger)

	eng, err := engine.New(engine.Config{
		AssetSymbol:     cfg.AssetSymbol,
		FundsSymbol:     cfg.FundsSymbol,
		BarInterval:     cfg.BarInterval,
		DefaultQuantity: cfg.DefaultQuantity,
		StopLossPct:     cfg.StopLossPct,
		TakeProfitPct:   cfg.TakeProfitPct,
	}, engine.Deps{
		Connector: paper,
		Strategy:  s,
		Fees:      opts.Fees,
		Monitors:  opts.Monitors,
		Signals:   opts.Signals,
		Book:      book,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		provider:  provider,
		engine:    eng,
		simulator: NewSimulator(cfg, book, paper),
		logger:    logger,
	}, nil
}

// Run 执行完整回测流程，数据结束时以最后收盘价平掉剩余持仓。
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var bars int
	for {
		c, ok, err := e.provider.Next(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
		bars++

		if err := e.simulator.Advance(c.Close); err != nil {
			e.logger.Warn("构造模拟盘口失败", zap.Error(err))
			continue
		}
		if err := e.engine.OnCandle(ctx, c); err != nil {
			e.logger.Warn("处理K线失败", zap.Int64("open_time", c.OpenTime), zap.Error(err))
		}
		if err := e.engine.Sync(ctx); err != nil {
			e.logger.Warn("同步订单失败", zap.Error(err))
		}
		e.simulator.Mark()
	}

	for _, t := range e.engine.OpenTrades() {
		if err := e.engine.CloseTrade(ctx, t, ReasonEndOfData); err != nil {
			e.logger.Warn("回测结束平仓失败", zap.Uint64("trade_id", t.ID), zap.Error(err))
		}
	}
	if err := e.engine.Sync(ctx); err != nil {
		e.logger.Warn("同步订单失败", zap.Error(err))
	}
	e.simulator.Mark()

	result := Result{
		EquityCurve:  e.simulator.EquityHistory(),
		ReturnSeries: e.simulator.ReturnHistory(),
		Trades:       e.engine.ClosedTrades(),
		FinalEquity:  e.simulator.Equity(),
	}
	var pnls []float64
	for _, t := range result.Trades {
		if t.TotalUnits() == 0 {
			continue
		}
		pnl := t.ActualProfitLoss()
		pnls = append(pnls, pnl)
		result.ProfitLoss += pnl
		result.FeesPaid += t.FeesPaid()
		if pnl > 0 {
			result.Wins++
		} else {
			result.Losses++
		}
	}
	result.Metrics = calculateMetrics(result.EquityCurve, result.ReturnSeries, pnls, e.cfg.PeriodsPerYear)

	e.logger.Info("回测完成",
		zap.Int("bars", bars),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("pnl", result.ProfitLoss),
		zap.Float64("final_equity", result.FinalEquity),
		zap.Float64("total_return", result.Metrics.TotalReturn),
		zap.Float64("max_drawdown", result.Metrics.MaxDrawdown),
		zap.Float64("sharpe", result.Metrics.SharpeRatio),
		zap.Float64("sortino", result.Metrics.SortinoRatio),
		zap.Float64("profit_factor", result.Metrics.ProfitFactor),
	)
	return result, nil
}
