package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/backtest"
	"tradecore/internal/config"
	"tradecore/internal/exchange"
	"tradecore/internal/risk"
	"tradecore/internal/trade"
)

// Backtest 拉取第一个交易对的历史K线，以模拟账户回放默认策略。
func Backtest(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Exchange.Markets) == 0 {
		return fmt.Errorf("未配置交易对")
	}
	exSymbol := cfg.Exchange.Markets[0]

	client, err := exchange.NewClient(cfg.Exchange, exSymbol, logger)
	if err != nil {
		return fmt.Errorf("初始化行情客户端失败 (%s): %w", exSymbol, err)
	}
	snapshot, err := exchange.NewMarketDataService(client, logger).GetSnapshot(ctx, exchange.SnapshotRequest{
		Interval:       cfg.Engine.BarInterval,
		CandleLimit:    cfg.Scheduler.CandleLimit,
		OrderBookDepth: cfg.Engine.OrderBookDepth,
	})
	if err != nil {
		return fmt.Errorf("拉取历史K线失败: %w", err)
	}

	result, err := runBacktest(ctx, cfg, backtest.NewSnapshotCandleProvider(snapshot), logger)
	if err != nil {
		return err
	}

	logger.Info("回测结果",
		zap.String("symbol", exSymbol),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("win_rate", result.WinRate()),
		zap.Float64("pnl", result.ProfitLoss),
		zap.Float64("fees", result.FeesPaid),
		zap.Float64("final_equity", result.FinalEquity),
	)
	return nil
}

// runBacktest 以配置构建回测引擎并执行，风控只启用单笔止损止盈。
func runBacktest(ctx context.Context, cfg *config.Config, provider backtest.CandleProvider, logger *zap.Logger) (backtest.Result, error) {
	asset, funds, err := parseMarket(cfg.Exchange.Markets[0])
	if err != nil {
		return backtest.Result{}, err
	}

	strat, err := buildStrategy(cfg.Strategy, cfg.Engine.BarInterval)
	if err != nil {
		return backtest.Result{}, err
	}

	riskMgr, err := risk.NewManager(cfg.Risk, nil, logger)
	if err != nil {
		return backtest.Result{}, fmt.Errorf("初始化风险管理失败: %w", err)
	}

	engine, err := backtest.NewEngine(backtest.Config{
		AssetSymbol:     asset,
		FundsSymbol:     funds,
		InitialEquity:   cfg.Paper.Assets()[funds],
		BarInterval:     cfg.Engine.BarInterval,
		DefaultQuantity: cfg.Engine.DefaultQuantity,
		StopLossPct:     cfg.Engine.StopLossPct,
		TakeProfitPct:   cfg.Engine.TakeProfitPct,
		PeriodsPerYear:  periodsPerYear(cfg.Engine.BarInterval),
	}, provider, strat, backtest.Options{
		Fees:     feePolicy(cfg.Fees),
		Monitors: []trade.Monitor{riskMgr},
		Logger:   logger,
	})
	if err != nil {
		return backtest.Result{}, err
	}
	return engine.Run(ctx)
}

func periodsPerYear(interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return float64(365*24*time.Hour) / float64(interval)
}
