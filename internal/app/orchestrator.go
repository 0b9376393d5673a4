package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/account"
	"tradecore/internal/candle"
	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/exchange"
	"tradecore/internal/fees"
	"tradecore/internal/indicator"
	"tradecore/internal/metrics"
	"tradecore/internal/monitor"
	"tradecore/internal/order"
	"tradecore/internal/orderbook"
	"tradecore/internal/risk"
	"tradecore/internal/signals"
	"tradecore/internal/store"
	"tradecore/internal/strategy"
	"tradecore/internal/trade"
)

var (
	_ engine.Journal        = (*monitor.Service)(nil)
	_ engine.SignalRecorder = (*signals.Repository)(nil)
)

// marketSource 提供单个交易对的行情快照。
type marketSource interface {
	GetSnapshot(ctx context.Context, req exchange.SnapshotRequest) (exchange.MarketSnapshot, error)
}

type marketPipeline struct {
	exchangeSymbol string
	assetSymbol    string
	fundsSymbol    string
	source         marketSource
	engine         *engine.Engine
	connector      account.Connector

	warmedUp   bool
	lastOpen   int64
	lastPrice  float64
	lastEquity float64
}

type orchestrator struct {
	markets []*marketPipeline
	risk    *risk.Manager
	monitor *monitor.Service
	signals *signals.Repository
	metrics *metrics.Metrics
	logger  *zap.Logger
	request exchange.SnapshotRequest
	shared  account.Connector
	now     func() time.Time
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

func (o *orchestrator) Metrics() *metrics.Metrics {
	return o.metrics
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, store *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	riskMgr, err := risk.NewManager(cfg.Risk, store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化风险管理失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	repo, err := signals.NewRepository(store.DB(), logger)
	if err != nil {
		return nil, fmt.Errorf("初始化信号仓库失败: %w", err)
	}

	o := &orchestrator{
		risk:    riskMgr,
		monitor: monitorSvc,
		signals: repo,
		metrics: metrics.New(),
		logger:  logger,
		request: exchange.SnapshotRequest{
			Interval:       cfg.Engine.BarInterval,
			CandleLimit:    cfg.Scheduler.CandleLimit,
			OrderBookDepth: cfg.Engine.OrderBookDepth,
		},
		now: time.Now,
	}
	policy := feePolicy(cfg.Fees)

	for _, exSymbol := range cfg.Exchange.Markets {
		asset, funds, err := parseMarket(exSymbol)
		if err != nil {
			return nil, err
		}

		client, err := exchange.NewClient(cfg.Exchange, exSymbol, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化行情客户端失败 (%s): %w", exSymbol, err)
		}

		book := orderbook.New(asset+funds, cfg.Engine.OrderBookDepth)
		var conn account.Connector
		if cfg.Trade.Simulation {
			logger.Info("连接器处于模拟模式", zap.String("symbol", exSymbol))
			conn = account.NewPaper(book, account.PaperOptions{
				Balances:                cfg.Paper.Assets(),
				MarginReservePercentage: cfg.Trade.MarginReservePercentage,
				Fees:                    policy,
			}, logger)
		} else {
			if o.shared == nil {
				tradeClient, err := exchange.NewClient(cfg.Trade.Client(cfg.Exchange.Retry), exSymbol, logger)
				if err != nil {
					return nil, fmt.Errorf("初始化交易客户端失败: %w", err)
				}
				o.shared = account.NewExchange(tradeClient.Raw(), account.ExchangeOptions{
					MaxRetry:                cfg.Trade.MaxRetry,
					TimeInForce:             cfg.Trade.TimeInForce,
					PostOnly:                cfg.Trade.PostOnly,
					MarginReservePercentage: cfg.Trade.MarginReservePercentage,
					BalanceTTL:              cfg.Trade.BalanceTTL,
				}, logger)
			}
			conn = o.shared
		}

		strat, err := buildStrategy(cfg.Strategy, cfg.Engine.BarInterval)
		if err != nil {
			return nil, err
		}

		eng, err := engine.New(engine.Config{
			AssetSymbol:     asset,
			FundsSymbol:     funds,
			OrderBookDepth:  cfg.Engine.OrderBookDepth,
			BarInterval:     cfg.Engine.BarInterval,
			DefaultQuantity: cfg.Engine.DefaultQuantity,
			StopLossPct:     cfg.Engine.StopLossPct,
			TakeProfitPct:   cfg.Engine.TakeProfitPct,
		}, engine.Deps{
			Connector: conn,
			Strategy:  strat,
			Fees:      policy,
			Monitors:  []trade.Monitor{riskMgr},
			Signals:   repo,
			Journal:   monitorSvc,
			Metrics:   o.metrics,
			Book:      book,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化交易引擎失败 (%s): %w", exSymbol, err)
		}

		o.markets = append(o.markets, &marketPipeline{
			exchangeSymbol: exSymbol,
			assetSymbol:    asset,
			fundsSymbol:    funds,
			source:         exchange.NewMarketDataService(client, logger),
			engine:         eng,
			connector:      conn,
		})
	}

	return o, nil
}

// Tick 并发推进全部交易对，随后按账户权益更新日度风控。
func (o *orchestrator) Tick(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, m := range o.markets {
		group.Go(func() error {
			if err := o.step(groupCtx, m); err != nil {
				o.monitor.RecordError(groupCtx, "交易对处理失败", err, map[string]interface{}{"symbol": m.exchangeSymbol})
				return fmt.Errorf("%s: %w", m.exchangeSymbol, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	equity, err := o.equity(ctx)
	if err != nil {
		o.monitor.RecordError(ctx, "计算账户权益失败", err, nil)
		return err
	}
	o.metrics.SetEquity(equity)
	if _, err := o.risk.UpdateEquity(ctx, o.now(), equity); err != nil {
		o.monitor.RecordError(ctx, "更新日度风控失败", err, nil)
		return err
	}
	return nil
}

// step 拉取快照，更新订单簿，输入新收盘的K线并同步订单。
// 首次执行时历史K线只用于预热。
func (o *orchestrator) step(ctx context.Context, m *marketPipeline) error {
	snapshot, err := m.source.GetSnapshot(ctx, o.request)
	if errors.Is(err, exchange.ErrMaintenance) {
		o.logger.Warn("交易所维护中，跳过本轮", zap.String("symbol", m.exchangeSymbol), zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("拉取市场数据失败: %w", err)
	}

	if err := m.engine.OnBookSnapshot(snapshot.OrderBook.Bids, snapshot.OrderBook.Asks); err != nil {
		o.logger.Warn("订单簿快照部分档位被忽略", zap.String("symbol", m.exchangeSymbol), zap.Error(err))
	}

	after := m.lastOpen
	if !m.warmedUp {
		after = math.MinInt64
	}
	cutoff := snapshot.RetrievedAt.UnixMilli()
	for _, c := range closedCandles(snapshot.Candles, after, cutoff) {
		if !m.warmedUp {
			err = m.engine.Warmup(c)
		} else {
			err = m.engine.OnCandle(ctx, c)
		}
		if err != nil {
			o.logger.Warn("处理K线失败", zap.String("symbol", m.exchangeSymbol), zap.Int64("open_time", c.OpenTime), zap.Error(err))
		}
		m.lastOpen = c.OpenTime
		m.lastPrice = c.Close
	}
	if !m.warmedUp {
		m.warmedUp = true
		o.logger.Info("指标预热完成", zap.String("symbol", m.exchangeSymbol), zap.Int("candles", len(snapshot.Candles)))
	}

	if err := m.engine.Sync(ctx); err != nil {
		o.logger.Warn("同步订单失败", zap.String("symbol", m.exchangeSymbol), zap.Error(err))
	}

	if mid := m.engine.Book().MidPrice(); mid > 0 {
		m.lastPrice = mid
	}
	return nil
}

// closedCandles 过滤出 lastOpen 之后且在 cutoff 前已收盘的K线。
func closedCandles(candles []candle.Candle, lastOpen, cutoff int64) []candle.Candle {
	out := make([]candle.Candle, 0, len(candles))
	for _, c := range candles {
		if c.OpenTime <= lastOpen || c.CloseTime >= cutoff {
			continue
		}
		out = append(out, c)
	}
	return out
}

// equity 以计价币种估算账户权益。模拟模式下每个交易对为独立账户，权益相加。
func (o *orchestrator) equity(ctx context.Context) (float64, error) {
	if o.shared != nil {
		balances, err := o.shared.UpdateBalances(ctx, false)
		if err != nil {
			return 0, err
		}
		var (
			total float64
			seen  = make(map[string]bool)
		)
		for _, m := range o.markets {
			if !seen[m.fundsSymbol] {
				seen[m.fundsSymbol] = true
				total += balances[m.fundsSymbol].Total()
			}
			total += assetValue(balances, m.assetSymbol, m.lastPrice)
		}
		o.monitor.RecordEquity(ctx, "account", 0, total)
		return total, nil
	}

	var total float64
	for _, m := range o.markets {
		balances, err := m.connector.UpdateBalances(ctx, false)
		if err != nil {
			return 0, err
		}
		m.lastEquity = balances[m.fundsSymbol].Total() + assetValue(balances, m.assetSymbol, m.lastPrice)
		o.monitor.RecordEquity(ctx, m.assetSymbol+m.fundsSymbol, m.lastPrice, m.lastEquity)
		total += m.lastEquity
	}
	return total, nil
}

func assetValue(balances map[string]account.Balance, asset string, price float64) float64 {
	b, ok := balances[asset]
	if !ok {
		return 0
	}
	return (b.Total() - b.Shorted) * price
}

// Close 持久化信号记录。
func (o *orchestrator) Close(ctx context.Context) error {
	return o.signals.Save(ctx)
}

func feePolicy(cfg config.FeesConfig) fees.Policy {
	policy := fees.Combined{fees.NewPercentage(cfg.Maker, cfg.Taker)}
	if cfg.Flat > 0 {
		policy = append(policy, fees.Flat{Fee: cfg.Flat})
	}
	return policy
}

// buildStrategy 以 RSI、EMA 交叉与趋势指标组成默认组合策略。
func buildStrategy(cfg config.StrategyConfig, interval time.Duration) (strategy.Strategy, error) {
	ms := interval.Milliseconds()
	ema, err := indicator.NewEMACross(cfg.EMAFast, cfg.EMASlow, ms)
	if err != nil {
		return nil, fmt.Errorf("初始化策略失败: %w", err)
	}
	group := strategy.NewGroup(nil,
		indicator.NewRSI(cfg.RSIPeriod, ms, cfg.RSIOversold, cfg.RSIOverbought),
		ema,
		indicator.NewTrend(nil, ms),
	)

	opts := []strategy.CompositeOption{
		strategy.WithExitOnOppositeSignal(cfg.ExitOnOppositeSignal),
		strategy.WithWarmup(cfg.EMASlow),
	}
	switch side := order.TradeSide(strings.ToLower(cfg.TradeSide)); side {
	case order.TradeSideLong, order.TradeSideShort:
		opts = append(opts, strategy.WithTradeSide(side))
	}

	name := cfg.Name
	if name == "" {
		name = "composite"
	}
	return strategy.NewComposite(name, group, opts...), nil
}

// parseMarket 解析 BTC/USDT:USDT 形式的交易对。
func parseMarket(symbol string) (string, string, error) {
	s := strings.TrimSpace(symbol)
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[:idx]
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("无法解析交易对 %q", symbol)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}
