package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tradecore/internal/account"
	"tradecore/internal/candle"
	"tradecore/internal/fees"
	"tradecore/internal/metrics"
	"tradecore/internal/order"
	"tradecore/internal/orderbook"
	"tradecore/internal/signal"
	"tradecore/internal/strategy"
	"tradecore/internal/trade"
)

var (
	// ErrInvalidRequest 表示请求数量或交易对非法。
	ErrInvalidRequest = errors.New("invalid order request")
	// ErrNoPrice 表示盘口与最新价均无法为市价单定价。
	ErrNoPrice = errors.New("no price available")
	// ErrNoOpenTrade 表示平仓请求找不到对应的持仓。
	ErrNoOpenTrade = errors.New("no open trade")
)

// 离场原因。
const (
	ReasonOppositeSignal = "opposite_signal"
	ReasonEntryCancelled = "entry_cancelled"
	ReasonManual         = "manual"
)

// SignalRecorder 记录收盘K线上的策略信号。
type SignalRecorder interface {
	Add(symbol string, c candle.Candle, s signal.Signal)
}

// Journal 持久化订单与持仓事件。
type Journal interface {
	RecordOrder(ctx context.Context, symbol string, o *order.Order, note string)
	RecordTrade(ctx context.Context, t *trade.Trade)
	RecordError(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// Config 描述单个交易对的引擎参数。
type Config struct {
	AssetSymbol     string
	FundsSymbol     string
	OrderBookDepth  int
	BarInterval     time.Duration
	DefaultQuantity float64
	// StopLossPct 与 TakeProfitPct 为相对开仓价的比例，0 表示不挂对应子委托。
	StopLossPct   float64
	TakeProfitPct float64
}

// Deps 为引擎依赖，除 Connector 外均可为空。
type Deps struct {
	Connector account.Connector
	Strategy  strategy.Strategy
	Fees      fees.Policy
	Monitors  []trade.Monitor
	Signals   SignalRecorder
	Journal   Journal
	Metrics   *metrics.Metrics
	// Book 为 nil 时由引擎创建；模拟连接器需要与引擎共用同一订单簿。
	Book   *orderbook.OrderBook
	Logger *zap.Logger
}

type pendingRequest struct {
	req    *order.Request
	trade  *trade.Trade
	parent *order.Order
}

// Engine 持有单个交易对的订单簿、K线聚合器、订单与持仓。
//
// Engine 不是并发安全的，同一交易对的全部事件须由一个 goroutine 顺序驱动。
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	book *orderbook.OrderBook
	agg  *candle.Aggregator

	orders       map[uint64]*order.Order
	tradeByOrder map[uint64]*trade.Trade
	brackets     map[uint64][]*order.Request
	pending      []*pendingRequest

	open   []*trade.Trade
	closed []*trade.Trade

	tradeIDs  account.Sequence
	lastPrice float64
	// lastTime 为最近一根输入K线的收盘时间（毫秒）。
	lastTime  int64
}

// New 创建引擎。
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Connector == nil {
		return nil, errors.New("engine: connector 不能为空")
	}
	if cfg.AssetSymbol == "" || cfg.FundsSymbol == "" {
		return nil, fmt.Errorf("engine: 交易对不能为空: %w", ErrInvalidRequest)
	}
	if cfg.OrderBookDepth <= 0 {
		cfg.OrderBookDepth = orderbook.DefaultDepth
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Hour
	}
	agg, err := candle.NewAggregator(cfg.BarInterval)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if deps.Fees == nil {
		deps.Fees = fees.None
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	book := deps.Book
	if book == nil {
		book = orderbook.New(cfg.AssetSymbol+cfg.FundsSymbol, cfg.OrderBookDepth)
	}

	return &Engine{
		cfg:          cfg,
		deps:         deps,
		logger:       logger.With(zap.String("symbol", cfg.AssetSymbol+cfg.FundsSymbol)),
		book:         book,
		agg:          agg,
		orders:       make(map[uint64]*order.Order),
		tradeByOrder: make(map[uint64]*trade.Trade),
		brackets:     make(map[uint64][]*order.Request),
	}, nil
}

func (e *Engine) Symbol() string {
	return e.cfg.AssetSymbol + e.cfg.FundsSymbol
}

func (e *Engine) Book() *orderbook.OrderBook {
	return e.book
}

func (e *Engine) Aggregator() *candle.Aggregator {
	return e.agg
}

// LastPrice 返回最近一根输入K线的收盘价。
func (e *Engine) LastPrice() float64 {
	return e.lastPrice
}

// OpenTrades 返回未结束的持仓。
func (e *Engine) OpenTrades() []*trade.Trade {
	return append([]*trade.Trade{}, e.open...)
}

// ClosedTrades 返回已结束的持仓，按结束顺序排列。
func (e *Engine) ClosedTrades() []*trade.Trade {
	return append([]*trade.Trade{}, e.closed...)
}

// LiveOrders 返回已提交且尚未终结的订单，按内部 ID 排序。
func (e *Engine) LiveOrders() []*order.Order {
	out := make([]*order.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// PendingRequests 返回本地等待触发的条件委托。
func (e *Engine) PendingRequests() []*order.Request {
	out := make([]*order.Request, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.req)
	}
	return out
}

// OnBookSnapshot 以全量快照替换订单簿。
func (e *Engine) OnBookSnapshot(bids, asks []orderbook.Level) error {
	err := e.book.ApplySnapshot(bids, asks)
	e.deps.Metrics.SetMidPrice(e.Symbol(), e.book.MidPrice())
	if err != nil {
		e.logger.Warn("订单簿快照包含非法档位", zap.Error(err))
	}
	return err
}

// OnBookLevel 更新单个档位，数量为0时删除该档位。
func (e *Engine) OnBookLevel(side order.Side, price, quantity float64) error {
	var err error
	if side == order.SideBuy {
		err = e.book.AddBid(price, quantity)
	} else {
		err = e.book.AddAsk(price, quantity)
	}
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.deps.Metrics.SetMidPrice(e.Symbol(), e.book.MidPrice())
	return nil
}

// Submit 提交下单请求。未触发的条件委托仅在本地挂起，此时返回的订单为 nil。
// 开仓请求创建新的占位持仓，平仓请求归入同方向的未结束持仓。
func (e *Engine) Submit(ctx context.Context, req *order.Request) (*order.Order, error) {
	if req.AssetSymbol != e.cfg.AssetSymbol || req.FundsSymbol != e.cfg.FundsSymbol {
		return nil, fmt.Errorf("engine: 请求交易对 %s 与引擎 %s 不符: %w", req.Symbol(), e.Symbol(), ErrInvalidRequest)
	}

	var t *trade.Trade
	if !req.IsEntry() {
		t = e.openTrade(req.TradeSide)
		if t == nil {
			return nil, fmt.Errorf("engine: %s 方向: %w", req.TradeSide, ErrNoOpenTrade)
		}
	}

	if !req.IsActive() {
		e.pending = append(e.pending, &pendingRequest{req: req, trade: t})
		e.logger.Info("条件委托已挂起",
			zap.String("trigger", string(req.TriggerCondition)),
			zap.Float64("trigger_price", req.TriggerPrice),
			zap.String("side", string(req.Side)),
		)
		return nil, nil
	}

	if t == nil {
		return e.submitEntry(ctx, req)
	}
	return e.submitExit(ctx, t, req)
}

func (e *Engine) openTrade(side order.TradeSide) *trade.Trade {
	for i := len(e.open) - 1; i >= 0; i-- {
		if e.open[i].TradeSide == side && !e.open[i].IsFinalized() {
			return e.open[i]
		}
	}
	return nil
}

func (e *Engine) price(req *order.Request) error {
	if req.Type != order.TypeMarket || req.Price > 0 {
		return nil
	}
	var p float64
	if req.IsBuy() {
		p = e.book.AverageAskPrice(req.Quantity)
	} else {
		p = e.book.AverageBidPrice(req.Quantity)
	}
	if p <= 0 {
		p = e.lastPrice
	}
	if p <= 0 {
		return fmt.Errorf("engine: %s 市价单无法定价: %w", e.Symbol(), ErrNoPrice)
	}
	req.Price = p
	return nil
}

func (e *Engine) execute(ctx context.Context, req *order.Request) (*order.Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("engine: 下单数量 %f: %w", req.Quantity, ErrInvalidRequest)
	}
	if err := e.price(req); err != nil {
		e.deps.Metrics.Rejected(e.Symbol(), "no_price")
		return nil, err
	}

	o, err := e.deps.Connector.ExecuteOrder(ctx, req)
	if err != nil {
		e.deps.Metrics.Rejected(e.Symbol(), "connector")
		e.logger.Warn("下单被拒绝",
			zap.String("side", string(req.Side)),
			zap.String("trade_side", string(req.TradeSide)),
			zap.Float64("quantity", req.Quantity),
			zap.Error(err),
		)
		e.recordError(ctx, "下单被拒绝", err, map[string]interface{}{"side": req.Side, "quantity": req.Quantity})
		return nil, fmt.Errorf("engine: %w", err)
	}

	e.orders[o.ID] = o
	e.deps.Metrics.OrderSubmitted(e.Symbol(), string(req.Side), e.deps.Connector.IsSimulated())
	if e.deps.Journal != nil {
		e.deps.Journal.RecordOrder(ctx, e.Symbol(), o, "submitted")
	}
	e.logger.Info("订单已提交",
		zap.Uint64("id", o.ID),
		zap.String("order_id", o.OrderID),
		zap.String("side", string(req.Side)),
		zap.String("trade_side", string(req.TradeSide)),
		zap.String("type", string(req.Type)),
		zap.Float64("price", req.Price),
		zap.Float64("quantity", req.Quantity),
	)
	return o, nil
}

func (e *Engine) submitEntry(ctx context.Context, req *order.Request) (*order.Order, error) {
	o, err := e.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	t := trade.New(e.tradeIDs.Next(), o, e.deps.Strategy, e.deps.Fees, e.deps.Monitors...)
	e.open = append(e.open, t)
	e.tradeByOrder[o.ID] = t
	if attached := req.AttachedRequests(); len(attached) > 0 {
		e.brackets[o.ID] = attached
	}
	e.deps.Metrics.TradeOpened(e.Symbol())
	return o, nil
}

func (e *Engine) submitExit(ctx context.Context, t *trade.Trade, req *order.Request) (*order.Order, error) {
	if t.IsFinalized() {
		return nil, fmt.Errorf("engine: 持仓 %d: %w", t.ID, trade.ErrFinalized)
	}
	o, err := e.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := t.AddExitOrder(o); err != nil {
		return o, fmt.Errorf("engine: %w", err)
	}
	e.tradeByOrder[o.ID] = t
	return o, nil
}

// OnCandle 处理一根输入K线：更新持仓极值并处理止损，检查条件委托，
// 聚合器收盘时询问策略信号并据此开平仓。
func (e *Engine) OnCandle(ctx context.Context, c candle.Candle) error {
	closed, err := e.aggregate(c)
	if err != nil {
		return err
	}

	var errs error
	for _, t := range e.OpenTrades() {
		reason, stop := t.Tick(c)
		if !stop {
			continue
		}
		e.logger.Info("持仓触发止损逻辑",
			zap.Uint64("trade_id", t.ID),
			zap.String("reason", reason),
			zap.Float64("change", t.Change()),
		)
		t.Stop(reason)
		errs = multierr.Append(errs, e.closeTrade(ctx, t, reason))
	}

	errs = multierr.Append(errs, e.evaluatePending(ctx, c))

	if closed {
		full, _ := e.agg.Full()
		errs = multierr.Append(errs, e.onBar(ctx, full))
	}
	return errs
}

// Warmup 以历史K线预热聚合器与策略指标，不询问信号也不下单。
func (e *Engine) Warmup(c candle.Candle) error {
	closed, err := e.aggregate(c)
	if err != nil || !closed {
		return err
	}
	if g := e.group(); g != nil {
		full, _ := e.agg.Full()
		g.Accumulate(full)
	}
	return nil
}

func (e *Engine) aggregate(c candle.Candle) (bool, error) {
	// 指标组在第一根K线聚合前初始化，只能用到事先写入聚合器的历史K线。
	if g := e.group(); g != nil && !g.IsInitialized() {
		g.Initialize(e.agg)
	}
	closed, err := e.agg.Aggregate(c)
	if err != nil {
		return false, fmt.Errorf("engine: %w", err)
	}
	e.lastPrice = c.Close
	e.lastTime = c.CloseTime
	return closed, nil
}

func (e *Engine) group() *strategy.Group {
	if g, ok := e.deps.Strategy.(strategy.Grouped); ok {
		return g.Group()
	}
	return nil
}

// triggerReason 以持仓方向换算离场原因，空头的止损触发价位于开仓价上方。
func triggerReason(t *trade.Trade, req *order.Request) string {
	cond := req.TriggerCondition
	if t.IsShort() {
		switch cond {
		case order.TriggerStopLoss:
			cond = order.TriggerStopGain
		case order.TriggerStopGain:
			cond = order.TriggerStopLoss
		}
	}
	return string(cond)
}

func (e *Engine) evaluatePending(ctx context.Context, c candle.Candle) error {
	var (
		errs error
		keep []*pendingRequest
	)
	for _, p := range e.pending {
		if p.req.IsCancelled() || (p.trade != nil && p.trade.IsFinalized()) {
			continue
		}
		if !p.req.Triggered(c.Close) {
			keep = append(keep, p)
			continue
		}

		p.req.Activate()
		p.req.UpdateTime(c.CloseTime)
		if p.trade != nil {
			if q := p.trade.Quantity(); q > 0 && p.req.Quantity > q {
				p.req.Quantity = q
			}
			p.trade.RequestExit(triggerReason(p.trade, p.req))
		}
		e.logger.Info("条件委托已触发",
			zap.String("trigger", string(p.req.TriggerCondition)),
			zap.Float64("trigger_price", p.req.TriggerPrice),
			zap.Float64("last_price", c.Close),
		)

		var (
			o   *order.Order
			err error
		)
		if p.trade == nil {
			o, err = e.submitEntry(ctx, p.req)
		} else {
			o, err = e.submitExit(ctx, p.trade, p.req)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if p.parent != nil {
			p.parent.Attach(o)
			e.cancelSiblings(p)
		}
	}

	// 已保留的兄弟腿可能在本轮后续被撤销。
	live := keep[:0]
	for _, p := range keep {
		if !p.req.IsCancelled() {
			live = append(live, p)
		}
	}
	e.pending = live
	return errs
}

// cancelSiblings 撤销与 p 同属一笔开仓单和持仓的其余条件腿，一腿触发即作废其余腿。
func (e *Engine) cancelSiblings(p *pendingRequest) {
	for _, s := range e.pending {
		if s == p || s.parent != p.parent || s.trade != p.trade || s.req.IsCancelled() {
			continue
		}
		s.req.Cancel()
		e.logger.Info("条件委托随同组委托触发而撤销",
			zap.String("trigger", string(s.req.TriggerCondition)),
			zap.Float64("trigger_price", s.req.TriggerPrice),
		)
	}
}

func (e *Engine) onBar(ctx context.Context, bar candle.Candle) error {
	s := e.deps.Strategy
	if s == nil {
		return nil
	}
	if g := e.group(); g != nil {
		g.Accumulate(bar)
	}

	sig := s.Signal(bar)
	if e.deps.Signals != nil {
		e.deps.Signals.Add(e.Symbol(), bar, sig)
	}
	e.deps.Metrics.SignalObserved(e.Symbol(), sig.String())
	e.logger.Debug("收盘信号",
		zap.String("strategy", s.Name()),
		zap.String("signal", sig.String()),
		zap.Float64("close", bar.Close),
	)

	switch {
	case sig.IsBullish():
		return e.actOnSignal(ctx, bar, order.TradeSideLong, order.TradeSideShort)
	case sig.IsBearish():
		return e.actOnSignal(ctx, bar, order.TradeSideShort, order.TradeSideLong)
	}
	return nil
}

// actOnSignal 按信号方向离场反向持仓并尝试开仓。每个交易对同时最多一笔持仓。
func (e *Engine) actOnSignal(ctx context.Context, bar candle.Candle, enter, exit order.TradeSide) error {
	s := e.deps.Strategy
	var errs error

	if t := e.openTrade(exit); t != nil && s.ExitOnOppositeSignal() && t.AllowExit() {
		errs = multierr.Append(errs, e.closeTrade(ctx, t, ReasonOppositeSignal))
	}

	if len(e.open) > 0 {
		return errs
	}
	if preferred, ok := s.TradeSide(); ok && preferred != enter {
		return errs
	}
	for _, m := range e.deps.Monitors {
		if (enter == order.TradeSideLong && m.DiscardBuy(s)) || (enter == order.TradeSideShort && m.DiscardShortSell(s)) {
			e.logger.Info("监控器拒绝开仓", zap.String("trade_side", string(enter)))
			e.deps.Metrics.Rejected(e.Symbol(), "monitor")
			return errs
		}
	}

	side := order.SideBuy
	if enter == order.TradeSideShort {
		side = order.SideSell
	}
	req := order.NewRequest(e.cfg.AssetSymbol, e.cfg.FundsSymbol, side, enter, bar.CloseTime)
	req.Type = order.TypeMarket
	req.Quantity = e.cfg.DefaultQuantity
	if err := e.price(req); err != nil {
		return multierr.Append(errs, err)
	}
	e.attachBrackets(req)

	if _, err := e.submitEntry(ctx, req); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// attachBrackets 按配置比例为开仓请求附带止损与止盈子委托。
func (e *Engine) attachBrackets(req *order.Request) {
	sign := 1.0
	if req.IsShort() {
		sign = -1
	}
	if e.cfg.StopLossPct > 0 {
		req.Attach(order.TypeMarket, req.Price*(1-sign*e.cfg.StopLossPct))
	}
	if e.cfg.TakeProfitPct > 0 {
		req.Attach(order.TypeMarket, req.Price*(1+sign*e.cfg.TakeProfitPct))
	}
}

// CloseTrade 以市价平掉持仓剩余数量，尚无成交的占位持仓直接作废。
func (e *Engine) CloseTrade(ctx context.Context, t *trade.Trade, reason string) error {
	if reason == "" {
		reason = ReasonManual
	}
	return e.closeTrade(ctx, t, reason)
}

func (e *Engine) closeTrade(ctx context.Context, t *trade.Trade, reason string) error {
	if t.IsFinalized() {
		return nil
	}
	t.RequestExit(reason)
	e.dropPending(t)

	var errs error
	for _, o := range t.LiveOrders() {
		errs = multierr.Append(errs, e.Cancel(ctx, o))
	}

	if t.Quantity() <= 0 {
		// 在途开仓单撤销确认后于 Sync 中作废。
		if t.TotalUnits() == 0 && len(t.LiveOrders()) == 0 {
			e.abandon(ctx, t, reason)
		}
		return errs
	}

	req := order.NewRequest(e.cfg.AssetSymbol, e.cfg.FundsSymbol, t.Side, t.TradeSide, e.lastTime)
	req.Type = order.TypeMarket
	req.Quantity = t.Quantity()
	if _, err := e.submitExit(ctx, t, req); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (e *Engine) dropPending(t *trade.Trade) {
	keep := e.pending[:0]
	for _, p := range e.pending {
		if p.trade == t {
			p.req.Cancel()
			continue
		}
		keep = append(keep, p)
	}
	e.pending = keep
}

// Cancel 请求连接器撤单，最终状态在下一次 Sync 时确认。
func (e *Engine) Cancel(ctx context.Context, o *order.Order) error {
	if _, ok := e.orders[o.ID]; !ok {
		return nil
	}
	if err := e.deps.Connector.Cancel(ctx, o); err != nil {
		if errors.Is(err, order.ErrAlreadyFilled) {
			return nil
		}
		e.logger.Warn("撤单失败", zap.Uint64("id", o.ID), zap.Error(err))
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// Sync 同步全部在途订单状态：合并新增成交并计入持仓，处理撤单、子委托与持仓结束。
func (e *Engine) Sync(ctx context.Context) error {
	var errs error
	for _, o := range e.LiveOrders() {
		status, err := e.deps.Connector.UpdateOrderStatus(ctx, o)
		if err != nil {
			e.logger.Warn("同步订单状态失败", zap.Uint64("id", o.ID), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}

		if o.HasPartialFillDetails() {
			errs = multierr.Append(errs, e.applyFill(ctx, o))
		}
		if status == order.StatusCancelled && o.IsLive() {
			_ = o.Cancel()
			if e.deps.Journal != nil {
				e.deps.Journal.RecordOrder(ctx, e.Symbol(), o, "cancelled")
			}
		}
		if o.IsFinalized() {
			e.onOrderFinalized(ctx, o)
		}
	}
	return errs
}

func (e *Engine) applyFill(ctx context.Context, o *order.Order) error {
	price, qty := o.PartialFillPrice(), o.PartialFillQuantity()
	if err := o.FoldPartialFill(); err != nil {
		o.ClearPartialFillDetails()
		e.deps.Metrics.Rejected(e.Symbol(), "fill")
		e.logger.Warn("拒绝成交", zap.Uint64("id", o.ID), zap.Error(err))
		return fmt.Errorf("engine: %w", err)
	}
	e.deps.Metrics.OrderFilled(e.Symbol(), string(o.Side()), qty)

	t := e.tradeByOrder[o.ID]
	if t == nil {
		return nil
	}

	var (
		fee float64
		err error
	)
	if o.Request.IsEntry() {
		fee, err = t.AddEntryFill(o, price, qty)
	} else {
		fee, err = t.AddExitFill(o, price, qty)
	}
	if err != nil {
		e.logger.Warn("持仓拒绝成交",
			zap.Uint64("trade_id", t.ID),
			zap.Uint64("id", o.ID),
			zap.Error(err),
		)
		return fmt.Errorf("engine: %w", err)
	}

	e.logger.Info("订单成交",
		zap.Uint64("id", o.ID),
		zap.Uint64("trade_id", t.ID),
		zap.String("side", string(o.Side())),
		zap.Float64("price", price),
		zap.Float64("quantity", qty),
		zap.Float64("fee", fee),
		zap.String("status", string(o.Status)),
	)
	if e.deps.Journal != nil {
		e.deps.Journal.RecordOrder(ctx, e.Symbol(), o, "filled")
	}

	if t.IsFinalized() {
		e.onTradeFinalized(ctx, t)
	}
	return nil
}

func (e *Engine) onOrderFinalized(ctx context.Context, o *order.Order) {
	delete(e.orders, o.ID)
	o.Processed = true

	t := e.tradeByOrder[o.ID]
	if t == nil || !o.Request.IsEntry() {
		return
	}

	attached := e.brackets[o.ID]
	delete(e.brackets, o.ID)
	if o.ExecutedQuantity > 0 {
		if !t.IsFinalized() {
			for _, req := range attached {
				req.Quantity = o.ExecutedQuantity
				e.pending = append(e.pending, &pendingRequest{req: req, trade: t, parent: o})
			}
		}
		return
	}

	if t.TotalUnits() == 0 && len(t.LiveOrders()) == 0 && !t.IsFinalized() {
		e.abandon(ctx, t, ReasonEntryCancelled)
	}
}

func (e *Engine) abandon(ctx context.Context, t *trade.Trade, reason string) {
	if err := t.Abandon(reason); err != nil {
		e.logger.Warn("作废持仓失败", zap.Uint64("trade_id", t.ID), zap.Error(err))
		return
	}
	e.removeOpen(t)
	e.deps.Metrics.TradeAbandoned(e.Symbol())
	if e.deps.Journal != nil {
		e.deps.Journal.RecordTrade(ctx, t)
	}
	e.logger.Info("占位持仓已作废", zap.Uint64("trade_id", t.ID), zap.String("reason", reason))
}

// onTradeFinalized 撤销持仓剩余的在途订单与条件委托。
func (e *Engine) onTradeFinalized(ctx context.Context, t *trade.Trade) {
	e.dropPending(t)
	for _, o := range t.LiveOrders() {
		if err := e.Cancel(ctx, o); err != nil {
			e.recordError(ctx, "撤销剩余订单失败", err, map[string]interface{}{"trade_id": t.ID, "order_id": o.ID})
		}
	}
	e.removeOpen(t)

	e.deps.Metrics.TradeClosed(e.Symbol(), string(t.TradeSide), t.ExitReason, t.ActualProfitLoss())
	if e.deps.Journal != nil {
		e.deps.Journal.RecordTrade(ctx, t)
	}
	e.logger.Info("持仓已结束",
		zap.Uint64("trade_id", t.ID),
		zap.String("trade_side", string(t.TradeSide)),
		zap.String("reason", t.ExitReason),
		zap.Float64("avg_price", t.AveragePrice()),
		zap.Float64("quantity", t.TotalUnits()),
		zap.Float64("pnl", t.ActualProfitLoss()),
		zap.Float64("pnl_pct", t.ActualProfitLossPct()),
		zap.Float64("fees", t.FeesPaid()),
	)
}

func (e *Engine) removeOpen(t *trade.Trade) {
	for i, existing := range e.open {
		if existing == t {
			e.open = append(e.open[:i], e.open[i+1:]...)
			e.closed = append(e.closed, t)
			return
		}
	}
}

func (e *Engine) recordError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if e.deps.Journal != nil {
		e.deps.Journal.RecordError(ctx, msg, err, fields)
	}
}
