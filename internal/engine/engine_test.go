package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tradecore/internal/account"
	"tradecore/internal/candle"
	"tradecore/internal/order"
	"tradecore/internal/orderbook"
	"tradecore/internal/signal"
	"tradecore/internal/strategy"
	"tradecore/internal/trade"
)

type stubStrategy struct {
	signals []signal.Signal
	calls   int
	side    order.TradeSide
	hasSide bool
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Signal(candle.Candle) signal.Signal {
	if s.calls >= len(s.signals) {
		return signal.Neutral
	}
	sig := s.signals[s.calls]
	s.calls++
	return sig
}

func (s *stubStrategy) TradeSide() (order.TradeSide, bool) { return s.side, s.hasSide }

func (s *stubStrategy) ExitOnOppositeSignal() bool { return true }

type recordingSignals struct {
	entries []signal.Signal
}

func (r *recordingSignals) Add(_ string, _ candle.Candle, s signal.Signal) {
	r.entries = append(r.entries, s)
}

type lossStop struct {
	trade.NopMonitor
	limit   float64
	discard bool
}

func (m lossStop) HandleStop(t *trade.Trade) (string, bool) {
	if m.limit > 0 && t.Change() <= -m.limit {
		return "max_loss", true
	}
	return "", false
}

func (m lossStop) DiscardBuy(strategy.Strategy) bool { return m.discard }

func newEngine(t *testing.T, cfg Config, deps Deps) *Engine {
	t.Helper()
	book := orderbook.New("BTCUSDT", 10)
	_ = book.ApplySnapshot(
		[]orderbook.Level{{Price: 99, Quantity: 10}},
		[]orderbook.Level{{Price: 101, Quantity: 10}},
	)
	if cfg.AssetSymbol == "" {
		cfg.AssetSymbol, cfg.FundsSymbol = "BTC", "USDT"
	}
	if cfg.BarInterval == 0 {
		cfg.BarInterval = time.Minute
	}
	if cfg.DefaultQuantity == 0 {
		cfg.DefaultQuantity = 1
	}
	deps.Book = book
	if deps.Connector == nil {
		deps.Connector = account.NewPaper(book, account.PaperOptions{Balances: map[string]float64{"USDT": 10_000}}, nil)
	}
	e, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return e
}

func bar(i int64, closePrice float64) candle.Candle {
	open := i * candle.MinuteMillis
	return candle.New(open, open+candle.MinuteMillis-1, closePrice, closePrice, closePrice, closePrice, 1)
}

func mustSync(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
}

func TestEngine_BracketStopLossClosesTrade(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, Deps{})

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Type = order.TypeMarket
	req.Price = 101
	req.Quantity = 1
	req.Attach(order.TypeMarket, 95)
	req.Attach(order.TypeMarket, 110)

	entry, err := e.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if got := e.OpenTrades(); len(got) != 1 || !got[0].IsPlaceholder() {
		t.Fatalf("expected one placeholder trade, got %v", got)
	}

	mustSync(t, e)
	tr := e.OpenTrades()[0]
	if tr.TotalUnits() != 1 || tr.AveragePrice() != 101 {
		t.Fatalf("unexpected position units=%f avg=%f", tr.TotalUnits(), tr.AveragePrice())
	}
	if len(e.PendingRequests()) != 2 || len(e.LiveOrders()) != 0 {
		t.Fatalf("brackets should wait locally: pending=%d live=%d", len(e.PendingRequests()), len(e.LiveOrders()))
	}

	if err := e.OnCandle(ctx, bar(0, 100)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	if len(e.LiveOrders()) != 0 {
		t.Fatalf("no bracket should trigger at 100")
	}

	if err := e.OnCandle(ctx, bar(1, 94)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	live := e.LiveOrders()
	if len(live) != 1 || live[0].Side() != order.SideSell {
		t.Fatalf("expected stop loss exit order, got %v", live)
	}
	if parent := live[0].Parent(); parent == nil || !parent.Equal(entry) {
		t.Fatalf("exit order should be attached to the entry")
	}

	mustSync(t, e)
	if len(e.OpenTrades()) != 0 || len(e.ClosedTrades()) != 1 {
		t.Fatalf("trade should be closed")
	}
	closed := e.ClosedTrades()[0]
	if closed.ActualProfitLoss() != -2 || closed.ExitReason != string(order.TriggerStopLoss) {
		t.Fatalf("unexpected pnl=%f reason=%s", closed.ActualProfitLoss(), closed.ExitReason)
	}
	if len(e.PendingRequests()) != 0 {
		t.Fatalf("take profit should be cancelled once the trade is closed")
	}
}

func TestEngine_BracketLegCancelsSibling(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, Deps{})

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Type = order.TypeMarket
	req.Price = 101
	req.Quantity = 1
	req.Attach(order.TypeMarket, 95)
	req.Attach(order.TypeMarket, 110)
	if _, err := e.Submit(ctx, req); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	mustSync(t, e)

	// 两根K线之间没有 Sync，止损腿未确认成交。
	if err := e.OnCandle(ctx, bar(0, 94)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	if len(e.PendingRequests()) != 0 {
		t.Fatalf("take profit leg should be cancelled once stop loss triggers, pending=%d", len(e.PendingRequests()))
	}
	if err := e.OnCandle(ctx, bar(1, 111)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	live := e.LiveOrders()
	if len(live) != 1 || live[0].Side() != order.SideSell || live[0].Quantity() != 1 {
		t.Fatalf("expected a single exit for one unit, got %v", live)
	}

	mustSync(t, e)
	closed := e.ClosedTrades()
	if len(closed) != 1 || closed[0].TotalUnits() != 1 || closed[0].ExitReason != string(order.TriggerStopLoss) {
		t.Fatalf("unexpected closed trades %v", closed)
	}
}

func TestEngine_CloseTradeStampsExitWithLastBar(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, Deps{})

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Type = order.TypeMarket
	req.Quantity = 1
	if _, err := e.Submit(ctx, req); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	mustSync(t, e)
	if err := e.OnCandle(ctx, bar(7, 100)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}

	if err := e.CloseTrade(ctx, e.OpenTrades()[0], ""); err != nil {
		t.Fatalf("CloseTrade returned error: %v", err)
	}
	live := e.LiveOrders()
	if len(live) != 1 {
		t.Fatalf("expected one exit order, got %v", live)
	}
	if got, want := live[0].Request.Time, bar(7, 100).CloseTime; got != want {
		t.Fatalf("exit request time = %d, want %d", got, want)
	}
}

func TestEngine_SignalsOpenAndCloseTrades(t *testing.T) {
	ctx := context.Background()
	recorder := &recordingSignals{}
	strat := &stubStrategy{signals: []signal.Signal{signal.Buy, signal.Sell}}
	e := newEngine(t, Config{}, Deps{Strategy: strat, Signals: recorder})

	if err := e.OnCandle(ctx, bar(0, 100)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	mustSync(t, e)
	open := e.OpenTrades()
	if len(open) != 1 || !open[0].IsLong() || open[0].TotalUnits() != 1 {
		t.Fatalf("expected long trade, got %v", open)
	}

	if err := e.OnCandle(ctx, bar(1, 100)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	mustSync(t, e)

	if len(e.OpenTrades()) != 0 {
		t.Fatalf("opposite signal should close the trade without reversing in the same bar")
	}
	closed := e.ClosedTrades()[0]
	if closed.ExitReason != ReasonOppositeSignal || closed.ActualProfitLoss() != -2 {
		t.Fatalf("unexpected close reason=%s pnl=%f", closed.ExitReason, closed.ActualProfitLoss())
	}
	if len(recorder.entries) != 2 || recorder.entries[0] != signal.Buy {
		t.Fatalf("signals should be recorded per closed bar, got %v", recorder.entries)
	}
}

func TestEngine_TradeSidePreference(t *testing.T) {
	strat := &stubStrategy{signals: []signal.Signal{signal.Buy}, side: order.TradeSideShort, hasSide: true}
	e := newEngine(t, Config{}, Deps{Strategy: strat})
	if err := e.OnCandle(context.Background(), bar(0, 100)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	if len(e.OpenTrades()) != 0 {
		t.Fatalf("short-only strategy must not open long trades")
	}
}

func TestEngine_MonitorDiscardsEntry(t *testing.T) {
	strat := &stubStrategy{signals: []signal.Signal{signal.Undervalued}}
	e := newEngine(t, Config{}, Deps{Strategy: strat, Monitors: []trade.Monitor{lossStop{discard: true}}})
	if err := e.OnCandle(context.Background(), bar(0, 100)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	if len(e.OpenTrades()) != 0 {
		t.Fatalf("monitor should discard the buy")
	}
}

func TestEngine_MonitorStopExitsAtMarket(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, Deps{Monitors: []trade.Monitor{lossStop{limit: 0.05}}})

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Type = order.TypeMarket
	req.Quantity = 1
	if _, err := e.Submit(ctx, req); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if req.Price != 101 {
		t.Fatalf("market request should be priced from the book, got %f", req.Price)
	}
	mustSync(t, e)

	if err := e.OnCandle(ctx, bar(0, 90)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	mustSync(t, e)

	closed := e.ClosedTrades()
	if len(closed) != 1 || !closed[0].IsStopped() || closed[0].ExitReason != "max_loss" {
		t.Fatalf("expected stopped trade, got %v", closed)
	}
}

func TestEngine_TriggeredEntry(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, Deps{})

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Type = order.TypeMarket
	req.Quantity = 1
	req.SetTriggerCondition(order.TriggerStopGain, 105)

	o, err := e.Submit(ctx, req)
	if err != nil || o != nil {
		t.Fatalf("inactive request should be held locally, got %v %v", o, err)
	}
	if len(e.PendingRequests()) != 1 || len(e.OpenTrades()) != 0 {
		t.Fatalf("unexpected state after holding request")
	}

	_ = e.OnCandle(ctx, bar(0, 104))
	if len(e.LiveOrders()) != 0 {
		t.Fatalf("request must not fire below trigger")
	}
	_ = e.OnCandle(ctx, bar(1, 106))
	if len(e.LiveOrders()) != 1 || len(e.OpenTrades()) != 1 {
		t.Fatalf("request should fire at 106")
	}
}

func TestEngine_ExitWithoutTrade(t *testing.T) {
	e := newEngine(t, Config{}, Deps{})
	req := order.NewRequest("BTC", "USDT", order.SideSell, order.TradeSideLong, 0)
	req.Quantity = 1
	if _, err := e.Submit(context.Background(), req); !errors.Is(err, ErrNoOpenTrade) {
		t.Fatalf("expected ErrNoOpenTrade, got %v", err)
	}

	other := order.NewRequest("ETH", "USDT", order.SideBuy, order.TradeSideLong, 0)
	other.Quantity = 1
	if _, err := e.Submit(context.Background(), other); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestEngine_CancelledEntryAbandonsTrade(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, Deps{})

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Price = 50
	req.Quantity = 1
	if _, err := e.Submit(ctx, req); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	mustSync(t, e)

	tr := e.OpenTrades()[0]
	if err := e.CloseTrade(ctx, tr, ""); err != nil {
		t.Fatalf("CloseTrade returned error: %v", err)
	}
	mustSync(t, e)

	if len(e.OpenTrades()) != 0 || !tr.IsFinalized() || tr.ExitReason != ReasonEntryCancelled {
		t.Fatalf("placeholder should be abandoned, reason=%s", tr.ExitReason)
	}
}

func TestEngine_ShortTradeAccounting(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{}, Deps{})

	req := order.NewRequest("BTC", "USDT", order.SideSell, order.TradeSideShort, 0)
	req.Type = order.TypeMarket
	req.Quantity = 2
	if _, err := e.Submit(ctx, req); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	mustSync(t, e)

	_ = e.OnBookSnapshot(
		[]orderbook.Level{{Price: 89, Quantity: 10}},
		[]orderbook.Level{{Price: 91, Quantity: 10}},
	)
	tr := e.OpenTrades()[0]
	if err := e.CloseTrade(ctx, tr, "manual"); err != nil {
		t.Fatalf("CloseTrade returned error: %v", err)
	}
	mustSync(t, e)

	// 99 卖出 2，91 买回
	if !tr.IsFinalized() || math.Abs(tr.ActualProfitLoss()-16) > 1e-9 {
		t.Fatalf("unexpected short pnl %f", tr.ActualProfitLoss())
	}
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()
	e, err := New(Config{AssetSymbol: "BTC", FundsSymbol: "USDT", BarInterval: 5 * time.Minute}, Deps{
		Connector: account.NewPaper(orderbook.New("BTCUSDT", 5), account.PaperOptions{}, nil),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Type = order.TypeMarket
	req.Quantity = 1
	if _, err := e.Submit(ctx, req); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice on empty book, got %v", err)
	}

	if err := e.OnCandle(ctx, bar(5, 100)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	if err := e.OnCandle(ctx, bar(3, 100)); !errors.Is(err, candle.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}

	if err := e.OnBookLevel(order.SideBuy, -1, 1); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if err := e.OnBookLevel(order.SideSell, 100, 2); err != nil {
		t.Fatalf("OnBookLevel returned error: %v", err)
	}
	if best, ok := e.Book().BestAsk(); !ok || best.Price != 100 {
		t.Fatalf("unexpected best ask %+v", best)
	}

	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatalf("expected error without connector")
	}
}

type groupedStrategy struct {
	stubStrategy
	group *strategy.Group
}

func (g *groupedStrategy) Group() *strategy.Group { return g.group }

func TestEngine_WarmupFeedsIndicatorsOnly(t *testing.T) {
	var seen int
	strat := &groupedStrategy{
		stubStrategy: stubStrategy{signals: []signal.Signal{signal.Buy}},
		group:        strategy.NewGroup(func(candle.Candle) { seen++ }),
	}
	e := newEngine(t, Config{}, Deps{Strategy: strat})

	for i := int64(0); i < 3; i++ {
		if err := e.Warmup(bar(i, 100)); err != nil {
			t.Fatalf("Warmup returned error: %v", err)
		}
	}
	if seen != 3 || strat.calls != 0 || len(e.OpenTrades()) != 0 {
		t.Fatalf("warmup should only accumulate: seen=%d calls=%d", seen, strat.calls)
	}
	if e.LastPrice() != 100 {
		t.Fatalf("unexpected last price %f", e.LastPrice())
	}

	if err := e.OnCandle(context.Background(), bar(3, 100)); err != nil {
		t.Fatalf("OnCandle returned error: %v", err)
	}
	if seen != 4 || strat.calls != 1 || len(e.OpenTrades()) != 1 {
		t.Fatalf("live bar should signal: seen=%d calls=%d trades=%d", seen, strat.calls, len(e.OpenTrades()))
	}
}

func TestTriggerReason_ShortInvertsDirection(t *testing.T) {
	cases := []struct {
		tradeSide order.TradeSide
		cond      order.TriggerCondition
		want      order.TriggerCondition
	}{
		{order.TradeSideLong, order.TriggerStopLoss, order.TriggerStopLoss},
		{order.TradeSideLong, order.TriggerStopGain, order.TriggerStopGain},
		{order.TradeSideShort, order.TriggerStopGain, order.TriggerStopLoss},
		{order.TradeSideShort, order.TriggerStopLoss, order.TriggerStopGain},
	}
	for _, tc := range cases {
		side := order.SideBuy
		if tc.tradeSide == order.TradeSideShort {
			side = order.SideSell
		}
		entry := order.NewRequest("BTC", "USDT", side, tc.tradeSide, 0)
		entry.Price, entry.Quantity = 100, 1
		tr := trade.New(1, order.New(1, entry), nil, nil)

		exit := order.NewRequest("BTC", "USDT", side.Opposite(), tc.tradeSide, 0)
		exit.SetTriggerCondition(tc.cond, 95)
		if got := triggerReason(tr, exit); got != string(tc.want) {
			t.Errorf("%s %s: expected %s, got %s", tc.tradeSide, tc.cond, tc.want, got)
		}
	}
}
