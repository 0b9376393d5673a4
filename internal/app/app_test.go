package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/account"
	"tradecore/internal/backtest"
	"tradecore/internal/candle"
	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/exchange"
	"tradecore/internal/metrics"
	"tradecore/internal/monitor"
	"tradecore/internal/order"
	"tradecore/internal/orderbook"
	"tradecore/internal/risk"
	"tradecore/internal/store"
)

type fakeSource struct {
	snapshots []exchange.MarketSnapshot
	calls     int
	err       error
}

func (f *fakeSource) GetSnapshot(context.Context, exchange.SnapshotRequest) (exchange.MarketSnapshot, error) {
	if f.err != nil {
		return exchange.MarketSnapshot{}, f.err
	}
	snap := f.snapshots[f.calls]
	if f.calls < len(f.snapshots)-1 {
		f.calls++
	}
	return snap, nil
}

func minuteCandles(from, to int64, price float64) []candle.Candle {
	var out []candle.Candle
	for i := from; i < to; i++ {
		open := i * candle.MinuteMillis
		out = append(out, candle.New(open, open+candle.MinuteMillis-1, price, price, price, price, 1))
	}
	return out
}

func snapshotAt(minute int64, candles []candle.Candle) exchange.MarketSnapshot {
	return exchange.MarketSnapshot{
		Symbol:  "BTC/USDT:USDT",
		Candles: candles,
		OrderBook: exchange.OrderBookSnapshot{
			Bids: []orderbook.Level{{Price: 99, Quantity: 5}},
			Asks: []orderbook.Level{{Price: 101, Quantity: 5}},
		},
		// 最后一根K线尚未收盘
		RetrievedAt: time.UnixMilli(minute*candle.MinuteMillis + 1000),
	}
}

func newTestOrchestrator(t *testing.T, source marketSource) (*orchestrator, *marketPipeline) {
	t.Helper()
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	svc, err := monitor.NewService(s, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	riskMgr, _ := risk.NewManager(config.RiskConfig{}, nil, nil)

	book := orderbook.New("BTCUSDT", 10)
	paper := account.NewPaper(book, account.PaperOptions{Balances: map[string]float64{"USDT": 10_000}}, nil)
	eng, err := engine.New(engine.Config{AssetSymbol: "BTC", FundsSymbol: "USDT", BarInterval: time.Minute}, engine.Deps{
		Connector: paper,
		Book:      book,
		Journal:   svc,
	})
	if err != nil {
		t.Fatalf("engine.New returned error: %v", err)
	}

	m := &marketPipeline{
		exchangeSymbol: "BTC/USDT:USDT",
		assetSymbol:    "BTC",
		fundsSymbol:    "USDT",
		source:         source,
		engine:         eng,
		connector:      paper,
	}
	o := &orchestrator{
		markets: []*marketPipeline{m},
		risk:    riskMgr,
		monitor: svc,
		metrics: metrics.New(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	return o, m
}

func TestOrchestrator_WarmupThenLiveCandles(t *testing.T) {
	source := &fakeSource{snapshots: []exchange.MarketSnapshot{
		snapshotAt(3, minuteCandles(0, 4, 100)),
		snapshotAt(5, minuteCandles(2, 6, 102)),
	}}
	o, m := newTestOrchestrator(t, source)
	ctx := context.Background()

	if err := o.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if !m.warmedUp || m.lastOpen != 2*candle.MinuteMillis {
		t.Fatalf("forming candle must be skipped: lastOpen=%d", m.lastOpen)
	}
	if full, ok := m.engine.Aggregator().Full(); !ok || full.OpenTime != 2*candle.MinuteMillis {
		t.Fatalf("warmup should feed the aggregator, got %+v", full)
	}
	if m.lastPrice != 100 {
		t.Fatalf("expected mid price 100, got %f", m.lastPrice)
	}

	if err := o.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if m.lastOpen != 4*candle.MinuteMillis || m.engine.LastPrice() != 102 {
		t.Fatalf("expected minutes 3 and 4 to be processed, lastOpen=%d price=%f", m.lastOpen, m.engine.LastPrice())
	}

	events, err := o.monitor.ListEvents(ctx, monitor.Query{Type: monitor.EventEquity, Limit: 10})
	if err != nil || len(events) != 2 {
		t.Fatalf("expected an equity event per tick, got %d err=%v", len(events), err)
	}
}

func TestOrchestrator_EquityIncludesPosition(t *testing.T) {
	o, m := newTestOrchestrator(t, &fakeSource{snapshots: []exchange.MarketSnapshot{snapshotAt(1, nil)}})
	ctx := context.Background()
	if err := o.step(ctx, m); err != nil {
		t.Fatalf("step returned error: %v", err)
	}

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Type = order.TypeMarket
	req.Quantity = 1
	if _, err := m.engine.Submit(ctx, req); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := m.engine.Sync(ctx); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	equity, err := o.equity(ctx)
	if err != nil {
		t.Fatalf("equity returned error: %v", err)
	}
	// 101 买入 1，按中间价 100 估值
	if equity != 9_999 {
		t.Fatalf("unexpected equity %f", equity)
	}
}

func TestClosedCandles(t *testing.T) {
	candles := minuteCandles(0, 5, 1)
	got := closedCandles(candles, 1*candle.MinuteMillis, 4*candle.MinuteMillis+10)
	if len(got) != 2 || got[0].OpenTime != 2*candle.MinuteMillis {
		t.Fatalf("unexpected candles %+v", got)
	}
}

func TestParseMarket(t *testing.T) {
	tests := []struct {
		in           string
		asset, funds string
		wantErr      bool
	}{
		{in: "BTC/USDT:USDT", asset: "BTC", funds: "USDT"},
		{in: "eth/usdt", asset: "ETH", funds: "USDT"},
		{in: "BTCUSDT", wantErr: true},
		{in: "/USDT", wantErr: true},
	}
	for _, tt := range tests {
		asset, funds, err := parseMarket(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: unexpected error %v", tt.in, err)
		}
		if asset != tt.asset || funds != tt.funds {
			t.Fatalf("%s: got %s %s", tt.in, asset, funds)
		}
	}
}

func TestBuildStrategy(t *testing.T) {
	cfg := config.StrategyConfig{
		TradeSide:            "LONG",
		ExitOnOppositeSignal: true,
		RSIPeriod:            14,
		RSIOversold:          30,
		RSIOverbought:        70,
		EMAFast:              12,
		EMASlow:              26,
	}
	s, err := buildStrategy(cfg, time.Hour)
	if err != nil {
		t.Fatalf("buildStrategy returned error: %v", err)
	}
	if side, ok := s.TradeSide(); !ok || side != order.TradeSideLong {
		t.Fatalf("unexpected trade side %s %v", side, ok)
	}
	if s.Name() != "composite" || !s.ExitOnOppositeSignal() {
		t.Fatalf("unexpected strategy %s", s.Name())
	}

	cfg.EMAFast, cfg.EMASlow = 26, 12
	if _, err := buildStrategy(cfg, time.Hour); err == nil {
		t.Fatalf("expected error for inverted EMA periods")
	}
}

func TestFeePolicy(t *testing.T) {
	policy := feePolicy(config.FeesConfig{Maker: 0.001, Taker: 0.002, Flat: 1})
	if got := policy.TakeFee(1000, order.TypeMarket, order.SideBuy); math.Abs(got-3) > 1e-9 {
		t.Fatalf("expected taker fee plus flat fee, got %f", got)
	}
}

func TestOrchestrator_SkipsMaintenance(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("exchange: 获取行情快照失败: %w", exchange.ErrMaintenance)}
	o, m := newTestOrchestrator(t, src)
	if err := o.step(context.Background(), m); err != nil {
		t.Fatalf("maintenance should skip the round, got %v", err)
	}
	if m.warmedUp {
		t.Fatalf("skipped round must not warm up the pipeline")
	}

	src.err = errors.New("timeout")
	if err := o.step(context.Background(), m); err == nil {
		t.Fatalf("other snapshot errors should propagate")
	}
}

func TestMonitorHandler(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeSource{})
	o.monitor.RecordError(context.Background(), "boom", nil, nil)
	o.metrics.OrderSubmitted("BTCUSDT", "buy", true)
	handler := newMonitorHandler(o.monitor, o.metrics, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?type=ERROR&limit=5000", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var events []monitor.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil || len(events) != 1 {
		t.Fatalf("unexpected events %s err=%v", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?since=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid since should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "tradecore_orders_total") {
		t.Fatalf("metrics endpoint missing counters: %s", rec.Body.String())
	}
}

func TestRunBacktest(t *testing.T) {
	cfg := &config.Config{
		Exchange: config.ExchangeConfig{Markets: []string{"BTC/USDT:USDT"}},
		Engine:   config.EngineConfig{BarInterval: time.Minute, DefaultQuantity: 1},
		Strategy: config.StrategyConfig{RSIPeriod: 3, RSIOversold: 30, RSIOverbought: 70, EMAFast: 2, EMASlow: 4},
		Paper:    config.PaperConfig{Balances: map[string]float64{"usdt": 10_000}},
	}

	result, err := runBacktest(context.Background(), cfg, backtest.NewSliceCandleProvider(minuteCandles(0, 20, 100)), zap.NewNop())
	if err != nil {
		t.Fatalf("runBacktest returned error: %v", err)
	}
	if len(result.EquityCurve) < 20 || result.FinalEquity <= 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, tr := range result.Trades {
		if !tr.IsFinalized() {
			t.Fatalf("trade %d left open after backtest", tr.ID)
		}
	}
}

func TestPeriodsPerYear(t *testing.T) {
	if got := periodsPerYear(time.Hour); got != 24*365 {
		t.Fatalf("expected 8760, got %v", got)
	}
	if got := periodsPerYear(0); got != 0 {
		t.Fatalf("expected 0 for empty interval, got %v", got)
	}
}
