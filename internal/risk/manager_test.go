package risk

import (
	"context"
	"testing"
	"time"

	"tradecore/internal/candle"
	"tradecore/internal/config"
	"tradecore/internal/order"
	"tradecore/internal/store"
	"tradecore/internal/trade"
)

func openTrade(t *testing.T, m *Manager, price float64) *trade.Trade {
	t.Helper()
	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Price, req.Quantity = price, 1
	o := order.New(1, req)
	tr := trade.New(1, o, nil, nil, m)
	_ = o.Fill(price, 1)
	if _, err := tr.AddEntryFill(o, price, 1); err != nil {
		t.Fatalf("AddEntryFill returned error: %v", err)
	}
	return tr
}

func tick(tr *trade.Trade, i int64, price float64) (string, bool) {
	open := i * candle.MinuteMillis
	return tr.Tick(candle.New(open, open+candle.MinuteMillis-1, price, price, price, price, 1))
}

func TestManager_HandleStop(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.RiskConfig
		prices []float64
		reason string
	}{
		{name: "max loss", cfg: config.RiskConfig{MaxTradeLoss: 0.05}, prices: []float64{96, 94}, reason: ReasonMaxTradeLoss},
		{name: "take profit", cfg: config.RiskConfig{TakeProfit: 0.1}, prices: []float64{105, 111}, reason: ReasonTakeProfit},
		{name: "trailing", cfg: config.RiskConfig{TrailingStop: 0.03}, prices: []float64{108, 106, 104}, reason: ReasonTrailingStop},
		{name: "none", cfg: config.RiskConfig{}, prices: []float64{50, 150}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.cfg, nil, nil)
			if err != nil {
				t.Fatalf("NewManager returned error: %v", err)
			}
			tr := openTrade(t, m, 100)

			var (
				reason string
				stop   bool
			)
			for i, p := range tt.prices {
				reason, stop = tick(tr, int64(i), p)
				if stop && i != len(tt.prices)-1 {
					t.Fatalf("stopped early at %f with %s", p, reason)
				}
			}
			if reason != tt.reason || stop != (tt.reason != "") {
				t.Fatalf("expected %q, got %q stop=%v", tt.reason, reason, stop)
			}
		})
	}
}

func TestManager_DailyHalt(t *testing.T) {
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	m, err := NewManager(config.RiskConfig{MaxDailyLoss: 0.03, EnableDailyStopLoss: true}, s, nil)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	ctx := context.Background()
	day := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	if _, err := m.UpdateEquity(ctx, day, 10_000); err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}
	status, err := m.UpdateEquity(ctx, day.Add(time.Hour), 9_800)
	if err != nil || status.Halted || m.DiscardBuy(nil) {
		t.Fatalf("2%% loss must not halt: %+v err=%v", status, err)
	}

	status, _ = m.UpdateEquity(ctx, day.Add(2*time.Hour), 9_600)
	if !status.Halted || !m.DiscardBuy(nil) || !m.DiscardShortSell(nil) {
		t.Fatalf("4%% loss should halt entries: %+v", status)
	}
	if status.StartEquity != 10_000 || status.TradingDate != "2024-05-01" {
		t.Fatalf("unexpected status %+v", status)
	}

	status, _ = m.UpdateEquity(ctx, day.Add(24*time.Hour), 9_600)
	if status.Halted || m.Halted() {
		t.Fatalf("new trading day should reset the halt: %+v", status)
	}
}

func TestManager_DailyTrackingDisabled(t *testing.T) {
	m, err := NewManager(config.RiskConfig{MaxDailyLoss: 0.01}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	status, err := m.UpdateEquity(context.Background(), time.Now(), 1)
	if err != nil || status.Halted || m.Halted() {
		t.Fatalf("tracking disabled should never halt: %+v err=%v", status, err)
	}
}

func TestTradingDay(t *testing.T) {
	ts := time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC)
	if got := tradingDay(ts, 8); got != "2024-05-01" {
		t.Fatalf("expected previous day before reset hour, got %s", got)
	}
	if got := tradingDay(ts, 0); got != "2024-05-02" {
		t.Fatalf("unexpected day %s", got)
	}
}

func TestManager_DailyStatusTracksPeakAndStops(t *testing.T) {
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	m, err := NewManager(config.RiskConfig{MaxTradeLoss: 0.05, MaxDailyLoss: 0.05, EnableDailyStopLoss: true}, s, nil)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	tr := openTrade(t, m, 100)
	if _, stop := tick(tr, 0, 94); !stop {
		t.Fatalf("expected max loss stop")
	}

	ctx := context.Background()
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if _, err := m.UpdateEquity(ctx, day, 1_000); err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}
	if _, err := m.UpdateEquity(ctx, day.Add(time.Hour), 1_200); err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}
	status, err := m.UpdateEquity(ctx, day.Add(2*time.Hour), 900)
	if err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}

	if status.PeakEquity != 1_200 || status.Stops != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Drawdown != 0.25 || status.LossPercent != -0.1 {
		t.Fatalf("unexpected drawdown %+v", status)
	}
	if !status.Halted {
		t.Fatalf("10%% daily loss should halt")
	}

	halts, err := m.tracker.Halts(ctx, status.TradingDate)
	if err != nil || halts != 1 {
		t.Fatalf("expected one halt event, got %d err=%v", halts, err)
	}
}
