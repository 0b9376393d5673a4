package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"tradecore/internal/candle"
	"tradecore/internal/order"
	"tradecore/internal/signal"
)

type scriptedStrategy struct {
	signals []signal.Signal
	n       int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Signal(candle.Candle) signal.Signal {
	defer func() { s.n++ }()
	if s.n < len(s.signals) {
		return s.signals[s.n]
	}
	return signal.Neutral
}

func (s *scriptedStrategy) TradeSide() (order.TradeSide, bool) { return "", false }

func (s *scriptedStrategy) ExitOnOppositeSignal() bool { return true }

func hourly(closes ...float64) []candle.Candle {
	width := time.Hour.Milliseconds()
	out := make([]candle.Candle, 0, len(closes))
	for i, c := range closes {
		open := int64(i) * width
		out = append(out, candle.New(open, open+width-1, c, c, c, c, 10))
	}
	return out
}

func run(t *testing.T, closes []float64, signals []signal.Signal) Result {
	t.Helper()
	cfg := Config{AssetSymbol: "BTC", FundsSymbol: "USDT", InitialEquity: 10_000}
	eng, err := NewEngine(cfg, NewSliceCandleProvider(hourly(closes...)), &scriptedStrategy{signals: signals}, Options{})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	result, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	return result
}

func TestEngine_RoundTrip(t *testing.T) {
	result := run(t,
		[]float64{100, 105, 110, 108},
		[]signal.Signal{signal.Buy, signal.Neutral, signal.Sell, signal.Neutral},
	)

	if len(result.Trades) != 1 || result.Wins != 1 || result.Losses != 0 {
		t.Fatalf("expected one winning trade, got %d trades wins=%d", len(result.Trades), result.Wins)
	}
	if math.Abs(result.ProfitLoss-10) > 1e-9 || math.Abs(result.FinalEquity-10_010) > 1e-9 {
		t.Fatalf("unexpected pnl=%f equity=%f", result.ProfitLoss, result.FinalEquity)
	}
	if result.Trades[0].ExitReason != "opposite_signal" {
		t.Fatalf("unexpected exit reason %s", result.Trades[0].ExitReason)
	}
	if result.Metrics.MaxDrawdown != 0 || math.Abs(result.Metrics.TotalReturn-0.001) > 1e-9 {
		t.Fatalf("unexpected metrics %+v", result.Metrics)
	}
	if result.WinRate() != 1 {
		t.Fatalf("unexpected win rate %f", result.WinRate())
	}
}

func TestEngine_ClosesAtEndOfData(t *testing.T) {
	result := run(t, []float64{100, 90}, []signal.Signal{signal.Undervalued})

	if len(result.Trades) != 1 || result.Trades[0].ExitReason != ReasonEndOfData {
		t.Fatalf("open trade should be closed at end of data: %+v", result.Trades)
	}
	if math.Abs(result.ProfitLoss+10) > 1e-9 || result.Losses != 1 {
		t.Fatalf("unexpected pnl %f", result.ProfitLoss)
	}
	if math.Abs(result.Metrics.MaxDrawdown-0.001) > 1e-9 {
		t.Fatalf("unexpected drawdown %f", result.Metrics.MaxDrawdown)
	}
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(Config{}, nil, &scriptedStrategy{}, Options{}); err == nil {
		t.Fatalf("expected error without provider")
	}
	if _, err := NewEngine(Config{AssetSymbol: "BTC", FundsSymbol: "USDT"}, NewSliceCandleProvider(nil), nil, Options{}); err == nil {
		t.Fatalf("expected error without strategy")
	}
}
