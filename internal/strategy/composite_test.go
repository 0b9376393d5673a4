package strategy

import (
	"testing"
	"time"

	"tradecore/internal/candle"
	"tradecore/internal/order"
	"tradecore/internal/signal"
)

type stubIndicator struct {
	sig         signal.Signal
	count       int
	initialized bool
	recalc      bool
}

func (s *stubIndicator) Accumulate(candle.Candle) { s.count++ }
func (s *stubIndicator) AccumulationCount() int { return s.count }
func (s *stubIndicator) Value() float64 { return float64(s.count) }
func (s *stubIndicator) Interval() int64 { return candle.MinuteMillis }
func (s *stubIndicator) Signal(candle.Candle) signal.Signal { return s.sig }
func (s *stubIndicator) Initialize(*candle.Aggregator) { s.initialized = true }
func (s *stubIndicator) RecalculateEveryTick(enabled bool) { s.recalc = enabled }
func (s *stubIndicator) SignalDescription() string { return "stub" }

func TestComposite_WeightedSignal(t *testing.T) {
	buy := &stubIndicator{sig: signal.Undervalued}
	sell := &stubIndicator{sig: signal.Sell}
	group := NewGroup(nil, buy, sell)

	c := NewComposite("mix", group)
	// (1.0 - 0.5) / 2 = 0.25
	if got := c.Signal(candle.Candle{}); got != signal.Buy {
		t.Fatalf("expected buy, got %s", got)
	}

	weighted := NewComposite("weighted", group, WithWeights(1, 3))
	// (1.0 - 1.5) / 4 = -0.125
	if got := weighted.Signal(candle.Candle{}); got != signal.Neutral {
		t.Fatalf("expected neutral, got %s", got)
	}
}

func TestComposite_WarmupAndOptions(t *testing.T) {
	ind := &stubIndicator{sig: signal.Overvalued}
	group := NewGroup(nil, ind)
	c := NewComposite("warm", group, WithWarmup(2), WithTradeSide(order.TradeSideShort), WithExitOnOppositeSignal(false))

	group.Accumulate(candle.Candle{})
	if got := c.Signal(candle.Candle{}); got != signal.Neutral {
		t.Fatalf("expected neutral during warmup, got %s", got)
	}
	group.Accumulate(candle.Candle{})
	if got := c.Signal(candle.Candle{}); got != signal.Overvalued {
		t.Fatalf("expected overvalued after warmup, got %s", got)
	}

	side, ok := c.TradeSide()
	if !ok || side != order.TradeSideShort || c.ExitOnOppositeSignal() {
		t.Fatalf("options not applied: side=%s ok=%v exit=%v", side, ok, c.ExitOnOppositeSignal())
	}
}

func TestGroup_FanOut(t *testing.T) {
	a, b := &stubIndicator{}, &stubIndicator{}
	var seen int
	group := NewGroup(func(candle.Candle) { seen++ }, a)
	group.Add(b)

	agg, _ := candle.NewAggregator(time.Minute)
	group.Initialize(agg)
	group.RecalculateEveryTick(true)
	group.Accumulate(candle.Candle{})

	if !a.initialized || !b.initialized || !group.IsInitialized() {
		t.Fatalf("initialize should reach every indicator")
	}
	if !a.recalc || !b.recalc {
		t.Fatalf("recalculate flag should reach every indicator")
	}
	if a.count != 1 || b.count != 1 || seen != 1 {
		t.Fatalf("accumulate fan-out failed: a=%d b=%d seen=%d", a.count, b.count, seen)
	}
	if SignalDescription(a) != "stub" {
		t.Fatalf("unexpected description")
	}
}
