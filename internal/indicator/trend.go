package indicator

import (
	"fmt"

	"tradecore/internal/candle"
	"tradecore/internal/signal"
)

// Trend 综合 MACD、布林带和 EMA 排列判断趋势，基于 Calculator。
type Trend struct {
	calc     *Calculator
	interval int64
	window   *Series
	count    int
	last     Result
	ready    bool
}

// NewTrend 创建趋势指标，calc 为 nil 时新建。
func NewTrend(calc *Calculator, interval int64) *Trend {
	if calc == nil {
		calc = NewCalculator()
	}
	return &Trend{
		calc:     calc,
		interval: interval,
		window:   NewWindow(MinCandles * 4),
	}
}

func (t *Trend) Accumulate(c candle.Candle) {
	t.count++
	t.window.Append(c)
	res, err := t.calc.Compute(t.interval, *t.window)
	if err != nil {
		t.ready = false
		return
	}
	t.last = res
	t.ready = true
}

func (t *Trend) AccumulationCount() int {
	return t.count
}

// Value 返回 MACD 柱值。
func (t *Trend) Value() float64 {
	if !t.ready {
		return 0
	}
	return finite(t.last.MACD.Histogram)
}

func (t *Trend) Interval() int64 {
	return t.interval
}

// Result 返回最近一次指标快照。
func (t *Trend) Result() (Result, bool) {
	return t.last, t.ready
}

// Signal 多头排列且 MACD 柱放大为买入；价格贴近布林带下轨时视为低估，上轨反之。
func (t *Trend) Signal(candle.Candle) signal.Signal {
	if !t.ready {
		return signal.Neutral
	}
	r := t.last
	hist, prev := finite(r.MACD.Histogram), finite(r.MACD.PrevHistogram)
	bullish := r.FastEMA > r.SlowEMA && hist > 0 && hist >= prev
	bearish := r.FastEMA < r.SlowEMA && hist < 0 && hist <= prev

	switch {
	case bullish && r.Band.Position <= 0.2:
		return signal.Undervalued
	case bullish:
		return signal.Buy
	case bearish && r.Band.Position >= 0.8:
		return signal.Overvalued
	case bearish:
		return signal.Sell
	default:
		return signal.Neutral
	}
}

func (t *Trend) SignalDescription() string {
	if !t.ready {
		return "trend: warming up"
	}
	r := t.last
	return fmt.Sprintf("MACD hist=%.4f BB pos=%.2f RSI=%.2f ATR=%.2f%%", r.MACD.Histogram, r.Band.Position, r.RSI, r.ATR*100)
}
