package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"tradecore/internal/candle"
	"tradecore/internal/signal"
)

// RSI 基于相对强弱指数给出超买超卖信号。
type RSI struct {
	period     int
	interval   int64
	oversold   float64
	overbought float64

	window   *Series
	count    int
	value    float64
	perTick  bool
	lastOpen int64
}

// NewRSI 创建 RSI 指标，interval 为K线周期（毫秒）。
func NewRSI(period int, interval int64, oversold, overbought float64) *RSI {
	if period < 2 {
		period = 14
	}
	return &RSI{
		period:     period,
		interval:   interval,
		oversold:   oversold,
		overbought: overbought,
		window:     NewWindow(period * 10),
	}
}

// Accumulate 追加K线并重算 RSI。
func (r *RSI) Accumulate(c candle.Candle) {
	if c.OpenTime != r.lastOpen || r.count == 0 {
		r.count++
		r.lastOpen = c.OpenTime
	} else if !r.perTick {
		return
	}
	r.window.Append(c)
	if r.window.Len() <= r.period {
		r.value = 0
		return
	}
	r.value = finite(Last(talib.Rsi(r.window.Close, r.period)))
}

func (r *RSI) AccumulationCount() int {
	return r.count
}

func (r *RSI) Value() float64 {
	return r.value
}

func (r *RSI) Interval() int64 {
	return r.interval
}

// Signal 按 RSI 所处区间给出信号，数据不足时为 Neutral。
func (r *RSI) Signal(candle.Candle) signal.Signal {
	if r.window.Len() <= r.period {
		return signal.Neutral
	}
	switch {
	case r.value <= r.oversold/2:
		return signal.Undervalued
	case r.value <= r.oversold:
		return signal.Buy
	case r.value >= (100+r.overbought)/2:
		return signal.Overvalued
	case r.value >= r.overbought:
		return signal.Sell
	default:
		return signal.Neutral
	}
}

func (r *RSI) SignalDescription() string {
	return fmt.Sprintf("RSI(%d)=%.2f [%.0f/%.0f]", r.period, r.value, r.oversold, r.overbought)
}

// Initialize 用聚合器最近收盘的K线预热。
func (r *RSI) Initialize(agg *candle.Aggregator) {
	if full, ok := agg.Full(); ok {
		r.Accumulate(full)
	}
}

func (r *RSI) RecalculateEveryTick(enabled bool) {
	r.perTick = enabled
}
