package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"tradecore/internal/candle"
	"tradecore/internal/signal"
)

// EMACross 基于快慢均线交叉给出信号。
type EMACross struct {
	fast, slow int
	interval   int64

	window *Series
	count  int

	fastValue, slowValue         float64
	prevFastValue, prevSlowValue float64
}

// NewEMACross 创建均线交叉指标，fast 必须小于 slow。
func NewEMACross(fast, slow int, interval int64) (*EMACross, error) {
	if fast < 2 || slow <= fast {
		return nil, fmt.Errorf("indicator: 均线周期非法 fast=%d slow=%d", fast, slow)
	}
	return &EMACross{
		fast:     fast,
		slow:     slow,
		interval: interval,
		window:   NewWindow(slow * 10),
	}, nil
}

func (e *EMACross) Accumulate(c candle.Candle) {
	e.count++
	e.window.Append(c)
	if e.window.Len() <= e.slow {
		return
	}
	fast := talib.Ema(e.window.Close, e.fast)
	slow := talib.Ema(e.window.Close, e.slow)
	e.fastValue, e.prevFastValue = finite(Last(fast)), finite(Prev(fast))
	e.slowValue, e.prevSlowValue = finite(Last(slow)), finite(Prev(slow))
}

func (e *EMACross) AccumulationCount() int {
	return e.count
}

// Value 返回快慢均线的相对差。
func (e *EMACross) Value() float64 {
	return SafeDivide(e.fastValue-e.slowValue, e.slowValue)
}

func (e *EMACross) Interval() int64 {
	return e.interval
}

// Signal 金叉为 Buy、死叉为 Sell，未交叉时按均线排列给出弱信号。
func (e *EMACross) Signal(candle.Candle) signal.Signal {
	if e.window.Len() <= e.slow+1 {
		return signal.Neutral
	}
	crossedUp := e.prevFastValue <= e.prevSlowValue && e.fastValue > e.slowValue
	crossedDown := e.prevFastValue >= e.prevSlowValue && e.fastValue < e.slowValue
	switch {
	case crossedUp:
		return signal.Undervalued
	case crossedDown:
		return signal.Overvalued
	case e.fastValue > e.slowValue:
		return signal.Buy
	case e.fastValue < e.slowValue:
		return signal.Sell
	default:
		return signal.Neutral
	}
}

func (e *EMACross) SignalDescription() string {
	return fmt.Sprintf("EMA(%d)=%.4f EMA(%d)=%.4f", e.fast, e.fastValue, e.slow, e.slowValue)
}
