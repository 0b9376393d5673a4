package strategy

import (
	"tradecore/internal/candle"
	"tradecore/internal/order"
	"tradecore/internal/signal"
)

// Indicator 累积K线并给出信号。
type Indicator interface {
	// Accumulate 处理一根新K线。
	Accumulate(c candle.Candle)
	// AccumulationCount 返回已累积的K线数量。
	AccumulationCount() int
	// Value 返回指标当前值，数据不足时为0。
	Value() float64
	// Interval 返回指标使用的K线周期（毫秒）。
	Interval() int64
	Signal(c candle.Candle) signal.Signal
}

// Describer 由能输出信号说明的指标实现。
type Describer interface {
	SignalDescription() string
}

// Initializer 由需要从聚合器预热的指标实现。
type Initializer interface {
	Initialize(agg *candle.Aggregator)
}

// TickRecalculator 由支持逐笔重算的指标实现。
type TickRecalculator interface {
	RecalculateEveryTick(enabled bool)
}

// Strategy 根据K线输出交易信号。
type Strategy interface {
	Name() string
	Signal(c candle.Candle) signal.Signal
	// TradeSide 返回偏好的多空方向，ok 为 false 表示不限。
	TradeSide() (side order.TradeSide, ok bool)
	// ExitOnOppositeSignal 判断出现反向信号时是否离场。
	ExitOnOppositeSignal() bool
}

// Grouped 由持有指标组的策略实现，引擎据此向指标分发收盘K线。
type Grouped interface {
	Group() *Group
}

// SignalDescription 返回指标的信号说明，未实现 Describer 时为空。
func SignalDescription(ind Indicator) string {
	if d, ok := ind.(Describer); ok {
		return d.SignalDescription()
	}
	return ""
}
