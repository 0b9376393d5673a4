package strategy

import (
	"tradecore/internal/candle"
)

// Group 将一组指标作为整体初始化和累积。
type Group struct {
	indicators  []Indicator
	initialized bool
	onCandle    func(candle.Candle)
}

// NewGroup 创建指标组，onCandle 在所有指标累积后调用，可为 nil。
func NewGroup(onCandle func(candle.Candle), indicators ...Indicator) *Group {
	return &Group{
		indicators: indicators,
		onCandle:   onCandle,
	}
}

// Indicators 返回组内指标。
func (g *Group) Indicators() []Indicator {
	out := make([]Indicator, len(g.indicators))
	copy(out, g.indicators)
	return out
}

func (g *Group) Add(ind Indicator) {
	g.indicators = append(g.indicators, ind)
}

func (g *Group) IsInitialized() bool {
	return g.initialized
}

// Initialize 用聚合器的已收盘K线预热指标，只执行一次。
func (g *Group) Initialize(agg *candle.Aggregator) {
	if g.initialized || len(g.indicators) == 0 {
		return
	}
	for _, ind := range g.indicators {
		if init, ok := ind.(Initializer); ok {
			init.Initialize(agg)
		}
	}
	g.initialized = true
}

// RecalculateEveryTick 向支持的指标传递逐笔重算开关。
func (g *Group) RecalculateEveryTick(enabled bool) {
	for _, ind := range g.indicators {
		if r, ok := ind.(TickRecalculator); ok {
			r.RecalculateEveryTick(enabled)
		}
	}
}

// Accumulate 将K线分发给全部指标。
func (g *Group) Accumulate(c candle.Candle) {
	for _, ind := range g.indicators {
		ind.Accumulate(c)
	}
	if g.onCandle != nil {
		g.onCandle(c)
	}
}
