package strategy

import (
	"tradecore/internal/candle"
	"tradecore/internal/order"
	"tradecore/internal/signal"
)

// Composite 按指标信号权重的加权平均生成信号。
type Composite struct {
	name     string
	group    *Group
	weights  []float64
	side     order.TradeSide
	hasSide  bool
	exitOpp  bool
	minCount int
}

var _ Grouped = (*Composite)(nil)

// CompositeOption 调整 Composite 行为。
type CompositeOption func(*Composite)

// WithTradeSide 限定只开指定方向的仓位。
func WithTradeSide(side order.TradeSide) CompositeOption {
	return func(c *Composite) {
		c.side = side
		c.hasSide = true
	}
}

// WithWeights 为每个指标设置权重，缺省为1。
func WithWeights(weights ...float64) CompositeOption {
	return func(c *Composite) {
		c.weights = weights
	}
}

// WithExitOnOppositeSignal 设置反向信号是否离场。
func WithExitOnOppositeSignal(exit bool) CompositeOption {
	return func(c *Composite) {
		c.exitOpp = exit
	}
}

// WithWarmup 指定全部指标至少累积 n 根K线后才输出非中性信号。
func WithWarmup(n int) CompositeOption {
	return func(c *Composite) {
		c.minCount = n
	}
}

// NewComposite 创建组合策略。
func NewComposite(name string, group *Group, opts ...CompositeOption) *Composite {
	c := &Composite{
		name:    name,
		group:   group,
		exitOpp: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composite) Name() string {
	return c.name
}

// Group 返回底层指标组。
func (c *Composite) Group() *Group {
	return c.group
}

func (c *Composite) TradeSide() (order.TradeSide, bool) {
	return c.side, c.hasSide
}

func (c *Composite) ExitOnOppositeSignal() bool {
	return c.exitOpp
}

// Signal 计算加权信号；指标未预热完成时返回 Neutral。
func (c *Composite) Signal(cd candle.Candle) signal.Signal {
	indicators := c.group.Indicators()
	if len(indicators) == 0 {
		return signal.Neutral
	}

	var score, total float64
	for i, ind := range indicators {
		if ind.AccumulationCount() < c.minCount {
			return signal.Neutral
		}
		w := 1.0
		if i < len(c.weights) {
			w = c.weights[i]
		}
		score += ind.Signal(cd).Weight() * w
		total += w
	}
	if total == 0 {
		return signal.Neutral
	}
	return signal.FromWeight(score / total)
}
