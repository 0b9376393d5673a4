package trade

import (
	"tradecore/internal/candle"
	"tradecore/internal/order"
	"tradecore/internal/strategy"
)

// Monitor 接收持仓生命周期回调，用于止损、止盈及开仓过滤。
type Monitor interface {
	// HandleStop 返回非空原因时要求立即平仓。
	HandleStop(t *Trade) (reason string, stop bool)
	DiscardBuy(s strategy.Strategy) bool
	DiscardShortSell(s strategy.Strategy) bool
	AllowMixedStrategies() bool
	HighestProfit(t *Trade, change float64)
	WorstLoss(t *Trade, change float64)
	Bought(t *Trade, o *order.Order)
	Sold(t *Trade, o *order.Order)
	AllowExit(t *Trade) bool
	AllowTradeSwitch(t *Trade, exitSymbol string, c candle.Candle, candleTicker string) bool
}

// NopMonitor 提供全部回调的默认实现，可嵌入到具体 Monitor 中。
type NopMonitor struct{}

var _ Monitor = NopMonitor{}

func (NopMonitor) HandleStop(*Trade) (string, bool) { return "", false }
func (NopMonitor) DiscardBuy(strategy.Strategy) bool { return false }
func (NopMonitor) DiscardShortSell(strategy.Strategy) bool { return false }
func (NopMonitor) AllowMixedStrategies() bool { return true }
func (NopMonitor) HighestProfit(*Trade, float64) {}
func (NopMonitor) WorstLoss(*Trade, float64) {}
func (NopMonitor) Bought(*Trade, *order.Order) {}
func (NopMonitor) Sold(*Trade, *order.Order) {}
func (NopMonitor) AllowExit(*Trade) bool { return true }
func (NopMonitor) AllowTradeSwitch(*Trade, string, candle.Candle, string) bool {
	return false
}
