package risk

// 止损原因。
const (
	ReasonMaxTradeLoss = "max_trade_loss"
	ReasonTakeProfit   = "take_profit"
	ReasonTrailingStop = "trailing_stop"
)

// DailyStatus 表示当日风控状态。
type DailyStatus struct {
	TradingDate   string
	StartEquity   float64
	PeakEquity    float64
	CurrentEquity float64
	// LossPercent 为相对开盘权益的变化，亏损为负。
	LossPercent float64
	// Drawdown 为相对当日峰值的回撤比例，非负。
	Drawdown float64
	Stops    int
	Halted   bool
}
