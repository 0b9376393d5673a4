package trade

import (
	"errors"
	"fmt"
	"math"

	"tradecore/internal/candle"
	"tradecore/internal/fees"
	"tradecore/internal/order"
	"tradecore/internal/strategy"
)

var (
	// ErrFinalized 表示持仓已结束，不能再追加订单或成交。
	ErrFinalized = errors.New("trade finalized")
	// ErrNoPosition 表示持仓尚无开仓成交。
	ErrNoPosition = errors.New("trade has no position")
	// ErrHasPosition 表示持仓已有成交，不能作废。
	ErrHasPosition = errors.New("trade has position")
	// ErrInvalidFill 表示成交价格或数量非法。
	ErrInvalidFill = errors.New("invalid trade fill")
)

const quantityTolerance = 1e-9

// Trade 汇总开仓与平仓订单，维护持仓成本与盈亏。
//
// 生命周期：占位（尚无成交）-> 持仓 -> 结束。结束后数量与盈亏不可变。
type Trade struct {
	ID        uint64
	Symbol    string
	Side      order.Side
	TradeSide order.TradeSide

	// Strategy 为触发开仓的策略，可为 nil。
	Strategy    strategy.Strategy
	FirstCandle candle.Candle
	ExitReason  string

	position   []*order.Order
	exitOrders []*order.Order

	placeholder bool
	finalized   bool
	stopped     bool

	averagePrice float64
	totalUnspent float64
	totalUnits   float64

	finalizedQuantity float64
	exitProceeds      float64
	entryFees         float64
	exitFees          float64

	ticks     int
	lastClose float64
	max       float64
	min       float64
	maxChange float64
	minChange float64
	change    float64

	actualProfitLoss    float64
	actualProfitLossPct float64

	fees     fees.Policy
	monitors []Monitor
}

// New 以开仓订单创建占位持仓，平仓方向与开仓订单相反。
func New(id uint64, opening *order.Order, s strategy.Strategy, policy fees.Policy, monitors ...Monitor) *Trade {
	if policy == nil {
		policy = fees.None
	}
	t := &Trade{
		ID:          id,
		Symbol:      opening.Request.Symbol(),
		Side:        opening.Side().Opposite(),
		TradeSide:   opening.Request.TradeSide,
		Strategy:    s,
		placeholder: true,
		min:         math.MaxFloat64,
		fees:        policy,
		monitors:    append([]Monitor{}, monitors...),
	}
	t.attach(opening, false)
	return t
}

func (t *Trade) attach(o *order.Order, exit bool) {
	o.TradeID = t.ID
	list := &t.position
	if exit {
		list = &t.exitOrders
	}
	for _, existing := range *list {
		if existing.Equal(o) {
			return
		}
	}
	*list = append(*list, o)
}

// AddEntryOrder 登记一笔开仓订单。
func (t *Trade) AddEntryOrder(o *order.Order) error {
	if t.finalized {
		return fmt.Errorf("trade: 持仓 %d 已结束，拒绝开仓订单 %d: %w", t.ID, o.ID, ErrFinalized)
	}
	t.attach(o, false)
	return nil
}

// AddExitOrder 登记一笔平仓订单。
func (t *Trade) AddExitOrder(o *order.Order) error {
	if t.finalized {
		return fmt.Errorf("trade: 持仓 %d 已结束，拒绝平仓订单 %d: %w", t.ID, o.ID, ErrFinalized)
	}
	t.attach(o, true)
	return nil
}

func validFill(price, quantity float64) bool {
	if math.IsNaN(price) || math.IsNaN(quantity) || math.IsInf(price, 0) || math.IsInf(quantity, 0) {
		return false
	}
	return price > 0 && quantity > 0
}

// AddEntryFill 计入开仓成交，更新加权成本，返回本次手续费。
func (t *Trade) AddEntryFill(o *order.Order, price, quantity float64) (float64, error) {
	if t.finalized {
		return 0, fmt.Errorf("trade: 持仓 %d 已结束: %w", t.ID, ErrFinalized)
	}
	if !validFill(price, quantity) {
		return 0, fmt.Errorf("trade: 持仓 %d 开仓成交 price=%f qty=%f: %w", t.ID, price, quantity, ErrInvalidFill)
	}
	t.attach(o, false)

	fee := t.fees.TakeFee(price*quantity, o.Type(), o.Side())
	o.FeesPaid += fee
	t.entryFees += fee

	t.totalUnits += quantity
	t.totalUnspent += quantity * price
	t.averagePrice = t.totalUnspent / t.totalUnits
	t.placeholder = false

	for _, m := range t.monitors {
		m.Bought(t, o)
	}
	return fee, nil
}

// AddExitFill 计入平仓成交；累计平仓数量达到持仓数量时结束持仓。
// 超出持仓的数量被截断。
func (t *Trade) AddExitFill(o *order.Order, price, quantity float64) (float64, error) {
	if t.finalized {
		return 0, fmt.Errorf("trade: 持仓 %d 已结束: %w", t.ID, ErrFinalized)
	}
	if t.totalUnits == 0 {
		return 0, fmt.Errorf("trade: 持仓 %d 平仓: %w", t.ID, ErrNoPosition)
	}
	if !validFill(price, quantity) {
		return 0, fmt.Errorf("trade: 持仓 %d 平仓成交 price=%f qty=%f: %w", t.ID, price, quantity, ErrInvalidFill)
	}
	t.attach(o, true)

	quantity = math.Min(quantity, t.totalUnits-t.finalizedQuantity)
	fee := t.fees.TakeFee(price*quantity, o.Type(), o.Side())
	o.FeesPaid += fee
	t.exitFees += fee

	t.exitProceeds += price * quantity
	t.finalizedQuantity += quantity

	for _, m := range t.monitors {
		m.Sold(t, o)
	}

	if t.finalizedQuantity >= t.totalUnits-quantityTolerance {
		t.finalizedQuantity = t.totalUnits
		t.finalize()
	}
	return fee, nil
}

func (t *Trade) finalize() {
	t.finalized = true
	if t.ExitReason == "" {
		t.ExitReason = "exit"
	}

	t.actualProfitLoss = t.profitLoss(t.exitProceeds, t.finalizedQuantity) - t.entryFees - t.exitFees
	if t.totalUnspent == 0 {
		t.actualProfitLossPct = 0
		return
	}
	t.actualProfitLossPct = t.actualProfitLoss / t.totalUnspent * 100
}

// profitLoss 计算平仓 quantity 得到 proceeds 时的毛盈亏。
func (t *Trade) profitLoss(proceeds, quantity float64) float64 {
	cost := t.averagePrice * quantity
	if t.IsShort() {
		return cost - proceeds
	}
	return proceeds - cost
}

// Abandon 作废未成交的占位持仓。
func (t *Trade) Abandon(reason string) error {
	if t.finalized {
		return fmt.Errorf("trade: 持仓 %d: %w", t.ID, ErrFinalized)
	}
	if t.totalUnits > 0 {
		return fmt.Errorf("trade: 持仓 %d 无法作废: %w", t.ID, ErrHasPosition)
	}
	t.ExitReason = reason
	t.finalized = true
	return nil
}

// RequestExit 记录离场原因，实际平仓由成交驱动。
func (t *Trade) RequestExit(reason string) {
	if t.finalized {
		return
	}
	t.ExitReason = reason
}

// Stop 标记持仓被止损逻辑终止。
func (t *Trade) Stop(reason string) {
	t.stopped = true
	t.RequestExit(reason)
}

// PriceChange 返回相对开仓均价的收益率，空头方向取反。均价为0时返回0。
func (t *Trade) PriceChange(price float64) float64 {
	if t.averagePrice == 0 {
		return 0
	}
	if t.IsShort() {
		return 1 - price/t.averagePrice
	}
	return price/t.averagePrice - 1
}

// Tick 在持仓期间处理一根K线，更新极值并询问监控器是否止损。
func (t *Trade) Tick(c candle.Candle) (string, bool) {
	if t.finalized || t.placeholder {
		return "", false
	}
	if t.ticks == 0 {
		t.FirstCandle = c
	}
	t.ticks++
	t.lastClose = c.Close
	t.max = math.Max(t.max, c.Close)
	t.min = math.Min(t.min, c.Close)

	t.change = t.PriceChange(c.Close)
	if t.ticks == 1 || t.change > t.maxChange {
		t.maxChange = t.change
		for _, m := range t.monitors {
			m.HighestProfit(t, t.change)
		}
	}
	if t.ticks == 1 || t.change < t.minChange {
		t.minChange = t.change
		for _, m := range t.monitors {
			m.WorstLoss(t, t.change)
		}
	}

	for _, m := range t.monitors {
		if reason, stop := m.HandleStop(t); stop {
			return reason, true
		}
	}
	return "", false
}

// AllowExit 判断全部监控器是否允许离场。
func (t *Trade) AllowExit() bool {
	for _, m := range t.monitors {
		if !m.AllowExit(t) {
			return false
		}
	}
	return true
}

// AllowTradeSwitch 判断是否有监控器允许换仓到 exitSymbol。
func (t *Trade) AllowTradeSwitch(exitSymbol string, c candle.Candle, candleTicker string) bool {
	for _, m := range t.monitors {
		if m.AllowTradeSwitch(t, exitSymbol, c, candleTicker) {
			return true
		}
	}
	return false
}

func (t *Trade) AddMonitor(m Monitor) {
	t.monitors = append(t.monitors, m)
}

func (t *Trade) Monitors() []Monitor {
	return append([]Monitor{}, t.monitors...)
}

// LiveOrders 返回仍未终结的开仓与平仓订单。
func (t *Trade) LiveOrders() []*order.Order {
	var out []*order.Order
	for _, o := range t.position {
		if o.IsLive() {
			out = append(out, o)
		}
	}
	for _, o := range t.exitOrders {
		if o.IsLive() {
			out = append(out, o)
		}
	}
	return out
}

// Position 返回开仓订单副本。
func (t *Trade) Position() []*order.Order {
	return append([]*order.Order{}, t.position...)
}

// ExitOrders 返回平仓订单副本。
func (t *Trade) ExitOrders() []*order.Order {
	return append([]*order.Order{}, t.exitOrders...)
}

func (t *Trade) IsPlaceholder() bool { return t.placeholder }
func (t *Trade) IsFinalized() bool { return t.finalized }
func (t *Trade) IsStopped() bool { return t.stopped }
func (t *Trade) IsLong() bool { return t.TradeSide == order.TradeSideLong }
func (t *Trade) IsShort() bool { return t.TradeSide == order.TradeSideShort }

func (t *Trade) AveragePrice() float64 { return t.averagePrice }

// TotalUnits 返回累计开仓数量。
func (t *Trade) TotalUnits() float64 { return t.totalUnits }

// TotalSpent 返回累计开仓金额。
func (t *Trade) TotalSpent() float64 { return t.totalUnspent }

// Quantity 返回尚未平仓的数量。
func (t *Trade) Quantity() float64 {
	return math.Max(0, t.totalUnits-t.finalizedQuantity)
}

func (t *Trade) FinalizedQuantity() float64 { return t.finalizedQuantity }

// FeesPaid 返回开平仓手续费合计。
func (t *Trade) FeesPaid() float64 { return t.entryFees + t.exitFees }

func (t *Trade) Ticks() int { return t.ticks }
func (t *Trade) LastClosingPrice() float64 { return t.lastClose }
func (t *Trade) Change() float64 { return t.change }
func (t *Trade) MaxChange() float64 { return t.maxChange }
func (t *Trade) MinChange() float64 { return t.minChange }
func (t *Trade) ActualProfitLoss() float64 { return t.actualProfitLoss }
func (t *Trade) ActualProfitLossPct() float64 { return t.actualProfitLossPct }

// Max 返回持仓期间的最高收盘价，尚无K线时为0。
func (t *Trade) Max() float64 {
	return t.max
}

// Min 返回持仓期间的最低收盘价，尚无K线时为0。
func (t *Trade) Min() float64 {
	if t.ticks == 0 {
		return 0
	}
	return t.min
}

// EstimatedProfitLoss 估算以 price 平掉剩余仓位后的净盈亏，含已发生手续费。
func (t *Trade) EstimatedProfitLoss(price float64) float64 {
	if t.totalUnits == 0 {
		return 0
	}
	realized := t.profitLoss(t.exitProceeds, t.finalizedQuantity)
	open := t.profitLoss(price*t.Quantity(), t.Quantity())
	return realized + open - t.entryFees - t.exitFees
}
