package fees

import (
	"tradecore/internal/order"
)

// Policy 计算单笔成交的手续费金额。
type Policy interface {
	TakeFee(amount float64, orderType order.Type, side order.Side) float64
}

// PolicyFunc 允许普通函数实现 Policy。
type PolicyFunc func(amount float64, orderType order.Type, side order.Side) float64

// TakeFee 实现 Policy。
func (f PolicyFunc) TakeFee(amount float64, orderType order.Type, side order.Side) float64 {
	return f(amount, orderType, side)
}

// Percentage 按成交金额比例收取手续费，限价单为 maker，市价单为 taker。
type Percentage struct {
	Maker float64
	Taker float64
}

// NewPercentage 创建比例费率，参数为小数（0.001 即 0.1%）。
func NewPercentage(maker, taker float64) Percentage {
	return Percentage{Maker: maker, Taker: taker}
}

func (p Percentage) TakeFee(amount float64, orderType order.Type, _ order.Side) float64 {
	if amount <= 0 {
		return 0
	}
	if orderType == order.TypeMarket {
		return amount * p.Taker
	}
	return amount * p.Maker
}

// Flat 每笔成交收取固定费用，金额为0时不收费。
type Flat struct {
	Fee float64
}

func (f Flat) TakeFee(amount float64, _ order.Type, _ order.Side) float64 {
	if amount <= 0 {
		return 0
	}
	return f.Fee
}

// Combined 叠加多个费率。
type Combined []Policy

func (c Combined) TakeFee(amount float64, orderType order.Type, side order.Side) float64 {
	var total float64
	for _, p := range c {
		total += p.TakeFee(amount, orderType, side)
	}
	return total
}

// None 不收取手续费。
var None Policy = PolicyFunc(func(float64, order.Type, order.Side) float64 { return 0 })

// FeesOnAmount 返回指定金额的手续费。
func FeesOnAmount(p Policy, amount float64, orderType order.Type, side order.Side) float64 {
	if amount == 0 {
		return 0
	}
	return p.TakeFee(amount, orderType, side)
}

// FeesOnOrder 按委托名义金额计算手续费。
func FeesOnOrder(p Policy, o *order.Order) float64 {
	return FeesOnAmount(p, o.TotalOrderAmount(), o.Type(), o.Side())
}

// FeesOnRequest 按请求名义金额计算手续费。
func FeesOnRequest(p Policy, r *order.Request) float64 {
	return FeesOnAmount(p, r.TotalOrderAmount(), r.Type, r.Side)
}

// FeesOnTradedAmount 按已成交金额计算手续费。
func FeesOnTradedAmount(p Policy, o *order.Order) float64 {
	return FeesOnAmount(p, o.TotalTraded(), o.Type(), o.Side())
}

// FeesOnPartialFill 按暂存成交金额计算手续费。
func FeesOnPartialFill(p Policy, o *order.Order) float64 {
	return FeesOnAmount(p, o.PartialFillTotalPrice(), o.Type(), o.Side())
}

// FeesOnTotalOrderAmount 按均价名义金额计算手续费。
func FeesOnTotalOrderAmount(p Policy, o *order.Order) float64 {
	return FeesOnAmount(p, o.TotalOrderAmountAtAveragePrice(), o.Type(), o.Side())
}

// AmountAfterFees 返回扣除手续费后的金额。
func AmountAfterFees(p Policy, amount float64, orderType order.Type, side order.Side) float64 {
	return amount - FeesOnAmount(p, amount, orderType, side)
}

// BreakEvenAmount 返回以限价买入再卖出后保本所需的金额。
func BreakEvenAmount(p Policy, amount float64) float64 {
	out := AmountAfterFees(p, amount, order.TypeLimit, order.SideBuy)
	out = AmountAfterFees(p, out, order.TypeLimit, order.SideSell)
	return amount + (amount - out)
}

// BreakEvenChange 返回保本所需的价格变动百分比，amount 为0时返回0。
func BreakEvenChange(p Policy, amount float64) float64 {
	if amount == 0 {
		return 0
	}
	return (BreakEvenAmount(p, amount)/amount - 1) * 100
}
