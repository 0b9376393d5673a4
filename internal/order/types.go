package order

import "errors"

var (
	// ErrInvalidTransition 表示订单状态不允许当前操作。
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrAlreadyFilled 表示订单已完全成交，不能取消。
	ErrAlreadyFilled = errors.New("order already filled")
	// ErrInvalidFill 表示成交价格或数量非法。
	ErrInvalidFill = errors.New("invalid fill")
)

// quantityTolerance 用于浮点数量比较。
const quantityTolerance = 1e-9

// Side 表示买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeSide 表示多空方向。
type TradeSide string

const (
	TradeSideLong  TradeSide = "long"
	TradeSideShort TradeSide = "short"
)

// Type 表示订单类型。
type Type string

const (
	TypeLimit  Type = "limit"
	TypeMarket Type = "market"
)

// Status 表示订单生命周期状态。
type Status string

const (
	StatusNew             Status = "new"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
)

// IsTerminal 判断是否为终态。
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// TriggerCondition 表示条件单的触发方向。
type TriggerCondition string

const (
	// TriggerNone 表示无触发条件，立即生效。
	TriggerNone TriggerCondition = "none"
	// TriggerStopLoss 在最新价小于等于触发价时生效。
	TriggerStopLoss TriggerCondition = "stop_loss"
	// TriggerStopGain 在最新价大于等于触发价时生效。
	TriggerStopGain TriggerCondition = "stop_gain"
)
