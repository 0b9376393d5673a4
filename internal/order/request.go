package order

import "time"

// Request 描述一次下单意图，包括附带的止损/止盈子委托。
type Request struct {
	AssetSymbol string
	FundsSymbol string

	Side      Side
	TradeSide TradeSide

	Price    float64
	Quantity float64
	Type     Type

	TriggerCondition TriggerCondition
	TriggerPrice     float64

	// Time 为请求时间（Unix 毫秒）。
	Time int64

	active    bool
	cancelled bool

	resubmittedFrom uint64
	attached        []*Request
}

// NewRequest 创建立即生效的限价请求。
func NewRequest(assetSymbol, fundsSymbol string, side Side, tradeSide TradeSide, ts int64) *Request {
	return &Request{
		AssetSymbol:      assetSymbol,
		FundsSymbol:      fundsSymbol,
		Side:             side,
		TradeSide:        tradeSide,
		Type:             TypeLimit,
		TriggerCondition: TriggerNone,
		Time:             ts,
		active:           true,
	}
}

// NewResubmission 基于原订单创建重新提交的请求，只记录原订单 ID。
func NewResubmission(original *Order, ts int64) *Request {
	src := original.Request
	req := NewRequest(src.AssetSymbol, src.FundsSymbol, src.Side, src.TradeSide, ts)
	req.Price = src.Price
	req.Quantity = original.RemainingQuantity()
	req.Type = src.Type
	req.resubmittedFrom = original.ID
	return req
}

// Symbol 返回交易对符号，例如 BTCUSDT。
func (r *Request) Symbol() string {
	return r.AssetSymbol + r.FundsSymbol
}

// TotalOrderAmount 返回委托名义金额。
func (r *Request) TotalOrderAmount() float64 {
	return r.Price * r.Quantity
}

func (r *Request) IsCancelled() bool {
	return r.cancelled
}

func (r *Request) Cancel() {
	r.cancelled = true
}

// IsResubmission 判断是否为重新提交的请求。
func (r *Request) IsResubmission() bool {
	return r.resubmittedFrom != 0
}

// OriginalOrderID 返回被重新提交的原订单 ID，非重新提交时为0。
func (r *Request) OriginalOrderID() uint64 {
	return r.resubmittedFrom
}

func (r *Request) IsShort() bool { return r.TradeSide == TradeSideShort }
func (r *Request) IsLong() bool  { return r.TradeSide == TradeSideLong }
func (r *Request) IsBuy() bool   { return r.Side == SideBuy }
func (r *Request) IsSell() bool  { return r.Side == SideSell }

// IsLongBuy 多头开仓。
func (r *Request) IsLongBuy() bool { return r.IsLong() && r.IsBuy() }

// IsLongSell 多头平仓。
func (r *Request) IsLongSell() bool { return r.IsLong() && r.IsSell() }

// IsShortSell 空头开仓。
func (r *Request) IsShortSell() bool { return r.IsShort() && r.IsSell() }

// IsShortCover 空头平仓。
func (r *Request) IsShortCover() bool { return r.IsShort() && r.IsBuy() }

// IsEntry 判断请求是否为开仓方向。
func (r *Request) IsEntry() bool {
	return r.IsLongBuy() || r.IsShortSell()
}

func (r *Request) UpdateTime(ts int64) {
	r.Time = ts
}

// TimeElapsed 返回从请求时间到 now 的时长。
func (r *Request) TimeElapsed(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-r.Time) * time.Millisecond
}

// AttachedRequests 返回附带请求的副本切片。
func (r *Request) AttachedRequests() []*Request {
	out := make([]*Request, len(r.attached))
	copy(out, r.attached)
	return out
}

func (r *Request) SetAttachedRequests(requests []*Request) {
	r.attached = append([]*Request(nil), requests...)
}

// SetTriggerCondition 设置触发条件；无条件或触发价为0时立即生效。
func (r *Request) SetTriggerCondition(condition TriggerCondition, triggerPrice float64) {
	r.TriggerCondition = condition
	r.TriggerPrice = triggerPrice

	r.active = condition == TriggerNone || triggerPrice == 0

	if r.Price == 0 && triggerPrice != 0 {
		r.Price = triggerPrice
	}
}

// Triggered 判断最新价是否满足触发条件。
func (r *Request) Triggered(lastPrice float64) bool {
	if lastPrice <= 0 {
		return false
	}
	switch r.TriggerCondition {
	case TriggerStopLoss:
		return lastPrice <= r.TriggerPrice
	case TriggerStopGain:
		return lastPrice >= r.TriggerPrice
	default:
		return true
	}
}

func (r *Request) Activate() {
	r.active = true
}

// IsActive 判断请求已生效且未取消。
func (r *Request) IsActive() bool {
	return r.active && !r.cancelled
}

// Attach 以相反方向、相同数量附带一笔子委托，低于本单价格视为止损，否则为止盈。
func (r *Request) Attach(orderType Type, price float64) *Request {
	attachment := NewRequest(r.AssetSymbol, r.FundsSymbol, r.Side.Opposite(), r.TradeSide, r.Time)
	attachment.Quantity = r.Quantity
	attachment.Price = price
	attachment.Type = orderType

	if price < r.Price {
		attachment.SetTriggerCondition(TriggerStopLoss, price)
	} else {
		attachment.SetTriggerCondition(TriggerStopGain, price)
	}

	r.attached = append(r.attached, attachment)
	return attachment
}

// AttachToPercentageChange 以相对本单价格的百分比变动附带子委托。
func (r *Request) AttachToPercentageChange(orderType Type, percentageChange float64) *Request {
	return r.Attach(orderType, r.Price*(1+percentageChange/100))
}

// AttachToPriceChange 以相对本单价格的绝对变动附带子委托。
func (r *Request) AttachToPriceChange(orderType Type, priceChange float64) *Request {
	return r.Attach(orderType, r.Price+priceChange)
}
