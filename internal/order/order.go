package order

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Order 是下单请求的运行期执行记录。
//
// 子委托通过 parent 指针回溯父订单，父订单独占 attachments；TradeID 仅标识所属持仓。
type Order struct {
	ID      uint64
	OrderID string
	Request *Request

	Processed bool
	Status    Status

	ExecutedQuantity float64
	FeesPaid         float64
	AveragePrice     float64

	TradeID uint64

	partialFillPrice    float64
	partialFillQuantity float64

	parent      *Order
	attachments []*Order
}

// New 基于请求创建订单，交易所订单号默认取内部 ID。
func New(id uint64, req *Request) *Order {
	return &Order{
		ID:      id,
		OrderID: strconv.FormatUint(id, 10),
		Request: req,
		Status:  StatusNew,
	}
}

// Price 返回委托价格。
func (o *Order) Price() float64 {
	return o.Request.Price
}

func (o *Order) SetPrice(price float64) {
	o.Request.Price = price
}

func (o *Order) Side() Side {
	return o.Request.Side
}

func (o *Order) Type() Type {
	return o.Request.Type
}

// Quantity 返回订单数量。父订单已终结时，子委托跟随父订单的实际成交数量。
func (o *Order) Quantity() float64 {
	out := o.Request.Quantity
	if o.parent != nil && o.parent.IsFinalized() {
		p := o.parent.ExecutedQuantity
		if out > p || p == 0 {
			return p
		}
	}
	return out
}

func (o *Order) SetQuantity(quantity float64) {
	o.Request.Quantity = quantity
}

// RemainingQuantity 返回尚未成交的数量。
func (o *Order) RemainingQuantity() float64 {
	remaining := o.Quantity() - o.ExecutedQuantity
	if remaining < quantityTolerance {
		return 0
	}
	return remaining
}

// FilledRatio 返回成交比例，数量为0时返回0。
func (o *Order) FilledRatio() float64 {
	q := o.Quantity()
	if q == 0 {
		return 0
	}
	return o.ExecutedQuantity / q
}

// TotalOrderAmountAtAveragePrice 以成交均价计算名义金额，尚无成交时使用委托价。
func (o *Order) TotalOrderAmountAtAveragePrice() float64 {
	if o.AveragePrice == 0 {
		return o.Price() * o.Quantity()
	}
	return o.AveragePrice * o.Quantity()
}

// TotalOrderAmount 返回委托价计算的名义金额。
func (o *Order) TotalOrderAmount() float64 {
	return o.Price() * o.Quantity()
}

// TotalTraded 返回已成交金额。
func (o *Order) TotalTraded() float64 {
	return o.AveragePrice * o.ExecutedQuantity
}

// Cancel 取消订单。已成交订单保持原状态并返回 ErrAlreadyFilled。
func (o *Order) Cancel() error {
	if o.Status == StatusFilled {
		return fmt.Errorf("order: 订单 %d 无法取消: %w", o.ID, ErrAlreadyFilled)
	}
	o.Status = StatusCancelled
	return nil
}

func (o *Order) IsCancelled() bool {
	return o.Status == StatusCancelled
}

func (o *Order) IsFilled() bool {
	return o.Status == StatusFilled
}

// IsFinalized 判断订单是否进入终态。
func (o *Order) IsFinalized() bool {
	return o.Status.IsTerminal()
}

// IsLive 判断订单仍可能继续成交。
func (o *Order) IsLive() bool {
	return !o.IsFinalized()
}

// Parent 返回父订单，可能为 nil。
func (o *Order) Parent() *Order {
	return o.parent
}

// ParentOrderID 返回父订单的交易所订单号。
func (o *Order) ParentOrderID() (string, bool) {
	if o.parent == nil {
		return "", false
	}
	return o.parent.OrderID, true
}

// Attachments 返回子委托副本切片。
func (o *Order) Attachments() []*Order {
	out := make([]*Order, len(o.attachments))
	copy(out, o.attachments)
	return out
}

// Attach 将 child 挂到当前订单下。
func (o *Order) Attach(child *Order) {
	child.parent = o
	o.attachments = append(o.attachments, child)
}

// HasPartialFillDetails 判断是否有待合并的成交明细。
func (o *Order) HasPartialFillDetails() bool {
	return o.partialFillQuantity > 0
}

// SetPartialFillDetails 暂存最近一笔成交。
func (o *Order) SetPartialFillDetails(fillPrice, filledQuantity float64) {
	o.partialFillPrice = fillPrice
	o.partialFillQuantity = filledQuantity
}

func (o *Order) ClearPartialFillDetails() {
	o.partialFillPrice = 0
	o.partialFillQuantity = 0
}

func (o *Order) PartialFillPrice() float64 {
	return o.partialFillPrice
}

func (o *Order) PartialFillQuantity() float64 {
	return o.partialFillQuantity
}

// PartialFillTotalPrice 返回暂存成交的金额。
func (o *Order) PartialFillTotalPrice() float64 {
	return o.partialFillPrice * o.partialFillQuantity
}

// FoldPartialFill 将暂存成交合并进已成交数量与加权均价，并推进状态。
func (o *Order) FoldPartialFill() error {
	if o.IsFinalized() {
		return fmt.Errorf("order: 订单 %d 处于 %s 状态，拒绝成交: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	price, qty := o.partialFillPrice, o.partialFillQuantity
	if qty <= 0 || price <= 0 || math.IsNaN(price) || math.IsNaN(qty) || math.IsInf(price, 0) || math.IsInf(qty, 0) {
		return fmt.Errorf("order: 订单 %d 成交 price=%f qty=%f: %w", o.ID, price, qty, ErrInvalidFill)
	}

	executed := o.ExecutedQuantity + qty
	o.AveragePrice = (o.AveragePrice*o.ExecutedQuantity + price*qty) / executed
	o.ExecutedQuantity = executed

	if executed >= o.Quantity()-quantityTolerance {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}

	o.ClearPartialFillDetails()
	return nil
}

// Fill 暂存并立即合并一笔成交。
func (o *Order) Fill(price, quantity float64) error {
	o.SetPartialFillDetails(price, quantity)
	if err := o.FoldPartialFill(); err != nil {
		o.ClearPartialFillDetails()
		return err
	}
	return nil
}

// TimeElapsed 返回下单至今的时长。
func (o *Order) TimeElapsed(now time.Time) time.Duration {
	return o.Request.TimeElapsed(now)
}

// Less 按内部 ID 排序。
func (o *Order) Less(other *Order) bool {
	return o.ID < other.ID
}

// Equal 以内部 ID 判等。
func (o *Order) Equal(other *Order) bool {
	return other != nil && o.ID == other.ID
}
