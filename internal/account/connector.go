package account

import (
	"context"
	"errors"
	"sync/atomic"

	"tradecore/internal/order"
)

var (
	// ErrUnsupported 表示连接器不支持该委托。
	ErrUnsupported = errors.New("operation not supported by connector")
	// ErrInsufficientFunds 表示可用余额不足。
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownOrder 表示连接器不认识该订单。
	ErrUnknownOrder = errors.New("unknown order")
)

// DefaultMarginReservePercentage 为做空时默认保证金比例（百分比）。
const DefaultMarginReservePercentage = 150

// Connector 负责提交、查询和撤销订单以及同步余额。
type Connector interface {
	// ExecuteOrder 提交已生效的请求并返回新订单。
	ExecuteOrder(ctx context.Context, req *order.Request) (*order.Order, error)
	UpdateBalances(ctx context.Context, force bool) (map[string]Balance, error)
	// UpdateOrderStatus 将新增成交暂存到订单的成交明细中，并返回交易所侧状态。
	// 调用方负责合并暂存成交。
	UpdateOrderStatus(ctx context.Context, o *order.Order) (order.Status, error)
	Cancel(ctx context.Context, o *order.Order) error
	IsSimulated() bool
	MarginReservePercentage() int
}

// Sequence 为连接器分配内部订单 ID。
type Sequence struct {
	next atomic.Uint64
}

// Next 返回下一个 ID，从1开始。
func (s *Sequence) Next() uint64 {
	return s.next.Add(1)
}

// stageDelta 根据交易所累计成交量与均价，计算相对本地已合并成交的增量并暂存。
func stageDelta(o *order.Order, filled, average float64) bool {
	delta := filled - o.ExecutedQuantity
	if delta <= 1e-12 || average <= 0 {
		return false
	}
	notional := average*filled - o.AveragePrice*o.ExecutedQuantity
	price := notional / delta
	if price <= 0 {
		price = average
	}
	o.SetPartialFillDetails(price, delta)
	return true
}
