package monitor

import (
	"time"

	"tradecore/internal/order"
	"tradecore/internal/trade"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventOrder  EventType = "order"
	EventTrade  EventType = "trade"
	EventEquity EventType = "equity"
	EventError  EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Symbol    string      `json:"symbol,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OrderPayload 记录订单状态变化。
type OrderPayload struct {
	Symbol       string          `json:"symbol"`
	Note         string          `json:"note"`
	ID           uint64          `json:"id"`
	OrderID      string          `json:"order_id"`
	TradeID      uint64          `json:"trade_id,omitempty"`
	ParentID     string          `json:"parent_id,omitempty"`
	Side         order.Side      `json:"side"`
	TradeSide    order.TradeSide `json:"trade_side"`
	Type         order.Type      `json:"order_type"`
	Status       order.Status    `json:"status"`
	Price        float64         `json:"price"`
	Quantity     float64         `json:"quantity"`
	Executed     float64         `json:"executed"`
	AveragePrice float64         `json:"average_price"`
}

// TradePayload 记录持仓结束时的汇总。
type TradePayload struct {
	ID           uint64          `json:"id"`
	Symbol       string          `json:"symbol"`
	TradeSide    order.TradeSide `json:"trade_side"`
	Units        float64         `json:"units"`
	AveragePrice float64         `json:"average_price"`
	ProfitLoss   float64         `json:"pnl"`
	ProfitLossPc float64         `json:"pnl_pct"`
	Fees         float64         `json:"fees"`
	ExitReason   string          `json:"exit_reason"`
	Stopped      bool            `json:"stopped"`
	Ticks        int             `json:"ticks"`
}

// EquityPayload 追踪账户权益。
type EquityPayload struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Equity float64 `json:"equity"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func newOrderPayload(symbol string, o *order.Order, note string) OrderPayload {
	p := OrderPayload{
		Symbol:       symbol,
		Note:         note,
		ID:           o.ID,
		OrderID:      o.OrderID,
		TradeID:      o.TradeID,
		Side:         o.Side(),
		TradeSide:    o.Request.TradeSide,
		Type:         o.Type(),
		Status:       o.Status,
		Price:        o.Price(),
		Quantity:     o.Quantity(),
		Executed:     o.ExecutedQuantity,
		AveragePrice: o.AveragePrice,
	}
	if parent, ok := o.ParentOrderID(); ok {
		p.ParentID = parent
	}
	return p
}

func newTradePayload(t *trade.Trade) TradePayload {
	return TradePayload{
		ID:           t.ID,
		Symbol:       t.Symbol,
		TradeSide:    t.TradeSide,
		Units:        t.TotalUnits(),
		AveragePrice: t.AveragePrice(),
		ProfitLoss:   t.ActualProfitLoss(),
		ProfitLossPc: t.ActualProfitLossPct(),
		Fees:         t.FeesPaid(),
		ExitReason:   t.ExitReason,
		Stopped:      t.IsStopped(),
		Ticks:        t.Ticks(),
	}
}
