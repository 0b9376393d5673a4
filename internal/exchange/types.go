package exchange

import (
	"fmt"
	"time"

	"tradecore/internal/candle"
	"tradecore/internal/orderbook"
)

// OrderBookSnapshot 为订单簿快照。
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []orderbook.Level
	Asks      []orderbook.Level
	Timestamp time.Time
	Nonce     int64
}

// MarketSnapshot 聚合K线及盘口数据。
type MarketSnapshot struct {
	Symbol      string
	Candles     []candle.Candle
	OrderBook   OrderBookSnapshot
	RetrievedAt time.Time
}

// SnapshotRequest 控制一次快照采集的参数。
type SnapshotRequest struct {
	Interval       time.Duration
	CandleLimit    int
	OrderBookDepth int
}

// DefaultSnapshotRequest 返回默认快照参数。
func DefaultSnapshotRequest() SnapshotRequest {
	return SnapshotRequest{
		Interval:       time.Hour,
		CandleLimit:    200,
		OrderBookDepth: 100,
	}
}

// withDefaults 以默认值填充非正字段。
func (r SnapshotRequest) withDefaults() SnapshotRequest {
	def := DefaultSnapshotRequest()
	if r.Interval <= 0 {
		r.Interval = def.Interval
	}
	if r.CandleLimit <= 0 {
		r.CandleLimit = def.CandleLimit
	}
	if r.OrderBookDepth <= 0 {
		r.OrderBookDepth = def.OrderBookDepth
	}
	return r
}

// Timeframe 将K线周期转换为 ccxt 周期字符串，如 15m、4h、1d。
func Timeframe(d time.Duration) (string, error) {
	switch {
	case d < time.Minute || d%time.Minute != 0:
		return "", fmt.Errorf("exchange: 不支持的K线周期 %s", d)
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour)), nil
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour), nil
	default:
		return fmt.Sprintf("%dm", d/time.Minute), nil
	}
}
