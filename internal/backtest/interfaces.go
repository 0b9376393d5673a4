package backtest

import (
	"context"

	"tradecore/internal/candle"
)

// CandleProvider 按时间顺序提供K线。
type CandleProvider interface {
	Next(ctx context.Context) (candle.Candle, bool, error)
}
