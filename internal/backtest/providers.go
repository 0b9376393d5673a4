package backtest

import (
	"context"

	"tradecore/internal/candle"
	"tradecore/internal/exchange"
)

// SliceCandleProvider 以固定序列提供K线。
type SliceCandleProvider struct {
	candles []candle.Candle
	index   int
}

func NewSliceCandleProvider(candles []candle.Candle) *SliceCandleProvider {
	return &SliceCandleProvider{candles: candles}
}

// NewSnapshotCandleProvider 回放行情快照中的历史K线。
func NewSnapshotCandleProvider(snapshot exchange.MarketSnapshot) *SliceCandleProvider {
	return NewSliceCandleProvider(snapshot.Candles)
}

func (p *SliceCandleProvider) Next(ctx context.Context) (candle.Candle, bool, error) {
	if err := ctx.Err(); err != nil {
		return candle.Candle{}, false, err
	}
	if p.index >= len(p.candles) {
		return candle.Candle{}, false, nil
	}
	c := p.candles[p.index]
	p.index++
	return c, true, nil
}
