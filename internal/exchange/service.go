package exchange

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MarketDataService 为单个交易对采集K线与盘口快照。
type MarketDataService struct {
	client *Client
	logger *zap.Logger
	now    func() time.Time
}

func NewMarketDataService(client *Client, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{client: client, logger: logger, now: time.Now}
}

// Symbol 返回服务对应的交易对。
func (s *MarketDataService) Symbol() string {
	return s.client.Symbol()
}

// GetSnapshot 并发拉取K线与订单簿，任一失败时整体失败。
func (s *MarketDataService) GetSnapshot(ctx context.Context, req SnapshotRequest) (MarketSnapshot, error) {
	req = req.withDefaults()
	snap := MarketSnapshot{Symbol: s.client.Symbol()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Candles, err = s.client.FetchCandles(gctx, req.Interval, int64(req.CandleLimit))
		return err
	})
	g.Go(func() (err error) {
		snap.OrderBook, err = s.client.FetchOrderBook(gctx, int64(req.OrderBookDepth))
		return err
	})
	if err := g.Wait(); err != nil {
		return MarketSnapshot{}, fmt.Errorf("exchange: 获取 %s 行情快照失败: %w", snap.Symbol, err)
	}
	snap.RetrievedAt = s.now().UTC()

	s.logger.Debug("行情快照已获取",
		zap.String("symbol", snap.Symbol),
		zap.Int("candles", len(snap.Candles)),
		zap.Int("bids", len(snap.OrderBook.Bids)),
		zap.Int("asks", len(snap.OrderBook.Asks)),
	)
	return snap, nil
}
