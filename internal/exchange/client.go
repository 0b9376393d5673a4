package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"tradecore/internal/candle"
	"tradecore/internal/config"
	"tradecore/internal/orderbook"
)

// Client 封装单个交易对的 Binance USDⓈ-M 行情接口。
type Client struct {
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm
	symbol   string
	retry    *Retrier

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, symbol string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if symbol == "" {
		return nil, fmt.Errorf("exchange: 交易对不能为空")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	for key, value := range map[string]string{
		"apiKey":   cfg.APIKey,
		"secret":   cfg.APISecret,
		"password": cfg.APIPass,
	} {
		if value != "" {
			userConfig[key] = value
		}
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		logger:   logger.With(zap.String("symbol", symbol)),
		exchange: ex,
		symbol:   symbol,
		retry:    NewRetrier(cfg.Retry, logger),
	}, nil
}

// Symbol 返回交易对符号。
func (c *Client) Symbol() string {
	return c.symbol
}

// Raw 返回底层 ccxt 客户端，供下单连接器复用签名配置。
func (c *Client) Raw() *ccxt.Binanceusdm {
	return c.exchange
}

// FetchCandles 获取最近 limit 根指定周期的K线。
func (c *Client) FetchCandles(ctx context.Context, interval time.Duration, limit int64) ([]candle.Candle, error) {
	timeframe, err := Timeframe(interval)
	if err != nil {
		return nil, err
	}
	raw, err := fetch(ctx, c, "fetch_ohlcv_"+timeframe, func() ([]ccxt.OHLCV, error) {
		return c.exchange.FetchOHLCV(c.symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(max(limit, 1)),
		)
	})
	if err != nil {
		return nil, err
	}
	return convertCandles(raw, interval), nil
}

// FetchOrderBook 获取 depth 档订单簿快照。
func (c *Client) FetchOrderBook(ctx context.Context, depth int64) (OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}
	raw, err := fetch(ctx, c, "fetch_order_book", func() (ccxt.OrderBook, error) {
		return c.exchange.FetchOrderBook(c.symbol, ccxt.WithFetchOrderBookLimit(depth))
	})
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	return convertOrderBook(c.symbol, raw), nil
}

// fetch 在市场元数据加载后带重试执行一次行情调用。
func fetch[T any](ctx context.Context, c *Client, operation string, call func() (T, error)) (T, error) {
	var out T
	if err := c.loadMarkets(ctx); err != nil {
		return out, err
	}
	err := c.retry.Do(ctx, operation, func() error {
		result, err := call()
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

func (c *Client) loadMarkets(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()
	if c.marketsLoaded {
		return nil
	}

	if err := c.retry.Do(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	}); err != nil {
		return err
	}
	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

// convertCandles 将 OHLCV 转为闭区间K线，CloseTime 为下一根开盘前1毫秒。
func convertCandles(raw []ccxt.OHLCV, interval time.Duration) []candle.Candle {
	width := interval.Milliseconds()
	out := make([]candle.Candle, len(raw))
	for i, bar := range raw {
		out[i] = candle.New(bar.Timestamp, bar.Timestamp+width-1, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}
	return out
}

func convertOrderBook(symbol string, ob ccxt.OrderBook) OrderBookSnapshot {
	snap := OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      convertLevels(ob.Bids),
		Asks:      convertLevels(ob.Asks),
		Timestamp: time.Now().UTC(),
	}
	if ob.Timestamp != nil {
		snap.Timestamp = time.UnixMilli(*ob.Timestamp).UTC()
	}
	if ob.Nonce != nil {
		snap.Nonce = *ob.Nonce
	}
	return snap
}

// convertLevels 跳过不足两个字段的档位。
func convertLevels(raw [][]float64) []orderbook.Level {
	levels := make([]orderbook.Level, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			continue
		}
		levels = append(levels, orderbook.Level{Price: level[0], Quantity: level[1]})
	}
	return levels
}
