package indicator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"tradecore/internal/candle"
)

// MinCandles 为计算完整指标集所需的最少K线数量。
const MinCandles = 60

// ErrInsufficientData 表示K线数量不足以计算指标。
var ErrInsufficientData = errors.New("insufficient candles")

// Params 为 Calculator 使用的周期参数。
type Params struct {
	FastEMA    int
	SlowEMA    int
	SignalEMA  int
	BandPeriod int
	BandWidth  float64
	RSIPeriod  int
	ATRPeriod  int
}

// DefaultParams 返回 12/26/9 MACD、20 周期 2 倍布林带与 14 周期 RSI/ATR。
func DefaultParams() Params {
	return Params{
		FastEMA:    12,
		SlowEMA:    26,
		SignalEMA:  9,
		BandPeriod: 20,
		BandWidth:  2,
		RSIPeriod:  14,
		ATRPeriod:  14,
	}
}

// MACD 为最后两根K线的 MACD 值。
type MACD struct {
	Value         float64
	Signal        float64
	Histogram     float64
	PrevHistogram float64
}

// Band 为布林带末值，Position 为收盘价在带内的相对位置，取值 [0,1]。
type Band struct {
	Upper    float64
	Middle   float64
	Lower    float64
	Width    float64
	Position float64
}

// Result 为一次指标计算的快照，ATR 为相对收盘价的平均真实波幅。
type Result struct {
	Interval int64
	Close    float64
	FastEMA  float64
	SlowEMA  float64
	MACD     MACD
	Band     Band
	RSI      float64
	ATR      float64
}

// Calculator 基于 talib 批量计算指标，按周期缓存最近一次结果。
type Calculator struct {
	params Params

	mu    sync.Mutex
	cache map[int64]cached
}

type cached struct {
	openTime int64
	length   int
	close    float64
	result   Result
}

// NewCalculator 以默认参数创建 Calculator。
func NewCalculator() *Calculator {
	return NewCalculatorWithParams(DefaultParams())
}

func NewCalculatorWithParams(p Params) *Calculator {
	return &Calculator{params: p, cache: make(map[int64]cached)}
}

// Compute 计算 series 的指标快照，interval 为K线周期（毫秒）。
// 同一周期下末根K线与长度都未变化时直接返回缓存。
func (c *Calculator) Compute(interval int64, series Series) (Result, error) {
	n := series.Len()
	if n < MinCandles {
		return Result{}, fmt.Errorf("indicator: 计算指标失败: %d 根K线: %w", n, ErrInsufficientData)
	}
	key := cached{openTime: series.OpenTimes[n-1], length: n, close: series.Close[n-1]}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hit, ok := c.cache[interval]; ok && hit.openTime == key.openTime && hit.length == key.length && hit.close == key.close {
		return hit.result, nil
	}

	key.result = c.calculate(interval, series)
	c.cache[interval] = key
	return key.result, nil
}

// ComputeCandles 为 Compute 的便捷封装。
func (c *Calculator) ComputeCandles(interval int64, candles []candle.Candle) (Result, error) {
	return c.Compute(interval, NewSeries(candles))
}

func (c *Calculator) calculate(interval int64, s Series) Result {
	p := c.params
	value, sig, hist := talib.Macd(s.Close, p.FastEMA, p.SlowEMA, p.SignalEMA)
	upper, middle, lower := talib.BBands(s.Close, p.BandPeriod, p.BandWidth, p.BandWidth, talib.EMA)
	last := Last(s.Close)
	macd := MACD{
		Value:         Last(value),
		Signal:        Last(sig),
		Histogram:     Last(hist),
		PrevHistogram: Prev(hist),
	}

	return Result{
		Interval: interval,
		Close:    last,
		FastEMA:  Last(talib.Ema(s.Close, p.FastEMA)),
		SlowEMA:  Last(talib.Ema(s.Close, p.SlowEMA)),
		MACD:     macd,
		Band:     band(last, Last(upper), Last(middle), Last(lower)),
		RSI:      Last(talib.Rsi(s.Close, p.RSIPeriod)),
		ATR:      SafeDivide(Last(talib.Atr(s.High, s.Low, s.Close, p.ATRPeriod)), last),
	}
}

func band(price, upper, middle, lower float64) Band {
	b := Band{Upper: upper, Middle: middle, Lower: lower}
	spread := upper - lower
	b.Width = SafeDivide(spread, middle)
	if spread > 0 {
		b.Position = math.Max(0, math.Min(1, (price-lower)/spread))
	}
	return b
}
