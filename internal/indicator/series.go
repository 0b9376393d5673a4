package indicator

import (
	"math"

	"tradecore/internal/candle"
)

// Series 将K线数据拆分为便于指标计算的序列。
type Series struct {
	OpenTimes []int64
	Open      []float64
	High      []float64
	Low       []float64
	Close     []float64
	Volume    []float64

	// capacity 为0表示不限长度。
	capacity int
}

// NewSeries 从K线创建 Series，按时间升序排列。
func NewSeries(candles []candle.Candle) Series {
	var series Series
	for _, c := range candles {
		series.Append(c)
	}
	return series
}

// NewWindow 创建最多保留 capacity 根K线的滚动序列。
func NewWindow(capacity int) *Series {
	return &Series{capacity: capacity}
}

// Append 追加一根K线；同一开盘时间的K线覆盖末尾元素。
func (s *Series) Append(c candle.Candle) {
	if n := len(s.OpenTimes); n > 0 && s.OpenTimes[n-1] == c.OpenTime {
		s.Open[n-1] = c.Open
		s.High[n-1] = c.High
		s.Low[n-1] = c.Low
		s.Close[n-1] = c.Close
		s.Volume[n-1] = c.Volume
		return
	}

	s.OpenTimes = append(s.OpenTimes, c.OpenTime)
	s.Open = append(s.Open, c.Open)
	s.High = append(s.High, c.High)
	s.Low = append(s.Low, c.Low)
	s.Close = append(s.Close, c.Close)
	s.Volume = append(s.Volume, c.Volume)

	if s.capacity > 0 && len(s.Close) > s.capacity {
		drop := len(s.Close) - s.capacity
		s.OpenTimes = s.OpenTimes[drop:]
		s.Open = s.Open[drop:]
		s.High = s.High[drop:]
		s.Low = s.Low[drop:]
		s.Close = s.Close[drop:]
		s.Volume = s.Volume[drop:]
	}
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s.Close)
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Prev 返回序列倒数第二个值，若不足两个元素则返回 NaN。
func Prev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return values[len(values)-2]
}

// SafeDivide 除法保护，除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// finite 将 NaN/Inf 归零。
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
