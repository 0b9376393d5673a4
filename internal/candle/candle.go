package candle

import "time"

// MinuteMillis 为一分钟的毫秒数。
const MinuteMillis int64 = 60 * 1000

// Candle 代表一根不可变的 OHLCV K线，时间均为 Unix 毫秒且为闭区间。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// New 创建 Candle。
func New(openTime, closeTime int64, open, high, low, closePrice, volume float64) Candle {
	return Candle{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
}

// NewTick 创建单笔成交对应的退化K线。
func NewTick(ts int64, price, volume float64) Candle {
	return New(ts, ts, price, price, price, price, volume)
}

// Merge 将 other 合并到当前K线之后，返回新的K线。
func (c Candle) Merge(other Candle) Candle {
	high := c.High
	if other.High > high {
		high = other.High
	}
	low := c.Low
	if other.Low < low {
		low = other.Low
	}
	return New(c.OpenTime, other.CloseTime, c.Open, high, low, other.Close, c.Volume+other.Volume)
}

// Change 返回收盘相对开盘的涨跌幅，开盘价为0时返回0。
func (c Candle) Change() float64 {
	if c.Open == 0 {
		return 0
	}
	return c.Close/c.Open - 1
}

func (c Candle) IsClosePositive() bool {
	return c.Close > c.Open
}

func (c Candle) IsGreen() bool {
	return c.Open <= c.Close
}

func (c Candle) IsRed() bool {
	return c.Open > c.Close
}

// IsTick 判断是否为单笔成交形成的K线。
func (c Candle) IsTick() bool {
	return c.OpenTime == c.CloseTime &&
		c.Open == c.Close &&
		c.Close == c.High &&
		c.High == c.Low
}

// Span 返回K线覆盖的毫秒数（含两端）。
func (c Candle) Span() int64 {
	return c.CloseTime - c.OpenTime + 1
}

// OpenAt 返回开盘时间。
func (c Candle) OpenAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// CloseAt 返回收盘时间。
func (c Candle) CloseAt() time.Time {
	return time.UnixMilli(c.CloseTime).UTC()
}

// Compare 先按收盘时间、再按开盘时间排序，返回 -1、0 或 1。
func Compare(a, b Candle) int {
	switch {
	case a.CloseTime < b.CloseTime:
		return -1
	case a.CloseTime > b.CloseTime:
		return 1
	case a.OpenTime < b.OpenTime:
		return -1
	case a.OpenTime > b.OpenTime:
		return 1
	default:
		return 0
	}
}
