package candle

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfOrder 表示输入K线早于当前未完成K线，或落在已收盘K线之内。
	ErrOutOfOrder = errors.New("candle out of order")
	// ErrInvalidWidth 表示聚合周期非法。
	ErrInvalidWidth = errors.New("invalid aggregation width")
)

// Aggregator 将K线或逐笔成交按固定周期聚合。
//
// 周期宽度 W = minutes*60000 + ms。设未完成K线为 p，窗口右边界为 E = p.OpenTime + W：
//   - 输入 c.OpenTime < p.OpenTime 视为乱序，拒绝；没有未完成K线时，
//     c.OpenTime 不晚于最近收盘K线的 CloseTime 同样视为乱序；
//   - c.OpenTime >= E 时 c 已越过窗口：若 c 是逐笔成交且落在紧邻的下一个窗口内，
//     p 原样收盘；否则视为数据缺口，丢弃 p。两种情况都以 c 开启新的未完成K线；
//   - 否则合并 p 与 c，若 c.CloseTime+1 >= E（合并后覆盖满 W 毫秒）则收盘，
//     合并结果成为 full，未完成K线清空；不满则继续累积。
//
// 新开启的未完成K线若自身已覆盖满 W，则立即收盘。
type Aggregator struct {
	minutes int64
	ms      int64

	full    *Candle
	partial *Candle
}

// NewAggregator 按给定周期创建聚合器，周期不足1毫秒时返回错误。
func NewAggregator(width time.Duration) (*Aggregator, error) {
	total := width.Milliseconds()
	if total <= 0 {
		return nil, fmt.Errorf("candle: 聚合周期 %s: %w", width, ErrInvalidWidth)
	}
	return &Aggregator{
		minutes: total / MinuteMillis,
		ms:      total % MinuteMillis,
	}, nil
}

// Minutes 返回周期中的整分钟数。
func (a *Aggregator) Minutes() int64 {
	return a.minutes
}

// Millis 返回周期中不足一分钟的毫秒余数。
func (a *Aggregator) Millis() int64 {
	return a.ms
}

// Width 返回周期总宽度。
func (a *Aggregator) Width() time.Duration {
	return time.Duration(a.widthMillis()) * time.Millisecond
}

func (a *Aggregator) widthMillis() int64 {
	return a.minutes*MinuteMillis + a.ms
}

// Aggregate 处理一根输入K线，返回本次是否有K线收盘。
func (a *Aggregator) Aggregate(c Candle) (bool, error) {
	if a.partial == nil {
		if a.full != nil && c.OpenTime <= a.full.CloseTime {
			return false, fmt.Errorf("candle: 输入 open_time=%d 不晚于已收盘K线 close_time=%d: %w", c.OpenTime, a.full.CloseTime, ErrOutOfOrder)
		}
		return a.start(c), nil
	}

	p := *a.partial
	if c.OpenTime < p.OpenTime {
		return false, fmt.Errorf("candle: 输入 open_time=%d 早于当前K线 open_time=%d: %w", c.OpenTime, p.OpenTime, ErrOutOfOrder)
	}

	width := a.widthMillis()
	end := p.OpenTime + width

	if c.OpenTime >= end {
		if c.IsTick() && c.OpenTime < end+width {
			a.full = &p
			a.partial = nil
			a.start(c)
			return true, nil
		}
		a.partial = nil
		return a.start(c), nil
	}

	merged := p.Merge(c)
	if c.CloseTime+1 >= end {
		a.full = &merged
		a.partial = nil
		return true, nil
	}

	a.partial = &merged
	return false, nil
}

func (a *Aggregator) start(c Candle) bool {
	if c.Span() >= a.widthMillis() {
		a.full = &c
		a.partial = nil
		return true
	}
	a.partial = &c
	return false
}

// Full 返回最近一次收盘的K线。
func (a *Aggregator) Full() (Candle, bool) {
	if a.full == nil {
		return Candle{}, false
	}
	return *a.full, true
}

// Partial 返回当前未完成的K线。
func (a *Aggregator) Partial() (Candle, bool) {
	if a.partial == nil {
		return Candle{}, false
	}
	return *a.partial, true
}

// SetFull 直接设置最近收盘K线，用于以历史数据预热。
func (a *Aggregator) SetFull(c Candle) {
	a.full = &c
}

// Reset 清空全部状态。
func (a *Aggregator) Reset() {
	a.full = nil
	a.partial = nil
}
