package orderbook

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidLevel 表示档位价格或数量非法。
var ErrInvalidLevel = errors.New("invalid order book level")

// DefaultDepth 为未指定深度时保留的档位数。
const DefaultDepth = 25

// Level 表示单个价格档位。
type Level struct {
	Price    float64
	Quantity float64
}

// ladder 按优先级排序的档位，下标0为最优价。
type ladder struct {
	levels []Level
	// better 判断 a 价格是否优于 b。
	better func(a, b float64) bool
}

func (l *ladder) search(price float64) int {
	return sort.Search(len(l.levels), func(i int) bool {
		return !l.better(l.levels[i].Price, price)
	})
}

// upsert 写入档位，数量为0时删除；超出深度时淘汰最差价，返回被淘汰的档位。
func (l *ladder) upsert(price, quantity float64, depth int) (Level, bool) {
	idx := l.search(price)
	exists := idx < len(l.levels) && l.levels[idx].Price == price

	if quantity == 0 {
		if exists {
			l.levels = append(l.levels[:idx], l.levels[idx+1:]...)
		}
		return Level{}, false
	}
	if exists {
		l.levels[idx].Quantity = quantity
		return Level{}, false
	}

	l.levels = append(l.levels, Level{})
	copy(l.levels[idx+1:], l.levels[idx:])
	l.levels[idx] = Level{Price: price, Quantity: quantity}

	if len(l.levels) > depth {
		worst := l.levels[len(l.levels)-1]
		l.levels = l.levels[:len(l.levels)-1]
		return worst, true
	}
	return Level{}, false
}

// notional 按优先级吃单，返回成交 quantity 所需的总金额及实际可成交数量。
func (l *ladder) notional(quantity float64) (float64, float64) {
	var total, filled float64
	remaining := quantity
	for _, lvl := range l.levels {
		if remaining <= 0 {
			break
		}
		take := math.Min(remaining, lvl.Quantity)
		total += take * lvl.Price
		filled += take
		remaining -= take
	}
	return total, filled
}

// averageByDepth 返回前 n 档的成交量加权均价。
func (l *ladder) averageByDepth(n int) float64 {
	var total, qty float64
	for i := 0; i < n && i < len(l.levels); i++ {
		total += l.levels[i].Price * l.levels[i].Quantity
		qty += l.levels[i].Quantity
	}
	if qty == 0 {
		return 0
	}
	return total / qty
}

func (l *ladder) snapshot() []Level {
	out := make([]Level, len(l.levels))
	copy(out, l.levels)
	return out
}

// OrderBook 维护单个交易对有深度上限的买卖盘。
//
// OrderBook 不加锁，调用方需保证同一时间只有一个写入者。
type OrderBook struct {
	Symbol string

	depth int
	bids  ladder
	asks  ladder
}

// New 创建指定深度的订单簿，depth<=0 时使用 DefaultDepth。
func New(symbol string, depth int) *OrderBook {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &OrderBook{
		Symbol: symbol,
		depth:  depth,
		bids:   ladder{better: func(a, b float64) bool { return a > b }},
		asks:   ladder{better: func(a, b float64) bool { return a < b }},
	}
}

// Depth 返回每侧保留的最大档位数。
func (b *OrderBook) Depth() int {
	return b.depth
}

func validLevel(price, quantity float64) error {
	if price <= 0 || quantity < 0 || math.IsNaN(price) || math.IsNaN(quantity) || math.IsInf(price, 0) || math.IsInf(quantity, 0) {
		return fmt.Errorf("orderbook: price=%f qty=%f: %w", price, quantity, ErrInvalidLevel)
	}
	return nil
}

// AddBid 写入买盘档位，数量为0表示撤档；超出深度时淘汰最低买价。
func (b *OrderBook) AddBid(price, quantity float64) error {
	if err := validLevel(price, quantity); err != nil {
		return err
	}
	b.bids.upsert(price, quantity, b.depth)
	return nil
}

// AddAsk 写入卖盘档位，数量为0表示撤档；超出深度时淘汰最高卖价。
func (b *OrderBook) AddAsk(price, quantity float64) error {
	if err := validLevel(price, quantity); err != nil {
		return err
	}
	b.asks.upsert(price, quantity, b.depth)
	return nil
}

// ApplySnapshot 以全量快照替换当前盘口，非法档位被跳过。
func (b *OrderBook) ApplySnapshot(bids, asks []Level) error {
	b.Clear()
	var skipped int
	for _, lvl := range bids {
		if lvl.Quantity == 0 {
			continue
		}
		if err := b.AddBid(lvl.Price, lvl.Quantity); err != nil {
			skipped++
		}
	}
	for _, lvl := range asks {
		if lvl.Quantity == 0 {
			continue
		}
		if err := b.AddAsk(lvl.Price, lvl.Quantity); err != nil {
			skipped++
		}
	}
	if skipped > 0 {
		return fmt.Errorf("orderbook: 快照中跳过 %d 个档位: %w", skipped, ErrInvalidLevel)
	}
	return nil
}

// Clear 清空买卖盘。
func (b *OrderBook) Clear() {
	b.bids.levels = b.bids.levels[:0]
	b.asks.levels = b.asks.levels[:0]
}

// Bids 返回买盘副本，按价格降序。
func (b *OrderBook) Bids() []Level {
	return b.bids.snapshot()
}

// Asks 返回卖盘副本，按价格升序。
func (b *OrderBook) Asks() []Level {
	return b.asks.snapshot()
}

func (b *OrderBook) BestBid() (Level, bool) {
	if len(b.bids.levels) == 0 {
		return Level{}, false
	}
	return b.bids.levels[0], true
}

func (b *OrderBook) BestAsk() (Level, bool) {
	if len(b.asks.levels) == 0 {
		return Level{}, false
	}
	return b.asks.levels[0], true
}

// MidPrice 返回买一卖一中间价，任一侧为空时返回0。
func (b *OrderBook) MidPrice() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// EstimateFillPriceBids 估算向买盘卖出 quantity 所得的总金额。
// 深度不足时仅计算现有流动性。
func (b *OrderBook) EstimateFillPriceBids(quantity float64) float64 {
	total, _ := b.bids.notional(quantity)
	return total
}

// EstimateFillPriceAsks 估算从卖盘买入 quantity 所需的总金额。
// 深度不足时仅计算现有流动性。
func (b *OrderBook) EstimateFillPriceAsks(quantity float64) float64 {
	total, _ := b.asks.notional(quantity)
	return total
}

// AvailableBidQuantity 返回买盘可成交数量，最多为 quantity。
func (b *OrderBook) AvailableBidQuantity(quantity float64) float64 {
	_, filled := b.bids.notional(quantity)
	return filled
}

// AvailableAskQuantity 返回卖盘可成交数量，最多为 quantity。
func (b *OrderBook) AvailableAskQuantity(quantity float64) float64 {
	_, filled := b.asks.notional(quantity)
	return filled
}

func (b *OrderBook) AverageBidAmountByQuantity(quantity float64) float64 {
	return b.EstimateFillPriceBids(quantity)
}

func (b *OrderBook) AverageAskAmountByQuantity(quantity float64) float64 {
	return b.EstimateFillPriceAsks(quantity)
}

// AverageBidByDepth 返回前 n 档买盘的加权均价。
func (b *OrderBook) AverageBidByDepth(n int) float64 {
	return b.bids.averageByDepth(n)
}

// AverageAskByDepth 返回前 n 档卖盘的加权均价。
func (b *OrderBook) AverageAskByDepth(n int) float64 {
	return b.asks.averageByDepth(n)
}

// AverageBidPrice 返回卖出 quantity 的成交均价，无流动性时返回0。
func (b *OrderBook) AverageBidPrice(quantity float64) float64 {
	total, filled := b.bids.notional(quantity)
	if filled == 0 {
		return 0
	}
	return total / filled
}

// AverageAskPrice 返回买入 quantity 的成交均价，无流动性时返回0。
func (b *OrderBook) AverageAskPrice(quantity float64) float64 {
	total, filled := b.asks.notional(quantity)
	if filled == 0 {
		return 0
	}
	return total / filled
}

// SpreadByQuantity 返回成交 quantity 时卖盘与买盘单位均价之差。
//
// 均价按实际可成交数量计算；任一侧无流动性时返回0。
func (b *OrderBook) SpreadByQuantity(quantity float64) float64 {
	ask := b.AverageAskPrice(quantity)
	bid := b.AverageBidPrice(quantity)
	if ask == 0 || bid == 0 {
		return 0
	}
	return ask - bid
}
