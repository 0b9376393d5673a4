package backtest

import (
	"tradecore/internal/account"
	"tradecore/internal/orderbook"
)

// Simulator 围绕收盘价构造模拟盘口，并记录模拟账户的权益曲线。
type Simulator struct {
	book  *orderbook.OrderBook
	paper *account.Paper

	assetSymbol string
	fundsSymbol string
	spread      float64
	levelQty    float64
	lastPrice   float64

	equityHistory []float64
	returnHistory []float64
}

func NewSimulator(cfg Config, book *orderbook.OrderBook, paper *account.Paper) *Simulator {
	return &Simulator{
		book:          book,
		paper:         paper,
		assetSymbol:   cfg.AssetSymbol,
		fundsSymbol:   cfg.FundsSymbol,
		spread:        cfg.Spread,
		levelQty:      cfg.LevelQuantity,
		equityHistory: []float64{cfg.InitialEquity},
	}
}

// Advance 以最新收盘价重建盘口。
func (s *Simulator) Advance(price float64) error {
	if price <= 0 {
		return nil
	}
	s.lastPrice = price
	bid := price * (1 - s.spread)
	ask := price * (1 + s.spread)
	return s.book.ApplySnapshot(
		[]orderbook.Level{{Price: bid, Quantity: s.levelQty}},
		[]orderbook.Level{{Price: ask, Quantity: s.levelQty}},
	)
}

// Mark 按最新价记录一次权益。
func (s *Simulator) Mark() {
	if s.lastPrice <= 0 {
		return
	}
	prev := s.equityHistory[len(s.equityHistory)-1]
	equity := s.paper.Equity(s.assetSymbol, s.fundsSymbol, s.lastPrice)
	if prev != 0 {
		s.returnHistory = append(s.returnHistory, equity/prev-1)
	}
	s.equityHistory = append(s.equityHistory, equity)
}

func (s *Simulator) Equity() float64 {
	return s.equityHistory[len(s.equityHistory)-1]
}

func (s *Simulator) LastPrice() float64 {
	return s.lastPrice
}

func (s *Simulator) EquityHistory() []float64 {
	return append([]float64(nil), s.equityHistory...)
}

func (s *Simulator) ReturnHistory() []float64 {
	return append([]float64(nil), s.returnHistory...)
}
