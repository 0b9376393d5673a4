package account

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradecore/internal/fees"
	"tradecore/internal/order"
	"tradecore/internal/orderbook"
)

// PaperOptions 配置模拟账户。
type PaperOptions struct {
	Balances                map[string]float64
	MarginReservePercentage int
	Fees                    fees.Policy
}

// Paper 基于本地订单簿撮合的模拟连接器。
type Paper struct {
	mu     sync.Mutex
	logger *zap.Logger
	ids    *Sequence

	book     *orderbook.OrderBook
	fees     fees.Policy
	margin   int
	balances map[string]*Balance
	orders   map[uint64]*paperOrder
}

type paperOrder struct {
	order *order.Order
	// filled 与 notional 为模拟撮合的累计结果，UpdateOrderStatus 据此暂存增量。
	filled   float64
	notional float64
	status   order.Status
}

var _ Connector = (*Paper)(nil)

// NewPaper 创建模拟连接器，book 为撮合使用的订单簿。
func NewPaper(book *orderbook.OrderBook, opts PaperOptions, logger *zap.Logger) *Paper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Fees == nil {
		opts.Fees = fees.None
	}
	if opts.MarginReservePercentage <= 0 {
		opts.MarginReservePercentage = DefaultMarginReservePercentage
	}
	p := &Paper{
		logger:   logger,
		ids:      &Sequence{},
		book:     book,
		fees:     opts.Fees,
		margin:   opts.MarginReservePercentage,
		balances: make(map[string]*Balance),
		orders:   make(map[uint64]*paperOrder),
	}
	for symbol, amount := range opts.Balances {
		b := NewBalance(symbol)
		b.Free = amount
		p.balances[symbol] = &b
	}
	return p
}

func (p *Paper) IsSimulated() bool {
	return true
}

func (p *Paper) MarginReservePercentage() int {
	return p.margin
}

func (p *Paper) balance(symbol string) *Balance {
	b, ok := p.balances[symbol]
	if !ok {
		nb := NewBalance(symbol)
		b = &nb
		p.balances[symbol] = b
	}
	return b
}

// ExecuteOrder 登记订单，成交在 UpdateOrderStatus 时按盘口撮合。
func (p *Paper) ExecuteOrder(_ context.Context, req *order.Request) (*order.Order, error) {
	if !req.IsActive() {
		return nil, fmt.Errorf("account: 模拟账户不接受未触发的条件单: %w", ErrUnsupported)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("account: 下单数量非法 %f: %w", req.Quantity, order.ErrInvalidFill)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.IsLongBuy() {
		funds := p.balance(req.FundsSymbol)
		price := req.Price
		if req.Type == order.TypeMarket || price == 0 {
			price = p.book.AverageAskPrice(req.Quantity)
		}
		cost := price * req.Quantity
		if funds.Free < cost {
			return nil, fmt.Errorf("account: %s 可用 %.8f 不足 %.8f: %w", req.FundsSymbol, funds.Free, cost, ErrInsufficientFunds)
		}
	}
	if req.IsLongSell() {
		asset := p.balance(req.AssetSymbol)
		if asset.Free+1e-12 < req.Quantity {
			return nil, fmt.Errorf("account: %s 可用 %.8f 不足 %.8f: %w", req.AssetSymbol, asset.Free, req.Quantity, ErrInsufficientFunds)
		}
	}

	o := order.New(p.ids.Next(), req)
	o.OrderID = uuid.NewString()
	p.orders[o.ID] = &paperOrder{order: o, status: order.StatusNew}

	p.logger.Debug("模拟订单已登记",
		zap.Uint64("id", o.ID),
		zap.String("order_id", o.OrderID),
		zap.String("side", string(req.Side)),
		zap.String("trade_side", string(req.TradeSide)),
		zap.Float64("price", req.Price),
		zap.Float64("quantity", req.Quantity),
	)
	return o, nil
}

// UpdateOrderStatus 按当前盘口撮合剩余数量，并将新增成交暂存到订单上。
func (p *Paper) UpdateOrderStatus(_ context.Context, o *order.Order) (order.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[o.ID]
	if !ok {
		return o.Status, fmt.Errorf("account: 模拟订单 %d: %w", o.ID, ErrUnknownOrder)
	}
	if po.status == order.StatusNew || po.status == order.StatusPartiallyFilled {
		p.match(po)
	}

	if po.filled > 0 {
		stageDelta(o, po.filled, po.notional/po.filled)
	}
	if po.status.IsTerminal() {
		delete(p.orders, o.ID)
	}
	return po.status, nil
}

func (p *Paper) match(po *paperOrder) {
	o := po.order
	remaining := o.Quantity() - po.filled
	if remaining <= 1e-12 {
		po.status = order.StatusFilled
		return
	}

	var price, available float64
	if o.Side() == order.SideBuy {
		best, ok := p.book.BestAsk()
		if !ok || (o.Type() == order.TypeLimit && o.Price() > 0 && best.Price > o.Price()) {
			return
		}
		available = p.book.AvailableAskQuantity(remaining)
		price = p.book.AverageAskPrice(available)
	} else {
		best, ok := p.book.BestBid()
		if !ok || (o.Type() == order.TypeLimit && o.Price() > 0 && best.Price < o.Price()) {
			return
		}
		available = p.book.AvailableBidQuantity(remaining)
		price = p.book.AverageBidPrice(available)
	}
	if available <= 0 || price <= 0 {
		return
	}

	p.settle(o, price, available)
	po.filled += available
	po.notional += price * available
	if po.filled >= o.Quantity()-1e-9 {
		po.status = order.StatusFilled
	} else {
		po.status = order.StatusPartiallyFilled
	}
}

// settle 按成交更新余额。做空时卖出所得计入可用，并按保证金比例冻结。
func (p *Paper) settle(o *order.Order, price, quantity float64) {
	req := o.Request
	asset := p.balance(req.AssetSymbol)
	funds := p.balance(req.FundsSymbol)
	notional := price * quantity
	fee := p.fees.TakeFee(notional, o.Type(), o.Side())

	switch {
	case req.IsLongBuy():
		funds.Free -= notional + fee
		asset.Free += quantity
	case req.IsLongSell():
		asset.Free -= quantity
		funds.Free += notional - fee
	case req.IsShortSell():
		reserve := notional * float64(p.margin) / 100
		asset.Shorted += quantity
		funds.Free += notional - fee - reserve
		funds.Locked += reserve
		funds.SetMarginReserve(req.AssetSymbol, funds.MarginReserve(req.AssetSymbol)+reserve)
		funds.AddShortedAsset(req.AssetSymbol)
	case req.IsShortCover():
		shorted := asset.Shorted
		reserve := funds.MarginReserve(req.AssetSymbol)
		released := reserve
		if shorted > 0 {
			released = reserve * math.Min(1, quantity/shorted)
		}
		asset.Shorted = math.Max(0, shorted-quantity)
		funds.Locked -= released
		funds.Free += released - notional - fee
		funds.SetMarginReserve(req.AssetSymbol, reserve-released)
		if asset.Shorted == 0 {
			funds.RemoveShortedAsset(req.AssetSymbol)
		}
	}

	p.logger.Debug("模拟成交",
		zap.Uint64("id", o.ID),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
		zap.Float64("fee", fee),
	)
}

// Cancel 撤销模拟订单，已完全成交的订单返回 order.ErrAlreadyFilled。
func (p *Paper) Cancel(_ context.Context, o *order.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[o.ID]
	if !ok {
		if o.IsFilled() {
			return fmt.Errorf("account: 模拟订单 %d: %w", o.ID, order.ErrAlreadyFilled)
		}
		return nil
	}
	if po.status == order.StatusFilled {
		return fmt.Errorf("account: 模拟订单 %d: %w", o.ID, order.ErrAlreadyFilled)
	}
	po.status = order.StatusCancelled
	return nil
}

// UpdateBalances 返回余额快照。
func (p *Paper) UpdateBalances(_ context.Context, _ bool) (map[string]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Balance, len(p.balances))
	for symbol, b := range p.balances {
		out[symbol] = b.Clone()
	}
	return out, nil
}

// Equity 以 price 估算账户权益（计价币种）。
func (p *Paper) Equity(assetSymbol, fundsSymbol string, price float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	asset := p.balance(assetSymbol)
	funds := p.balance(fundsSymbol)
	return funds.Total() + (asset.Total()-asset.Shorted)*price
}
