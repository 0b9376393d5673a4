package account

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradecore/internal/config"
	"tradecore/internal/exchange"
	"tradecore/internal/order"
)

type orderClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
}

// ExchangeOptions 控制实盘下单参数。
type ExchangeOptions struct {
	MaxRetry                int
	TimeInForce             string
	PostOnly                bool
	MarginReservePercentage int
	// BalanceTTL 内重复调用 UpdateBalances(false) 直接返回缓存。
	BalanceTTL time.Duration
}

// Exchange 通过 ccxt 在真实交易所下单的连接器。
type Exchange struct {
	client orderClient
	logger *zap.Logger
	ids    *Sequence
	opts   ExchangeOptions
	retry  *exchange.Retrier

	mu          sync.Mutex
	balances    map[string]Balance
	balanceSync time.Time
	now         func() time.Time
}

var _ Connector = (*Exchange)(nil)

// NewExchange 创建实盘连接器。
func NewExchange(client orderClient, opts ExchangeOptions, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 3
	}
	if opts.MarginReservePercentage <= 0 {
		opts.MarginReservePercentage = DefaultMarginReservePercentage
	}
	if opts.BalanceTTL <= 0 {
		opts.BalanceTTL = 10 * time.Minute
	}
	retry := exchange.NewRetrier(config.RetryConfig{
		MaxAttempts: opts.MaxRetry,
		MinDelay:    time.Second,
		MaxDelay:    5 * time.Second,
	}, logger)
	return &Exchange{
		client: client,
		logger: logger,
		ids:    &Sequence{},
		opts:   opts,
		retry:  retry,
		now:    time.Now,
	}
}

func (e *Exchange) IsSimulated() bool {
	return false
}

func (e *Exchange) MarginReservePercentage() int {
	return e.opts.MarginReservePercentage
}

func marketSymbol(req *order.Request) string {
	return req.AssetSymbol + "/" + req.FundsSymbol
}

// ExecuteOrder 提交委托，临时性错误按指数退避重试。
func (e *Exchange) ExecuteOrder(ctx context.Context, req *order.Request) (*order.Order, error) {
	if !req.IsActive() {
		return nil, fmt.Errorf("account: 交易所连接器不接受未触发的条件单: %w", ErrUnsupported)
	}
	if req.Type != order.TypeMarket && req.Type != order.TypeLimit {
		return nil, fmt.Errorf("account: 不支持的订单类型 %s: %w", req.Type, ErrUnsupported)
	}

	clientID := uuid.NewString()
	params := map[string]interface{}{
		"clientOrderId": clientID,
	}
	if req.IsShortCover() || req.IsLongSell() {
		params["reduceOnly"] = true
	}
	if e.opts.PostOnly && req.Type == order.TypeLimit {
		params["postOnly"] = true
	}
	if e.opts.TimeInForce != "" {
		params["timeInForce"] = strings.ToLower(e.opts.TimeInForce)
	}

	symbol := marketSymbol(req)
	var raw ccxt.Order
	err := e.retry.Do(ctx, "create_order", func() error {
		var err error
		switch req.Type {
		case order.TypeMarket:
			raw, err = e.client.CreateMarketOrder(symbol, string(req.Side), req.Quantity, ccxt.WithCreateMarketOrderParams(params))
		case order.TypeLimit:
			raw, err = e.client.CreateLimitOrder(symbol, string(req.Side), req.Quantity, req.Price, ccxt.WithCreateLimitOrderParams(params))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("account: 下单失败: %w", err)
	}

	o := order.New(e.ids.Next(), req)
	if raw.Id != nil && *raw.Id != "" {
		o.OrderID = *raw.Id
	} else {
		o.OrderID = clientID
	}

	e.logger.Info("订单已提交",
		zap.Uint64("id", o.ID),
		zap.String("order_id", o.OrderID),
		zap.String("symbol", symbol),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.Float64("price", req.Price),
		zap.Float64("quantity", req.Quantity),
	)
	return o, nil
}

// UpdateOrderStatus 查询交易所订单并暂存新增成交。
func (e *Exchange) UpdateOrderStatus(ctx context.Context, o *order.Order) (order.Status, error) {
	var raw ccxt.Order
	err := e.retry.Do(ctx, "fetch_order", func() error {
		var err error
		raw, err = e.client.FetchOrder(o.OrderID, ccxt.WithFetchOrderSymbol(marketSymbol(o.Request)))
		return err
	})
	if err != nil {
		return o.Status, fmt.Errorf("account: 查询订单 %s 失败: %w", o.OrderID, err)
	}

	filled := derefFloat(raw.Filled)
	average := derefFloat(raw.Average)
	if average == 0 {
		average = derefFloat(raw.Price)
	}
	stageDelta(o, filled, average)

	return convertStatus(derefString(raw.Status), filled), nil
}

func convertStatus(status string, filled float64) order.Status {
	switch strings.ToLower(status) {
	case "closed":
		return order.StatusFilled
	case "canceled", "cancelled", "expired", "rejected":
		return order.StatusCancelled
	default:
		if filled > 0 {
			return order.StatusPartiallyFilled
		}
		return order.StatusNew
	}
}

// Cancel 撤销交易所订单。
func (e *Exchange) Cancel(ctx context.Context, o *order.Order) error {
	if o.IsFilled() {
		return fmt.Errorf("account: 订单 %s: %w", o.OrderID, order.ErrAlreadyFilled)
	}
	if err := e.retry.Do(ctx, "cancel_order", func() error {
		_, err := e.client.CancelOrder(o.OrderID, ccxt.WithCancelOrderSymbol(marketSymbol(o.Request)))
		return err
	}); err != nil {
		return fmt.Errorf("account: 撤销订单 %s 失败: %w", o.OrderID, err)
	}
	e.logger.Info("订单已撤销", zap.String("order_id", o.OrderID))
	return nil
}

// UpdateBalances 拉取交易所余额；force 为 false 且缓存未过期时返回缓存。
func (e *Exchange) UpdateBalances(ctx context.Context, force bool) (map[string]Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if !force && e.balances != nil && now.Sub(e.balanceSync) < e.opts.BalanceTTL {
		return cloneBalances(e.balances), nil
	}

	var raw ccxt.Balances
	err := e.retry.Do(ctx, "fetch_balance", func() error {
		var err error
		raw, err = e.client.FetchBalance()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("account: 获取账户余额失败: %w", err)
	}

	out := make(map[string]Balance)
	for code, free := range raw.Free {
		b := out[code]
		if b.Symbol == "" {
			b = NewBalance(code)
		}
		b.Free = derefFloat(free)
		out[code] = b
	}
	for code, total := range raw.Total {
		b := out[code]
		if b.Symbol == "" {
			b = NewBalance(code)
		}
		if locked := derefFloat(total) - b.Free; locked > 0 {
			b.Locked = locked
		}
		out[code] = b
	}

	e.balances = out
	e.balanceSync = now
	return cloneBalances(out), nil
}

func cloneBalances(in map[string]Balance) map[string]Balance {
	out := make(map[string]Balance, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
