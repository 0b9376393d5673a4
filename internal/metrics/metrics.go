package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总交易引擎的 Prometheus 指标。nil 接收者上的调用均为空操作。
type Metrics struct {
	registry *prometheus.Registry

	orders      *prometheus.CounterVec
	fills       *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	signals     *prometheus.CounterVec
	trades      *prometheus.CounterVec
	exitReasons *prometheus.CounterVec
	openTrades  *prometheus.GaugeVec
	midPrice    *prometheus.GaugeVec
	realizedPnL *prometheus.GaugeVec
	equity      prometheus.Gauge
}

// New 创建指标并注册到独立的 Registry。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_orders_total",
				Help: "Orders submitted to the connector",
			},
			[]string{"symbol", "side", "mode"},
		),
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_filled_quantity_total",
				Help: "Filled quantity folded into orders",
			},
			[]string{"symbol", "side"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_rejections_total",
				Help: "Rejected submissions and state transitions",
			},
			[]string{"symbol", "reason"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_signals_total",
				Help: "Strategy signals observed on closed bars",
			},
			[]string{"symbol", "signal"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_trades_total",
				Help: "Trades counted by result (open|win|loss|abandoned)",
			},
			[]string{"symbol", "result"},
		),
		exitReasons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_exit_reasons_total",
				Help: "Trade exits split by reason and trade side",
			},
			[]string{"reason", "trade_side"},
		),
		openTrades: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradecore_open_trades",
				Help: "Trades that are not finalized",
			},
			[]string{"symbol"},
		),
		midPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradecore_mid_price",
				Help: "Order book mid price",
			},
			[]string{"symbol"},
		),
		realizedPnL: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradecore_realized_pnl",
				Help: "Cumulative realized profit and loss net of fees",
			},
			[]string{"symbol"},
		),
		equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradecore_equity",
				Help: "Account equity in funds currency",
			},
		),
	}

	m.registry.MustRegister(m.orders, m.fills, m.rejections, m.signals)
	m.registry.MustRegister(m.trades, m.exitReasons)
	m.registry.MustRegister(m.openTrades, m.midPrice, m.realizedPnL, m.equity)
	return m
}

// Handler 返回 /metrics 使用的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderSubmitted(symbol, side string, simulated bool) {
	if m == nil {
		return
	}
	mode := "live"
	if simulated {
		mode = "paper"
	}
	m.orders.WithLabelValues(symbol, side, mode).Inc()
}

func (m *Metrics) OrderFilled(symbol, side string, quantity float64) {
	if m == nil || quantity <= 0 {
		return
	}
	m.fills.WithLabelValues(symbol, side).Add(quantity)
}

func (m *Metrics) Rejected(symbol, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) SignalObserved(symbol, sig string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(symbol, sig).Inc()
}

func (m *Metrics) TradeOpened(symbol string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(symbol, "open").Inc()
	m.openTrades.WithLabelValues(symbol).Inc()
}

// TradeClosed 记录持仓结束，pnl 为净盈亏。
func (m *Metrics) TradeClosed(symbol, tradeSide, reason string, pnl float64) {
	if m == nil {
		return
	}
	result := "win"
	if pnl < 0 {
		result = "loss"
	}
	m.trades.WithLabelValues(symbol, result).Inc()
	m.exitReasons.WithLabelValues(reason, tradeSide).Inc()
	m.openTrades.WithLabelValues(symbol).Dec()
	m.realizedPnL.WithLabelValues(symbol).Add(pnl)
}

// TradeAbandoned 记录未成交即作废的持仓。
func (m *Metrics) TradeAbandoned(symbol string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(symbol, "abandoned").Inc()
	m.openTrades.WithLabelValues(symbol).Dec()
}

func (m *Metrics) SetMidPrice(symbol string, price float64) {
	if m == nil || price <= 0 {
		return
	}
	m.midPrice.WithLabelValues(symbol).Set(price)
}

func (m *Metrics) SetEquity(v float64) {
	if m == nil {
		return
	}
	m.equity.Set(v)
}
