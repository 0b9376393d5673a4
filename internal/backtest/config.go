package backtest

import "time"

// Config 定义回测参数。
type Config struct {
	AssetSymbol     string        // 标的币种
	FundsSymbol     string        // 计价币种
	InitialEquity   float64       // 初始资金（计价币种）
	BarInterval     time.Duration // 策略K线周期
	DefaultQuantity float64       // 每次开仓数量
	StopLossPct     float64
	TakeProfitPct   float64
	// Spread 为以收盘价为中心的单边价差比例，用于构造模拟盘口。
	Spread float64
	// LevelQuantity 为模拟盘口每一档的数量。
	LevelQuantity float64
	// PeriodsPerYear 用于夏普比率年化，默认按小时计。
	PeriodsPerYear float64
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = 10000
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Hour
	}
	if cfg.DefaultQuantity <= 0 {
		cfg.DefaultQuantity = 1
	}
	if cfg.Spread < 0 {
		cfg.Spread = 0
	}
	if cfg.LevelQuantity <= 0 {
		cfg.LevelQuantity = 1e6
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 24 * 365
	}
	return cfg
}
