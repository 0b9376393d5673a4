package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig           `mapstructure:"app"`
	Exchange  ExchangeConfig      `mapstructure:"exchange"`
	Trade     TradeExchangeConfig `mapstructure:"trade_exchange"`
	Engine    EngineConfig        `mapstructure:"engine"`
	Strategy  StrategyConfig      `mapstructure:"strategy"`
	Fees      FeesConfig          `mapstructure:"fees"`
	Paper     PaperConfig         `mapstructure:"paper"`
	Risk      RiskConfig          `mapstructure:"risk"`
	Database  DatabaseConfig      `mapstructure:"database"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Scheduler SchedulerConfig     `mapstructure:"scheduler"`
	Monitor   MonitorConfig       `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述行情交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Markets    []string    `mapstructure:"markets"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// TradeExchangeConfig 描述执行端交易所配置。
type TradeExchangeConfig struct {
	Name        string        `mapstructure:"name"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	APIPass     string        `mapstructure:"api_password"`
	UseSandbox  bool          `mapstructure:"use_sandbox"`
	Simulation  bool          `mapstructure:"simulation"`
	TimeInForce string        `mapstructure:"time_in_force"`
	PostOnly    bool          `mapstructure:"post_only"`
	MaxRetry    int           `mapstructure:"max_retry"`
	BalanceTTL  time.Duration `mapstructure:"balance_ttl"`
	// MarginReservePercentage 做空保证金比例，100 表示全额。
	MarginReservePercentage int `mapstructure:"margin_reserve_percentage"`
}

// Client 返回下单客户端使用的连接配置，重试参数沿用行情端。
func (c TradeExchangeConfig) Client(retry RetryConfig) ExchangeConfig {
	return ExchangeConfig{
		Name:       c.Name,
		APIKey:     c.APIKey,
		APISecret:  c.APISecret,
		APIPass:    c.APIPass,
		UseSandbox: c.UseSandbox,
		Retry:      retry,
	}
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// EngineConfig 控制单个交易对的撮合与下单参数。
type EngineConfig struct {
	OrderBookDepth  int           `mapstructure:"order_book_depth"`
	BarInterval     time.Duration `mapstructure:"bar_interval"`
	DefaultQuantity float64       `mapstructure:"default_quantity"`
	StopLossPct     float64       `mapstructure:"stop_loss_pct"`
	TakeProfitPct   float64       `mapstructure:"take_profit_pct"`
}

// StrategyConfig 描述默认组合策略的指标参数。
type StrategyConfig struct {
	Name                 string  `mapstructure:"name"`
	TradeSide            string  `mapstructure:"trade_side"`
	ExitOnOppositeSignal bool    `mapstructure:"exit_on_opposite_signal"`
	RSIPeriod            int     `mapstructure:"rsi_period"`
	RSIOversold          float64 `mapstructure:"rsi_oversold"`
	RSIOverbought        float64 `mapstructure:"rsi_overbought"`
	EMAFast              int     `mapstructure:"ema_fast"`
	EMASlow              int     `mapstructure:"ema_slow"`
}

// FeesConfig 手续费率。
type FeesConfig struct {
	Maker float64 `mapstructure:"maker"`
	Taker float64 `mapstructure:"taker"`
	Flat  float64 `mapstructure:"flat"`
}

// PaperConfig 模拟账户初始余额。
type PaperConfig struct {
	Balances map[string]float64 `mapstructure:"balances"`
}

// Assets 返回以大写币种为键的初始余额，viper 读取的键均为小写。
func (p PaperConfig) Assets() map[string]float64 {
	out := make(map[string]float64, len(p.Balances))
	for symbol, amount := range p.Balances {
		out[strings.ToUpper(symbol)] += amount
	}
	return out
}

// RiskConfig 管理风控参数。
type RiskConfig struct {
	MaxTradeLoss        float64 `mapstructure:"max_trade_loss"`
	TakeProfit          float64 `mapstructure:"take_profit"`
	TrailingStop        float64 `mapstructure:"trailing_stop"`
	MaxDailyLoss        float64 `mapstructure:"max_daily_loss"`
	DailyLossResetHour  int     `mapstructure:"daily_loss_reset_hour"`
	EnableDailyStopLoss bool    `mapstructure:"enable_daily_stop_loss"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string        `mapstructure:"level"`
	Encoding         string        `mapstructure:"encoding"`
	Development      bool          `mapstructure:"development"`
	OutputPaths      []string      `mapstructure:"output_paths"`
	ErrorOutputPaths []string      `mapstructure:"error_output_paths"`
	File             LogFileConfig `mapstructure:"file"`
}

// LogFileConfig 滚动日志文件，Path 为空时不启用。
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
	CandleLimit  int           `mapstructure:"candle_limit"`
}

// MonitorConfig 控制监控 HTTP 服务，Port 为0时不启动。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if len(c.Exchange.Markets) == 0 {
		err = multierr.Append(err, errors.New("exchange.markets 至少包含一个交易对"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if !c.Trade.Simulation {
		if c.Trade.Name == "" {
			err = multierr.Append(err, errors.New("trade_exchange.name 不能为空"))
		}
		if c.Trade.APIKey == "" || c.Trade.APISecret == "" {
			err = multierr.Append(err, errors.New("实盘交易需要配置 trade_exchange.api_key 与 api_secret"))
		}
	}
	if c.Trade.MarginReservePercentage < 0 {
		err = multierr.Append(err, errors.New("trade_exchange.margin_reserve_percentage 不能为负"))
	}
	if c.Engine.OrderBookDepth <= 0 {
		err = multierr.Append(err, errors.New("engine.order_book_depth 必须大于0"))
	}
	if c.Engine.BarInterval < time.Minute {
		err = multierr.Append(err, errors.New("engine.bar_interval 不能小于1分钟"))
	}
	if c.Engine.DefaultQuantity <= 0 {
		err = multierr.Append(err, errors.New("engine.default_quantity 必须大于0"))
	}
	if c.Engine.StopLossPct < 0 || c.Engine.StopLossPct >= 1 {
		err = multierr.Append(err, errors.New("engine.stop_loss_pct 应位于[0,1)"))
	}
	if c.Engine.TakeProfitPct < 0 {
		err = multierr.Append(err, errors.New("engine.take_profit_pct 不能为负"))
	}
	switch c.Strategy.TradeSide {
	case "", "long", "short":
	default:
		err = multierr.Append(err, fmt.Errorf("strategy.trade_side 不支持 %q", c.Strategy.TradeSide))
	}
	if c.Strategy.RSIPeriod < 2 {
		err = multierr.Append(err, errors.New("strategy.rsi_period 必须不小于2"))
	}
	if c.Strategy.RSIOversold >= c.Strategy.RSIOverbought {
		err = multierr.Append(err, errors.New("strategy.rsi_oversold 必须小于 rsi_overbought"))
	}
	if c.Strategy.EMAFast <= 0 || c.Strategy.EMAFast >= c.Strategy.EMASlow {
		err = multierr.Append(err, errors.New("strategy.ema_fast 必须为正且小于 ema_slow"))
	}
	if c.Fees.Maker < 0 || c.Fees.Taker < 0 || c.Fees.Flat < 0 {
		err = multierr.Append(err, errors.New("fees 费率不能为负"))
	}
	if c.Risk.MaxTradeLoss < 0 || c.Risk.MaxTradeLoss >= 1 {
		err = multierr.Append(err, errors.New("risk.max_trade_loss 应位于[0,1)"))
	}
	if c.Risk.TakeProfit < 0 {
		err = multierr.Append(err, errors.New("risk.take_profit 不能为负"))
	}
	if c.Risk.TrailingStop < 0 || c.Risk.TrailingStop >= 1 {
		err = multierr.Append(err, errors.New("risk.trailing_stop 应位于[0,1)"))
	}
	if c.Risk.MaxDailyLoss < 0 {
		err = multierr.Append(err, errors.New("risk.max_daily_loss 不能为负"))
	}
	if c.Risk.EnableDailyStopLoss && (c.Risk.DailyLossResetHour < 0 || c.Risk.DailyLossResetHour > 23) {
		err = multierr.Append(err, errors.New("risk.daily_loss_reset_hour 必须位于[0,23]"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if c.Logging.File.Path != "" && c.Logging.File.MaxSizeMB <= 0 {
		err = multierr.Append(err, errors.New("logging.file.max_size_mb 必须大于0"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if c.Scheduler.CandleLimit <= 0 {
		err = multierr.Append(err, errors.New("scheduler.candle_limit 必须大于0"))
	}
	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
