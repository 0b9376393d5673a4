package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "tradecore"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.markets", []string{"BTC/USDT:USDT"})
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("trade_exchange.name", "binanceusdm")
	v.SetDefault("trade_exchange.api_key", "")
	v.SetDefault("trade_exchange.api_secret", "")
	v.SetDefault("trade_exchange.api_password", "")
	v.SetDefault("trade_exchange.use_sandbox", false)
	v.SetDefault("trade_exchange.simulation", true)
	v.SetDefault("trade_exchange.time_in_force", "GTC")
	v.SetDefault("trade_exchange.post_only", false)
	v.SetDefault("trade_exchange.max_retry", 3)
	v.SetDefault("trade_exchange.balance_ttl", "10m")
	v.SetDefault("trade_exchange.margin_reserve_percentage", 150)

	v.SetDefault("engine.order_book_depth", 25)
	v.SetDefault("engine.bar_interval", "1h")
	v.SetDefault("engine.default_quantity", 0.01)
	v.SetDefault("engine.stop_loss_pct", 0.02)
	v.SetDefault("engine.take_profit_pct", 0.04)

	v.SetDefault("strategy.name", "rsi_ema")
	v.SetDefault("strategy.trade_side", "")
	v.SetDefault("strategy.exit_on_opposite_signal", true)
	v.SetDefault("strategy.rsi_period", 14)
	v.SetDefault("strategy.rsi_oversold", 30)
	v.SetDefault("strategy.rsi_overbought", 70)
	v.SetDefault("strategy.ema_fast", 12)
	v.SetDefault("strategy.ema_slow", 26)

	v.SetDefault("fees.maker", 0.0002)
	v.SetDefault("fees.taker", 0.0005)
	v.SetDefault("fees.flat", 0)

	v.SetDefault("paper.balances", map[string]float64{"USDT": 10000})

	v.SetDefault("risk.max_trade_loss", 0.05)
	v.SetDefault("risk.take_profit", 0)
	v.SetDefault("risk.trailing_stop", 0)
	v.SetDefault("risk.max_daily_loss", 0.03)
	v.SetDefault("risk.daily_loss_reset_hour", 0)
	v.SetDefault("risk.enable_daily_stop_loss", true)

	v.SetDefault("database.path", "data/tradecore.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age_days", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("scheduler.loop_interval", "1m")
	v.SetDefault("scheduler.candle_limit", 200)

	v.SetDefault("monitor.port", 0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
