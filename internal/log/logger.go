package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"tradecore/internal/config"
)

const serviceName = "tradecore"

// NewLogger 根据配置创建 zap.Logger。
// 标准输出按 Encoding 编码；配置了 File.Path 时另以 JSON 写入滚动文件。
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log: 解析日志级别失败: %w", err)
		}
	}
	enabler := zap.NewAtomicLevelAt(level)

	encCfg := encoderConfig()
	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Encoding) {
	case "", "console":
		colored := encCfg
		colored.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(colored)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log: 不支持的日志编码 %q", cfg.Encoding)
	}

	out, _, err := zap.Open(withDefault(cfg.OutputPaths, "stdout")...)
	if err != nil {
		return nil, fmt.Errorf("log: 打开日志输出失败: %w", err)
	}
	errOut, _, err := zap.Open(withDefault(cfg.ErrorOutputPaths, "stderr")...)
	if err != nil {
		return nil, fmt.Errorf("log: 打开错误输出失败: %w", err)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, out, enabler)}
	if cfg.File.Path != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(NewRotatingWriter(cfg.File)),
			enabler,
		))
	}

	opts := []zap.Option{zap.ErrorOutput(errOut), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}
	return zap.New(zapcore.NewTee(cores...), opts...).With(zap.String("service", serviceName)), nil
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.FunctionKey = zapcore.OmitKey
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	return enc
}

func withDefault(paths []string, fallback string) []string {
	if len(paths) == 0 {
		return []string{fallback}
	}
	return paths
}

// NewRotatingWriter 返回按大小滚动的日志文件写入器。
func NewRotatingWriter(cfg config.LogFileConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
