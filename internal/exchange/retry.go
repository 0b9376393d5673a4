package exchange

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/config"
)

const (
	defaultRetryAttempts = 3
	defaultMinDelay      = 500 * time.Millisecond
	defaultMaxDelay      = 5 * time.Second
)

// Retrier 以指数退避重试交易所调用，只重试 Classify 判定为临时性的错误。
type Retrier struct {
	attempts int
	minDelay time.Duration
	maxDelay time.Duration
	logger   *zap.Logger

	// wait 在两次尝试之间阻塞，测试中可替换。
	wait func(ctx context.Context, d time.Duration) error
}

// NewRetrier 按配置创建 Retrier，零值字段使用默认值。
func NewRetrier(cfg config.RetryConfig, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrier{
		attempts: cfg.MaxAttempts,
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		logger:   logger,
		wait:     sleep,
	}
	if r.attempts <= 0 {
		r.attempts = defaultRetryAttempts
	}
	if r.minDelay <= 0 {
		r.minDelay = defaultMinDelay
	}
	if r.maxDelay <= 0 {
		r.maxDelay = defaultMaxDelay
	}
	if r.minDelay > r.maxDelay {
		r.minDelay = r.maxDelay
	}
	return r
}

// Do 执行 fn 直到成功、遇到不可重试错误或用尽次数。返回的错误已经过 Classify 归一化。
func (r *Retrier) Do(ctx context.Context, operation string, fn func() error) error {
	delay := r.minDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := fn()
		latency := time.Since(start)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", latency),
				)
			}
			return nil
		}

		err, retry := Classify(err)
		switch {
		case errors.Is(err, ErrMaintenance):
			r.logger.Warn("交易所维护中", zap.String("operation", operation), zap.Error(err))
			return err
		case !retry || attempt >= r.attempts:
			r.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", latency),
				zap.Error(err),
			)
			return err
		}

		r.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(err),
		)
		if err := r.wait(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, r.maxDelay)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
