package backtest

import "math"

// Metrics 记录回测绩效指标。比率按 periodsPerYear 年化，ProfitFactor 在无亏损时为0。
type Metrics struct {
	TotalReturn  float64
	MaxDrawdown  float64
	SharpeRatio  float64
	SortinoRatio float64
	ProfitFactor float64
}

func calculateMetrics(equity, returns, pnls []float64, periodsPerYear float64) Metrics {
	m := Metrics{
		MaxDrawdown:  computeDrawdown(equity),
		SharpeRatio:  computeSharpe(returns, periodsPerYear),
		SortinoRatio: computeSortino(returns, periodsPerYear),
		ProfitFactor: computeProfitFactor(pnls),
	}
	if n := len(equity); n > 0 && equity[0] > 0 {
		m.TotalReturn = equity[n-1]/equity[0] - 1
	}
	return m
}

// computeDrawdown 返回权益曲线自峰值的最大回撤比例（正数）。
func computeDrawdown(equity []float64) float64 {
	var peak, worst float64
	for _, v := range equity {
		peak = math.Max(peak, v)
		if peak > 0 {
			worst = math.Max(worst, (peak-v)/peak)
		}
	}
	return worst
}

func computeSharpe(returns []float64, periodsPerYear float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}
	mu := mean(returns)
	var ss float64
	for _, r := range returns {
		ss += (r - mu) * (r - mu)
	}
	if n > 1 {
		ss /= float64(n - 1)
	}
	return annualize(mu, math.Sqrt(ss), periodsPerYear)
}

// computeSortino 只以负收益计算下行波动，目标收益为0。
func computeSortino(returns []float64, periodsPerYear float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var downside float64
	for _, r := range returns {
		if r < 0 {
			downside += r * r
		}
	}
	return annualize(mean(returns), math.Sqrt(downside/float64(len(returns))), periodsPerYear)
}

func computeProfitFactor(pnls []float64) float64 {
	var gain, loss float64
	for _, p := range pnls {
		if p > 0 {
			gain += p
		} else {
			loss -= p
		}
	}
	if loss == 0 {
		return 0
	}
	return gain / loss
}

func annualize(mu, dev, periodsPerYear float64) float64 {
	if dev == 0 {
		return 0
	}
	return mu / dev * math.Sqrt(periodsPerYear)
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
