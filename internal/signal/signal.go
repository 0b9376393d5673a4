package signal

import "fmt"

// Signal 为策略对单根K线给出的交易信号。
type Signal int

const (
	Neutral Signal = iota
	Undervalued
	Buy
	Sell
	Overvalued
)

type attributes struct {
	name   string
	code   byte
	weight float64
}

var table = map[Signal]attributes{
	Undervalued: {name: "undervalued", code: 'u', weight: 1.0},
	Buy:         {name: "buy", code: 'B', weight: 0.5},
	Neutral:     {name: "neutral", code: '-', weight: 0.0},
	Sell:        {name: "sell", code: 'S', weight: -0.5},
	Overvalued:  {name: "overvalued", code: 'o', weight: -1.0},
}

// All 按权重从高到低列出全部信号。
func All() []Signal {
	return []Signal{Undervalued, Buy, Neutral, Sell, Overvalued}
}

// Code 返回信号的单字符代码。
func (s Signal) Code() byte {
	return table[s].code
}

// Weight 返回信号权重，范围 [-1, 1]。
func (s Signal) Weight() float64 {
	return table[s].weight
}

func (s Signal) String() string {
	if a, ok := table[s]; ok {
		return a.name
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// IsBullish 判断是否为做多信号。
func (s Signal) IsBullish() bool {
	return s.Weight() > 0
}

// IsBearish 判断是否为做空或离场信号。
func (s Signal) IsBearish() bool {
	return s.Weight() < 0
}

// FromCode 根据代码解析信号。
func FromCode(code byte) (Signal, error) {
	for s, a := range table {
		if a.code == code {
			return s, nil
		}
	}
	return Neutral, fmt.Errorf("signal: 未知信号代码 %q", code)
}

// FromWeight 将加权得分映射为信号，阈值取相邻权重的中点。
func FromWeight(weight float64) Signal {
	switch {
	case weight >= 0.75:
		return Undervalued
	case weight >= 0.25:
		return Buy
	case weight <= -0.75:
		return Overvalued
	case weight <= -0.25:
		return Sell
	default:
		return Neutral
	}
}
