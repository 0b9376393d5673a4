package account

// Balance 描述单个币种的账户余额。
type Balance struct {
	Symbol string

	Free    float64
	Locked  float64
	Shorted float64

	TradingLocked bool

	MarginReserves      map[string]float64
	ShortedAssetSymbols map[string]struct{}
}

// NewBalance 创建空余额。
func NewBalance(symbol string) Balance {
	return Balance{
		Symbol:              symbol,
		MarginReserves:      make(map[string]float64),
		ShortedAssetSymbols: make(map[string]struct{}),
	}
}

// Total 返回可用与冻结之和。
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// SetMarginReserve 设置某资产的保证金占用，非正数表示移除。
func (b *Balance) SetMarginReserve(assetSymbol string, amount float64) {
	if b.MarginReserves == nil {
		b.MarginReserves = make(map[string]float64)
	}
	if amount <= 0 {
		delete(b.MarginReserves, assetSymbol)
		return
	}
	b.MarginReserves[assetSymbol] = amount
}

// MarginReserve 返回某资产的保证金占用。
func (b Balance) MarginReserve(assetSymbol string) float64 {
	return b.MarginReserves[assetSymbol]
}

// TotalMarginReserve 返回全部保证金占用。
func (b Balance) TotalMarginReserve() float64 {
	var total float64
	for _, v := range b.MarginReserves {
		total += v
	}
	return total
}

// AddShortedAsset 记录以该币种为保证金做空的资产。
func (b *Balance) AddShortedAsset(assetSymbol string) {
	if b.ShortedAssetSymbols == nil {
		b.ShortedAssetSymbols = make(map[string]struct{})
	}
	b.ShortedAssetSymbols[assetSymbol] = struct{}{}
}

func (b *Balance) RemoveShortedAsset(assetSymbol string) {
	delete(b.ShortedAssetSymbols, assetSymbol)
}

func (b Balance) HasShortedAsset(assetSymbol string) bool {
	_, ok := b.ShortedAssetSymbols[assetSymbol]
	return ok
}

func (b *Balance) LockTrading() {
	b.TradingLocked = true
}

func (b *Balance) UnlockTrading() {
	b.TradingLocked = false
}

// Clone 返回深拷贝。
func (b Balance) Clone() Balance {
	out := b
	out.MarginReserves = make(map[string]float64, len(b.MarginReserves))
	for k, v := range b.MarginReserves {
		out.MarginReserves[k] = v
	}
	out.ShortedAssetSymbols = make(map[string]struct{}, len(b.ShortedAssetSymbols))
	for k := range b.ShortedAssetSymbols {
		out.ShortedAssetSymbols[k] = struct{}{}
	}
	return out
}
