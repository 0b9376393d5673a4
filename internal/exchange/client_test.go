package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"tradecore/internal/config"
)

func TestTimeframe(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{time.Minute, "1m"},
		{15 * time.Minute, "15m"},
		{time.Hour, "1h"},
		{4 * time.Hour, "4h"},
		{24 * time.Hour, "1d"},
	}
	for _, tc := range cases {
		got, err := Timeframe(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("Timeframe(%s) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
	if _, err := Timeframe(90 * time.Second); err == nil {
		t.Errorf("expected error for 90s")
	}
}

func TestConvertCandles_ClosedInterval(t *testing.T) {
	raw := []ccxt.OHLCV{
		{Timestamp: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: 60_000, Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 5},
	}
	candles := convertCandles(raw, time.Minute)
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].CloseTime != 59_999 || candles[1].OpenTime != 60_000 {
		t.Fatalf("unexpected bounds %+v", candles)
	}
	if candles[1].Close != 2 || candles[1].Volume != 5 {
		t.Fatalf("unexpected values %+v", candles[1])
	}
}

func TestConvertOrderBook(t *testing.T) {
	ts := int64(1_700_000_000_000)
	nonce := int64(42)
	ob := ccxt.OrderBook{
		Bids:      [][]float64{{99, 1}, {98}},
		Asks:      [][]float64{{101, 2}},
		Timestamp: &ts,
		Nonce:     &nonce,
	}
	snap := convertOrderBook("BTC/USDT", ob)
	if len(snap.Bids) != 1 || snap.Bids[0].Quantity != 1 {
		t.Fatalf("malformed levels should be skipped: %+v", snap.Bids)
	}
	if snap.Asks[0].Price != 101 || snap.Nonce != 42 || snap.Timestamp.UnixMilli() != ts {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestClassify(t *testing.T) {
	if _, retry := Classify(context.Canceled); retry {
		t.Errorf("context cancellation must not retry")
	}
	if _, retry := Classify(&ccxt.Error{Type: ccxt.NetworkErrorErrType}); !retry {
		t.Errorf("network error should retry")
	}
	err, retry := Classify(&ccxt.Error{Type: ccxt.OnMaintenanceErrType})
	if retry || !errors.Is(err, ErrMaintenance) {
		t.Errorf("maintenance should map to ErrMaintenance without retry, got %v", err)
	}
	if IsRetryable(errors.New("boom")) {
		t.Errorf("plain errors are not retryable")
	}
}

func newTestRetrier(attempts int) (*Retrier, *[]time.Duration) {
	r := NewRetrier(config.RetryConfig{MaxAttempts: attempts, MinDelay: time.Second, MaxDelay: 3 * time.Second}, nil)
	waits := &[]time.Duration{}
	r.wait = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return r, waits
}

func TestRetrier_BacksOffUntilSuccess(t *testing.T) {
	r, waits := newTestRetrier(4)
	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		if calls < 4 {
			return &ccxt.Error{Type: ccxt.RequestTimeoutErrType}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i, d := range want {
		if (*waits)[i] != d {
			t.Fatalf("waits = %v, want %v", *waits, want)
		}
	}
}

func TestRetrier_StopsOnPermanentErrors(t *testing.T) {
	r, waits := newTestRetrier(5)

	calls := 0
	err := r.Do(context.Background(), "create_order", func() error {
		calls++
		return &ccxt.Error{Type: ccxt.OnMaintenanceErrType}
	})
	if !errors.Is(err, ErrMaintenance) || calls != 1 {
		t.Fatalf("maintenance: err=%v calls=%d", err, calls)
	}

	calls = 0
	err = r.Do(context.Background(), "create_order", func() error {
		calls++
		return errors.New("insufficient margin")
	})
	if err == nil || calls != 1 || len(*waits) != 0 {
		t.Fatalf("permanent: err=%v calls=%d waits=%v", err, calls, *waits)
	}
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	r, _ := newTestRetrier(2)
	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		return &ccxt.Error{Type: ccxt.NetworkErrorErrType}
	})
	if err == nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetrier_CanceledContext(t *testing.T) {
	r, _ := newTestRetrier(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := r.Do(ctx, "fetch", func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}
