package signals

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"tradecore/internal/candle"
	"tradecore/internal/config"
	"tradecore/internal/signal"
	"tradecore/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRepository_AddOverwritesSameBar(t *testing.T) {
	r, _ := NewRepository(nil, nil)
	c := candle.New(0, 59_999, 1, 2, 0.5, 1.5, 10)
	r.Add("BTCUSDT", c, signal.Buy)
	r.Add("BTCUSDT", c, signal.Sell)
	r.Add("BTCUSDT", candle.New(60_000, 119_999, 1.5, 2, 1, 1.8, 3), signal.Neutral)

	entries := r.Entries("BTCUSDT")
	if len(entries) != 2 || entries[0].Signal != signal.Sell || entries[1].Candle.OpenTime != 60_000 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if len(r.Entries("ETHUSDT")) != 0 {
		t.Fatalf("symbols must be isolated")
	}
}

func TestRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r, err := NewRepository(s.DB(), nil)
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}
	r.Add("BTCUSDT", candle.New(0, 59_999, 1, 2, 0.5, 1.5, 10), signal.Undervalued)
	r.Add("BTCUSDT", candle.New(60_000, 119_999, 1.5, 2, 1, 1.8, 3), signal.Overvalued)
	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	// 重复保存走更新分支
	if err := r.Save(ctx); err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}

	fresh, _ := NewRepository(s.DB(), nil)
	n, err := fresh.Load(ctx, "BTCUSDT")
	if err != nil || n != 2 {
		t.Fatalf("Load returned n=%d err=%v", n, err)
	}
	entries := fresh.Entries("BTCUSDT")
	if entries[0].Signal != signal.Undervalued || entries[1].Signal != signal.Overvalued || entries[1].Candle.Close != 1.8 {
		t.Fatalf("unexpected loaded entries %+v", entries)
	}
}

func TestRepository_WithoutDatabase(t *testing.T) {
	r, _ := NewRepository(nil, nil)
	if err := r.Save(context.Background()); err == nil {
		t.Fatalf("expected error without database")
	}
}

func TestRepository_WriteCSV(t *testing.T) {
	r, _ := NewRepository(nil, nil)
	r.Add("BTCUSDT", candle.New(0, 59_999, 1, 2, 0.5, 1.5, 10), signal.Buy)

	var buf bytes.Buffer
	if err := r.WriteCSV(&buf, "BTCUSDT"); err != nil {
		t.Fatalf("WriteCSV returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", buf.String())
	}
	if lines[0] != strings.Join(DefaultHeaders, ",") || lines[1] != "0,59999,1,2,0.5,1.5,10,B" {
		t.Fatalf("unexpected csv %q", buf.String())
	}
}
