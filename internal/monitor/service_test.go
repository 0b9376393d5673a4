package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/order"
	"tradecore/internal/store"
	"tradecore/internal/trade"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	svc, err := NewService(s, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestService_RecordAndListByType(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Price, req.Quantity = 100, 2
	o := order.New(7, req)
	_ = o.Fill(100, 2)

	svc.RecordOrder(ctx, "BTCUSDT", o, "filled")
	svc.RecordError(ctx, "下单被拒绝", errors.New("boom"), map[string]interface{}{"side": "buy"})
	svc.RecordEquity(ctx, "BTCUSDT", 100, 10_000)

	orders, err := svc.ListEvents(ctx, Query{Type: EventOrder, Limit: 10})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(orders) != 1 || !orders[0].Timestamp.Equal(svc.now()) {
		t.Fatalf("unexpected order events %+v", orders)
	}

	var payload OrderPayload
	raw, _ := orders[0].Payload.(json.RawMessage)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != 7 || payload.Status != order.StatusFilled || payload.Executed != 2 || payload.Note != "filled" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	all, err := svc.ListEvents(ctx, Query{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(all) != 3 || all[0].Type != EventEquity {
		t.Fatalf("expected newest first, got %+v", all)
	}

	bySymbol, _ := svc.ListEvents(ctx, Query{Symbol: "BTCUSDT"})
	if len(bySymbol) != 2 {
		t.Fatalf("expected order and equity events for BTCUSDT, got %+v", bySymbol)
	}
}

func TestService_ListEventsSince(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * time.Hour)
		svc.now = func() time.Time { return now }
		svc.RecordEquity(ctx, "ETHUSDT", 10, float64(1000+i))
	}
	svc.RecordError(ctx, "行情获取失败", nil, map[string]interface{}{"symbol": "ETHUSDT"})

	recent, err := svc.ListEvents(ctx, Query{Type: EventEquity, Since: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(recent) != 2 || !recent[0].Timestamp.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("unexpected events %+v", recent)
	}

	errs, _ := svc.ListEvents(ctx, Query{Type: EventError, Symbol: "ETHUSDT"})
	if len(errs) != 1 || errs[0].Symbol != "ETHUSDT" {
		t.Fatalf("error event should carry its symbol, got %+v", errs)
	}
}

func TestService_RecordTrade(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	req := order.NewRequest("BTC", "USDT", order.SideBuy, order.TradeSideLong, 0)
	req.Price, req.Quantity = 50, 1
	tr := trade.New(3, order.New(1, req), nil, nil)
	if err := tr.Abandon("entry_cancelled"); err != nil {
		t.Fatalf("Abandon returned error: %v", err)
	}
	svc.RecordTrade(ctx, tr)

	events, err := svc.ListEvents(ctx, Query{Type: EventTrade, Limit: 5})
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one trade event, got %d err=%v", len(events), err)
	}
	var payload TradePayload
	if err := json.Unmarshal(events[0].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if events[0].Symbol != "BTCUSDT" || payload.ID != 3 || payload.ExitReason != "entry_cancelled" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestNewService_RequiresStore(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Fatalf("expected error without store")
	}
}
