package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/order"
	"tradecore/internal/store"
	"tradecore/internal/trade"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Service 将订单、持仓、权益与异常写入 monitor_events 表，供查询接口回放。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Query 为事件检索条件，零值字段不参与过滤。
type Query struct {
	Type   EventType
	Symbol string
	Since  time.Time
	Limit  int
}

func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(context.Background(), "monitor_events_v1",
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type_symbol ON monitor_events(event_type, symbol)`,
	); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return &Service{db: st.DB(), logger: logger, now: time.Now}, nil
}

// Record 写入单个事件，Timestamp 为零时取当前时间。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, symbol, payload, created_ms) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.Symbol, string(payload), event.Timestamp.UnixMilli(),
	); err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

// emit 写入失败只记日志，不影响交易流程。
func (s *Service) emit(ctx context.Context, typ EventType, symbol string, payload interface{}) {
	err := s.Record(ctx, Event{Type: typ, Symbol: symbol, Payload: payload})
	if err != nil {
		s.logger.Warn("记录监控事件失败",
			zap.String("type", string(typ)),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}
}

func (s *Service) RecordOrder(ctx context.Context, symbol string, o *order.Order, note string) {
	s.emit(ctx, EventOrder, symbol, newOrderPayload(symbol, o, note))
}

// RecordTrade 记录结束或作废的持仓。
func (s *Service) RecordTrade(ctx context.Context, t *trade.Trade) {
	s.emit(ctx, EventTrade, t.Symbol, newTradePayload(t))
}

func (s *Service) RecordEquity(ctx context.Context, symbol string, price, equity float64) {
	s.emit(ctx, EventEquity, symbol, EquityPayload{Symbol: symbol, Price: price, Equity: equity})
}

// RecordError 记录异常，fields 中的 symbol 会写入索引列。
func (s *Service) RecordError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	payload := ErrorPayload{Message: msg, Context: fields}
	if err != nil {
		payload.Error = err.Error()
	}
	symbol, _ := fields["symbol"].(string)
	s.emit(ctx, EventError, symbol, payload)
}

// ListEvents 按条件返回最近的事件，新事件在前。Payload 为原始 JSON。
func (s *Service) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultQueryLimit
	case limit > maxQueryLimit:
		limit = maxQueryLimit
	}

	var (
		where []string
		args  []interface{}
	)
	if q.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(q.Type))
	}
	if q.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, q.Symbol)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_ms >= ?")
		args = append(args, q.Since.UnixMilli())
	}

	query := `SELECT event_type, symbol, payload, created_ms FROM monitor_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			ev      Event
			typ     string
			payload string
			created int64
		)
		if err := rows.Scan(&typ, &ev.Symbol, &payload, &created); err != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", err)
		}
		ev.Type = EventType(typ)
		ev.Timestamp = time.UnixMilli(created).UTC()
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}
	return events, nil
}
