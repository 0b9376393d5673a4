package signals

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"tradecore/internal/candle"
	"tradecore/internal/signal"
	"tradecore/internal/store"
)

// DefaultHeaders 为导出信号时的列名。
var DefaultHeaders = []string{
	"OPEN_TIME",
	"CLOSE_TIME",
	"OPEN",
	"HIGH",
	"LOW",
	"CLOSE",
	"VOLUME",
	"SIGNAL",
}

// Entry 为一根K线及其信号。
type Entry struct {
	Candle candle.Candle
	Signal signal.Signal
}

// Repository 按交易对缓存K线信号，可持久化到 SQLite。
type Repository struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	headers []string
	signals map[string]map[int64]Entry
}

// NewRepository 创建信号仓库；db 为 nil 时仅在内存中保存。
func NewRepository(db *sql.DB, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		db:      db,
		logger:  logger,
		headers: append([]string(nil), DefaultHeaders...),
		signals: make(map[string]map[int64]Entry),
	}
	if db != nil {
		if err := r.initSchema(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Repository) initSchema() error {
	err := store.Migrate(context.Background(), r.db, "strategy_signals_v1", `
CREATE TABLE IF NOT EXISTS strategy_signals (
	symbol TEXT NOT NULL,
	open_time INTEGER NOT NULL,
	close_time INTEGER NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	signal TEXT NOT NULL,
	PRIMARY KEY (symbol, open_time)
)`)
	if err != nil {
		return fmt.Errorf("signals: 初始化表失败: %w", err)
	}
	return nil
}

func (r *Repository) Headers() []string {
	return append([]string(nil), r.headers...)
}

// Add 记录 symbol 在K线 c 上的信号，同一开盘时间覆盖旧值。
func (r *Repository) Add(symbol string, c candle.Candle, s signal.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySymbol, ok := r.signals[symbol]
	if !ok {
		bySymbol = make(map[int64]Entry)
		r.signals[symbol] = bySymbol
	}
	bySymbol[c.OpenTime] = Entry{Candle: c, Signal: s}
}

// Entries 返回 symbol 的全部信号，按开盘时间升序。
func (r *Repository) Entries(symbol string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySymbol := r.signals[symbol]
	out := make([]Entry, 0, len(bySymbol))
	for _, e := range bySymbol {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Candle.OpenTime < out[j].Candle.OpenTime
	})
	return out
}

// Save 将内存中的信号写入数据库。
func (r *Repository) Save(ctx context.Context) (err error) {
	if r.db == nil {
		return errors.New("signals: 未配置数据库")
	}

	r.mu.Lock()
	snapshot := make(map[string][]Entry, len(r.signals))
	for symbol, bySymbol := range r.signals {
		for _, e := range bySymbol {
			snapshot[symbol] = append(snapshot[symbol], e)
		}
	}
	r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("signals: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO strategy_signals (symbol, open_time, close_time, open, high, low, close, volume, signal)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, open_time) DO UPDATE SET
	close_time = excluded.close_time,
	open = excluded.open,
	high = excluded.high,
	low = excluded.low,
	close = excluded.close,
	volume = excluded.volume,
	signal = excluded.signal`)
	if err != nil {
		return fmt.Errorf("signals: 准备写入语句失败: %w", err)
	}
	defer stmt.Close()

	count := 0
	for symbol, entries := range snapshot {
		for _, e := range entries {
			c := e.Candle
			if _, err = stmt.ExecContext(ctx, symbol, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, string(e.Signal.Code())); err != nil {
				return fmt.Errorf("signals: 写入信号失败: %w", err)
			}
			count++
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("signals: 提交事务失败: %w", err)
	}
	r.logger.Debug("信号已保存", zap.Int("count", count))
	return nil
}

// Load 从数据库读取 symbol 的信号并合并到内存，返回读取条数。
func (r *Repository) Load(ctx context.Context, symbol string) (int, error) {
	if r.db == nil {
		return 0, errors.New("signals: 未配置数据库")
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT open_time, close_time, open, high, low, close, volume, signal
FROM strategy_signals WHERE symbol = ? ORDER BY open_time`, symbol)
	if err != nil {
		return 0, fmt.Errorf("signals: 查询信号失败: %w", err)
	}
	defer rows.Close()

	var loaded []Entry
	for rows.Next() {
		var (
			c    candle.Candle
			code string
		)
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &code); err != nil {
			return 0, fmt.Errorf("signals: 解析信号失败: %w", err)
		}
		if len(code) != 1 {
			return 0, fmt.Errorf("signals: 非法信号编码 %q", code)
		}
		s, err := signal.FromCode(code[0])
		if err != nil {
			return 0, fmt.Errorf("signals: %w", err)
		}
		loaded = append(loaded, Entry{Candle: c, Signal: s})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("signals: 读取信号失败: %w", err)
	}

	for _, e := range loaded {
		r.Add(symbol, e.Candle, e.Signal)
	}
	return len(loaded), nil
}

// WriteCSV 以 DefaultHeaders 为表头导出 symbol 的信号。
func (r *Repository) WriteCSV(w io.Writer, symbol string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Headers()); err != nil {
		return fmt.Errorf("signals: 写入表头失败: %w", err)
	}
	for _, e := range r.Entries(symbol) {
		c := e.Candle
		record := []string{
			strconv.FormatInt(c.OpenTime, 10),
			strconv.FormatInt(c.CloseTime, 10),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
			string(e.Signal.Code()),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("signals: 写入记录失败: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
