package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/metrics"
	"tradecore/internal/monitor"
)

func newMonitorHandler(svc *monitor.Service, m *metrics.Metrics, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		query, err := parseEventQuery(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		events, err := svc.ListEvents(r.Context(), query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(events); err != nil {
			logger.Warn("写入监控响应失败", zap.Error(err))
		}
	})
	mux.Handle("/metrics", m.Handler())
	return mux
}

// parseEventQuery 解析 type、symbol、since（RFC3339 或毫秒时间戳）与 limit 参数。
func parseEventQuery(values url.Values) (monitor.Query, error) {
	q := monitor.Query{
		Type:   monitor.EventType(strings.ToLower(strings.TrimSpace(values.Get("type")))),
		Symbol: strings.TrimSpace(values.Get("symbol")),
		Limit:  200,
	}
	if raw := values.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			q.Limit = v
		}
	}
	if raw := strings.TrimSpace(values.Get("since")); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			q.Since = time.UnixMilli(ms)
		} else if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			q.Since = ts
		} else {
			return q, fmt.Errorf("since 参数无效: %q", raw)
		}
	}
	return q, nil
}

func startMonitorServer(ctx context.Context, handler http.Handler, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
