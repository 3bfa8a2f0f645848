// Package metrics содержит Prometheus-метрики сервиса эскроу.
package metrics

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escrow"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP запросы по методу, шаблону пути и классу статуса.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность HTTP запросов.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransitionsTotal считает применённые и отклонённые события заказов.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "События заказов по результату.",
		},
		[]string{"event", "result"},
	)

	// CreditsMovedTotal сумма кредитов, прошедших через операции баланса.
	CreditsMovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_moved_total",
			Help:      "Кредиты по типу операции баланса.",
		},
		[]string{"operation"},
	)

	TransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_transition_duration_seconds",
			Help:      "Длительность применения события заказа.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"event"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Доставка системных сообщений по каналу и результату.",
		},
		[]string{"sink", "result"},
	)

	BackgroundPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_panics_total",
			Help:      "Panic в фоновых задачах.",
		},
		[]string{"task"},
	)

	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Активные WebSocket подключения.",
	})

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_open_connections",
		Help:      "Открытые соединения с базой.",
	})

	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_in_use_connections",
		Help:      "Занятые соединения с базой.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransitionsTotal,
		CreditsMovedTotal,
		TransitionDuration,
		NotificationsTotal,
		BackgroundPanics,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
	)
}

// ObserveTransition фиксирует результат события заказа.
func ObserveTransition(event, result string, started time.Time) {
	TransitionsTotal.WithLabelValues(event, result).Inc()
	TransitionDuration.WithLabelValues(event).Observe(time.Since(started).Seconds())
}

// AddCredits увеличивает счётчик перемещённых кредитов.
func AddCredits(operation string, amount int64) {
	CreditsMovedTotal.WithLabelValues(operation).Add(float64(amount))
}

// StartDBStatsCollector периодически снимает статистику пула соединений.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
		}
	}
}

// Middleware записывает метрики HTTP запросов по шаблону маршрута.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status()/100)+"xx").Inc()
	}
}

// Handler отдаёт метрики для /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
