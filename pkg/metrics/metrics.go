package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 打卡切换计数
	HabitToggleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_toggle_count",
			Help: "Total number of completion toggles",
		},
		[]string{"desired", "outcome"}, // outcome: applied, noop, rejected, error
	)

	HabitToggleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "habit_toggle_duration_seconds",
			Help:    "Completion toggle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"desired"},
	)

	// 积分变化（带符号）
	RewardPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_points_total",
			Help: "Absolute reward points applied, by direction",
		},
		[]string{"direction", "synergy"}, // direction: credit, debit
	)

	HabitSkipCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_skip_count",
			Help: "Total number of skip requests",
		},
		[]string{"inserted"},
	)

	// 欠账重算耗时
	ArrearsScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arrears_scan_duration_seconds",
			Help:    "Backlog reconciliation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	ArrearsEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arrears_entries",
			Help:    "Number of arrear entries produced per reconciliation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	ArrearsCacheCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arrears_cache_count",
			Help: "Arrears cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	OutboxPublishedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_count",
			Help: "Outbox events published, by status",
		},
		[]string{"routing_key", "status"},
	)

	// 数据库慢查询
	DBSlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"name"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordToggle(desired bool, outcome string, duration time.Duration) {
	d := strconv.FormatBool(desired)
	HabitToggleCount.WithLabelValues(d, outcome).Inc()
	HabitToggleDuration.WithLabelValues(d).Observe(duration.Seconds())
}

func RecordReward(delta int, synergy bool) {
	direction := "credit"
	if delta < 0 {
		direction = "debit"
		delta = -delta
	}
	RewardPointsTotal.WithLabelValues(direction, strconv.FormatBool(synergy)).Add(float64(delta))
}

func RecordSkip(inserted bool) {
	HabitSkipCount.WithLabelValues(strconv.FormatBool(inserted)).Inc()
}

func RecordArrearsScan(entries int, duration time.Duration) {
	ArrearsScanDuration.Observe(duration.Seconds())
	ArrearsEntries.Observe(float64(entries))
}

func RecordArrearsCache(result string) {
	ArrearsCacheCount.WithLabelValues(result).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordOutboxPublish(routingKey, status string) {
	OutboxPublishedCount.WithLabelValues(routingKey, status).Inc()
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	DBSlowQueryCount.WithLabelValues(statement).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
