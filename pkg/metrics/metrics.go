package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 邮件 API 调用延迟（毫秒）
	MailAPICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsweep_mailapi_call_latency_ms",
			Help:    "Remote mail API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"call", "status"},
	)

	// 重试次数，按错误类型
	MailAPIRetryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsweep_mailapi_retry_count",
			Help: "Total number of retried mail API calls",
		},
		[]string{"kind"}, // kind: transient, quota
	)

	// 变更结果（每个 message id）
	MutationOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsweep_mutation_outcome_count",
			Help: "Per-message mutation outcomes",
		},
		[]string{"mutation", "status"}, // status: success, failed
	)

	// 缓存查询
	CacheLookupCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsweep_cache_lookup_count",
			Help: "Cache lookups by operation and result",
		},
		[]string{"op", "result"}, // result: hit, miss, unavailable
	)

	UndoPurgedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsweep_undo_purged_count",
			Help: "Total number of expired undo records purged",
		},
	)

	// 聚合耗时（秒）
	FoldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsweep_fold_duration_seconds",
			Help:    "Sender aggregation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"mode"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
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

// RecordMailAPICall 记录邮件 API 调用延迟
func RecordMailAPICall(call, status string, duration time.Duration) {
	MailAPICallLatency.WithLabelValues(call, status).Observe(float64(duration.Milliseconds()))
}

// IncrementMailAPIRetry 增加重试计数
func IncrementMailAPIRetry(kind string) {
	MailAPIRetryCount.WithLabelValues(kind).Inc()
}

// AddMutationOutcomes 累加变更结果
func AddMutationOutcomes(mutation, status string, n int) {
	if n <= 0 {
		return
	}
	MutationOutcomeCount.WithLabelValues(mutation, status).Add(float64(n))
}

// IncrementCacheLookup 记录一次缓存查询
func IncrementCacheLookup(op, result string) {
	CacheLookupCount.WithLabelValues(op, result).Inc()
}

// AddUndoPurged 累加清理的撤销记录数
func AddUndoPurged(n int) {
	if n <= 0 {
		return
	}
	UndoPurgedCount.Add(float64(n))
}

// RecordFoldDuration 记录聚合耗时
func RecordFoldDuration(mode string, duration time.Duration) {
	FoldDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
