// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
	RecordLogin(provider string)
	RecordTaskCreated()
	RecordTaskDeleted()
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests    *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	logins          *prometheus.CounterVec
	tasksCreated    prometheus.Counter
	tasksDeleted    prometheus.Counter
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdeck_http_requests_total",
			Help: "メソッド・パス・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "path", "status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskdeck_http_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdeck_logins_total",
			Help: "プロバイダー別のログイン成功数",
		}, []string{"provider"}),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_tasks_created_total",
			Help: "作成されたタスクの合計数",
		}),
		tasksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_tasks_deleted_total",
			Help: "削除されたタスクの合計数",
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskdeck_sessions_cleaned_total",
			Help: "クリーンアップジョブで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.requestLatency,
		c.logins,
		c.tasksCreated,
		c.tasksDeleted,
		c.sessionsCleaned,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストのステータスコードとレイテンシを記録する。
func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.requestLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLogin はログイン成功を記録する。
func (c *Collector) RecordLogin(provider string) {
	c.logins.WithLabelValues(provider).Inc()
}

// RecordTaskCreated はタスク作成を記録する。
func (c *Collector) RecordTaskCreated() {
	c.tasksCreated.Inc()
}

// RecordTaskDeleted はタスク削除を記録する。
func (c *Collector) RecordTaskDeleted() {
	c.tasksDeleted.Inc()
}

// RecordSessionsCleaned はクリーンアップで削除されたセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
