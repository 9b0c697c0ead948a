// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ジョブ結果のラベル値。
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ファイルサービス、サムネイルワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordUpload(kind string)
	RecordEnqueueFailure()
	RecordJobOutcome(outcome string)
	RecordDerivativeFailure(width int)
	RecordJobLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	uploads            *prometheus.CounterVec
	enqueueFailures    prometheus.Counter
	jobs               *prometheus.CounterVec
	derivativeFailures *prometheus.CounterVec
	jobLatency         prometheus.Histogram
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filekeep_uploads_total",
			Help: "種別ごとのファイル作成数",
		}, []string{"kind"}),
		enqueueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filekeep_thumbnail_enqueue_failures_total",
			Help: "サムネイルジョブの投入に失敗した回数",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filekeep_thumbnail_jobs_total",
			Help: "結果ごとのサムネイルジョブ処理数",
		}, []string{"outcome"}),
		derivativeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filekeep_thumbnail_derivative_failures_total",
			Help: "幅ごとのサムネイル生成失敗数",
		}, []string{"width"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "filekeep_thumbnail_job_duration_seconds",
			Help:    "サムネイルジョブ1件の処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filekeep_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.uploads,
		c.enqueueFailures,
		c.jobs,
		c.derivativeFailures,
		c.jobLatency,
		c.httpStatus,
	)

	return c
}

// RecordUpload はファイル作成を種別ごとに記録する。
func (c *Collector) RecordUpload(kind string) {
	c.uploads.WithLabelValues(kind).Inc()
}

// RecordEnqueueFailure はサムネイルジョブ投入の失敗を記録する。
func (c *Collector) RecordEnqueueFailure() {
	c.enqueueFailures.Inc()
}

// RecordJobOutcome はジョブの終端状態を記録する。
func (c *Collector) RecordJobOutcome(outcome string) {
	c.jobs.WithLabelValues(outcome).Inc()
}

// RecordDerivativeFailure は幅ごとのサムネイル生成失敗を記録する。
func (c *Collector) RecordDerivativeFailure(width int) {
	c.derivativeFailures.WithLabelValues(strconv.Itoa(width)).Inc()
}

// RecordJobLatency はジョブの処理時間を記録する。
func (c *Collector) RecordJobLatency(duration time.Duration) {
	c.jobLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
