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
// 認証サービス、セッション管理、リクエストゲート、Webhookから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordLoginLatency(duration time.Duration)
	RecordOutboundStatus(stage string, statusCode int)
	RecordSession(operation, result string)
	RecordGateDecision(class, decision string)
	RecordWebhook(provider, result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	loginLatency   prometheus.Histogram
	outboundStatus *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsunagu_line_login_total",
			Help: "LINEログインコールバックの処理結果別の合計数",
		}, []string{"result"}),
		loginLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tsunagu_line_login_latency_seconds",
			Help:    "LINEログインコールバック処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		outboundStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsunagu_outbound_http_status_total",
			Help: "外部API呼び出しのステージ・ステータスコード別のレスポンス数",
		}, []string{"stage", "status_code"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsunagu_session_operations_total",
			Help: "セッション操作（establish, verify, destroy）の結果別の合計数",
		}, []string{"operation", "result"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsunagu_gate_decisions_total",
			Help: "リクエストゲートの分類・判定別の合計数",
		}, []string{"class", "decision"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsunagu_webhook_events_total",
			Help: "Webhook受信のプロバイダー・結果別の合計数",
		}, []string{"provider", "result"}),
	}

	reg.MustRegister(
		c.logins,
		c.loginLatency,
		c.outboundStatus,
		c.sessions,
		c.gateDecisions,
		c.webhooks,
	)

	return c
}

// RecordLogin はログイン結果を記録する。resultは"success"または失敗理由コード。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordLoginLatency はログイン処理のレイテンシを記録する。
func (c *Collector) RecordLoginLatency(duration time.Duration) {
	c.loginLatency.Observe(duration.Seconds())
}

// RecordOutboundStatus は外部APIのHTTPステータスコードを記録する。
func (c *Collector) RecordOutboundStatus(stage string, statusCode int) {
	c.outboundStatus.WithLabelValues(stage, strconv.Itoa(statusCode)).Inc()
}

// RecordSession はセッション操作の結果を記録する。
func (c *Collector) RecordSession(operation, result string) {
	c.sessions.WithLabelValues(operation, result).Inc()
}

// RecordGateDecision はリクエストゲートの判定を記録する。
func (c *Collector) RecordGateDecision(class, decision string) {
	c.gateDecisions.WithLabelValues(class, decision).Inc()
}

// RecordWebhook はWebhook受信の結果を記録する。
func (c *Collector) RecordWebhook(provider, result string) {
	c.webhooks.WithLabelValues(provider, result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。メトリクス未設定時とテストで使用する。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)                {}
func (NopCollector) RecordLoginLatency(time.Duration)  {}
func (NopCollector) RecordOutboundStatus(string, int)  {}
func (NopCollector) RecordSession(string, string)      {}
func (NopCollector) RecordGateDecision(string, string) {}
func (NopCollector) RecordWebhook(string, string)      {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
