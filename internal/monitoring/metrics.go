package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标。所有方法在 nil 接收者上为空操作，组件可不配置指标。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 入站邮件指标
	IngestTotal    *prometheus.CounterVec
	IngestDuration prometheus.Histogram

	// SMTP 指标
	SMTPSessionsTotal prometheus.Counter
	RateLimitBlocks   *prometheus.CounterVec

	// 鉴权指标
	AuthDeniedTotal *prometheus.CounterVec

	// 推送指标
	StreamClients prometheus.Gauge

	PanicsTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics 在指定注册表上创建监控指标，reg 为 nil 时使用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfree_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailfree_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		IngestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfree_ingest_total",
				Help: "Inbound messages processed, by result",
			},
			[]string{"result"},
		),

		IngestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailfree_ingest_duration_seconds",
				Help:    "Inbound message processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		SMTPSessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailfree_smtp_sessions_total",
				Help: "Total number of SMTP sessions",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfree_rate_limit_blocks_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"type"},
		),

		AuthDeniedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfree_auth_denied_total",
				Help: "Requests rejected by the authorization gate",
			},
			[]string{"tier", "reason"},
		),

		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailfree_stream_clients",
				Help: "Connected new-mail stream clients",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailfree_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordIngest 记录一次入站处理结果，result 为 "ok" 或 "error"
func (m *Metrics) RecordIngest(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(result).Inc()
	m.IngestDuration.Observe(duration.Seconds())
}

// RecordSMTPSession 记录 SMTP 会话
func (m *Metrics) RecordSMTPSession() {
	if m == nil {
		return
	}
	m.SMTPSessionsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// RecordAuthDenied 记录鉴权拒绝
func (m *Metrics) RecordAuthDenied(tier, reason string) {
	if m == nil {
		return
	}
	m.AuthDeniedTotal.WithLabelValues(tier, reason).Inc()
}

// StreamClientConnected 推送连接数加一
func (m *Metrics) StreamClientConnected() {
	if m == nil {
		return
	}
	m.StreamClients.Inc()
}

// StreamClientDisconnected 推送连接数减一
func (m *Metrics) StreamClientDisconnected() {
	if m == nil {
		return
	}
	m.StreamClients.Dec()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
