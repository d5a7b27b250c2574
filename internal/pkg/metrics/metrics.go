package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestDuration HTTP 请求耗时分布（按方法、路径、状态码）。
	HTTPRequestDuration *prometheus.HistogramVec

	// LoginFailureTotal 登录失败总数。
	LoginFailureTotal prometheus.Counter

	// OTPIssuedTotal 已签发的密码重置验证码总数。
	OTPIssuedTotal prometheus.Counter

	// OTPConsumedTotal 验证成功并消费的验证码总数。
	OTPConsumedTotal prometheus.Counter

	// OTPRejectedTotal 被拒绝的验证尝试总数（按原因: invalid / expired）。
	OTPRejectedTotal *prometheus.CounterVec
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标，可安全重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmanager_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmanager_login_failure_total",
			Help: "Failed login attempts.",
		})

		OTPIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmanager_otp_issued_total",
			Help: "Password reset codes issued.",
		})

		OTPConsumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmanager_otp_consumed_total",
			Help: "Password reset codes successfully consumed.",
		})

		OTPRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmanager_otp_rejected_total",
			Help: "Rejected password reset attempts.",
		}, []string{"reason"})

		prometheus.MustRegister(
			HTTPRequestDuration,
			LoginFailureTotal,
			OTPIssuedTotal,
			OTPConsumedTotal,
			OTPRejectedTotal,
		)
	})
}
