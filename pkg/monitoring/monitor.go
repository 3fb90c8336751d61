package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 监考相关指标
	ProctorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_events_total",
			Help: "Confirmed proctoring events appended to the log",
		},
		[]string{"event_type", "severity"},
	)

	ProctorObservers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_observers",
			Help: "Registered admin observers on this instance",
		},
	)

	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_frames_overwritten_total",
			Help: "Video frames replaced by a newer frame before delivery",
		},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Exam submissions by trigger",
		},
		[]string{"trigger"},
	)

	WSMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_ws_messages_total",
			Help: "Live channel messages by type and direction",
		},
		[]string{"type", "direction"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ProctorEvents)
	prometheus.MustRegister(ProctorObservers)
	prometheus.MustRegister(FramesDropped)
	prometheus.MustRegister(Submissions)
	prometheus.MustRegister(WSMessages)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
