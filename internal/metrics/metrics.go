package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is implemented by Prometheus-backed Metrics and by Noop.
type Recorder interface {
	RecordPublish(platform, outcome string, d time.Duration)
	RecordTokenRefresh(provider, outcome string)
	RecordAPITest(platform, feature string, statusCode int)
	RecordAIGeneration(provider string, success bool, d time.Duration)
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	PublishAttemptsTotal *prometheus.CounterVec
	PublishDuration      *prometheus.HistogramVec
	TokenRefreshesTotal  *prometheus.CounterVec
	APITestsTotal        *prometheus.CounterVec
	AIGenerationsTotal   *prometheus.CounterVec
	AIGenerationDuration *prometheus.HistogramVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init returns the process-wide Prometheus recorder, or a Noop when disabled.
// Registration happens once; later calls return the same instance.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoop()
	}
	once.Do(func() {
		defaultMetrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewWithRegistry registers metrics on a caller-owned registry (tests).
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PublishAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "social_publish_attempts_total",
			Help: "Publish attempts per platform and outcome",
		}, []string{"platform", "outcome"}),
		PublishDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "social_publish_duration_seconds",
			Help:    "Time spent publishing to one platform, including credential resolution and refresh",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"platform"}),
		TokenRefreshesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "social_token_refreshes_total",
			Help: "OAuth2 refresh attempts per provider and outcome",
		}, []string{"provider", "outcome"}),
		APITestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "social_api_tests_total",
			Help: "API tester calls per platform, feature and provider status code",
		}, []string{"platform", "feature", "status"}),
		AIGenerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "social_ai_generations_total",
			Help: "AI text generations per provider and result",
		}, []string{"provider", "result"}),
		AIGenerationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "social_ai_generation_duration_seconds",
			Help:    "AI completion latency per provider",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

func (m *Metrics) RecordPublish(platform, outcome string, d time.Duration) {
	m.PublishAttemptsTotal.WithLabelValues(platform, outcome).Inc()
	m.PublishDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (m *Metrics) RecordTokenRefresh(provider, outcome string) {
	m.TokenRefreshesTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordAPITest(platform, feature string, statusCode int) {
	m.APITestsTotal.WithLabelValues(platform, feature, strconv.Itoa(statusCode)).Inc()
}

func (m *Metrics) RecordAIGeneration(provider string, success bool, d time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	m.AIGenerationsTotal.WithLabelValues(provider, result).Inc()
	m.AIGenerationDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
