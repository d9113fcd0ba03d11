package observability

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calcstream"

// Результаты приема задачи
const (
	SubmitAccepted  = "accepted"
	SubmitQueueFull = "queue_full"
	SubmitClosed    = "closed"
)

// Итоги вычисления
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeInternal = "internal"
)

// Metrics - метрики конвейера. Создается на заданном Registerer,
// чтобы тесты могли использовать отдельный реестр.
type Metrics struct {
	QueueDepth          prometheus.Gauge
	Submissions         *prometheus.CounterVec
	Evaluations         *prometheus.CounterVec
	EvalDuration        prometheus.Histogram
	Commits             prometheus.Counter
	PersistenceFailures prometheus.Counter
	BusyWorkers         prometheus.Gauge
	Subscribers         prometheus.Gauge
	Evictions           prometheus.Counter
	HTTPDuration        *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Tasks waiting in the queue",
		}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "submissions_total",
			Help:      "Submitted tasks by admission result",
		}, []string{"result"}),
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "evaluations_total",
			Help:      "Evaluations by outcome",
		}, []string{"outcome"}),
		EvalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent in the external evaluator",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "commits_total",
			Help:      "Entries persisted and broadcast",
		}),
		PersistenceFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "persistence_failures_total",
			Help:      "Outcomes lost because the durable log write failed",
		}),
		BusyWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "busy",
			Help:      "Workers currently holding a permit and processing a task",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Connected history subscribers",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "evictions_total",
			Help:      "Subscribers removed after a send failure or a full outbox",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

// Handler отдает метрики из реестра в формате Prometheus
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RouteFunc возвращает шаблон маршрута запроса для метки route
type RouteFunc func(r *http.Request) string

// InstrumentHTTP записывает длительность запросов
func (m *Metrics) InstrumentHTTP(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics := httpsnoop.CaptureMetrics(next, w, r)
			m.HTTPDuration.WithLabelValues(r.Method, route(r), strconv.Itoa(metrics.Code)).
				Observe(metrics.Duration.Seconds())
		})
	}
}
