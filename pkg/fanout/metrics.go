package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Причины отключения ветки (метка reason)
const (
	ReasonOperator = "operator" // Detach вызван оператором
	ReasonError    = "error"    // ветка сообщила об ошибке
	ReasonFinished = "finished" // ветка сама завершила поток
	ReasonShutdown = "shutdown" // остановка узла
)

// Metrics Prometheus метрики узла размножения
type Metrics struct {
	BranchesAttached prometheus.Counter
	BranchesActive   prometheus.Gauge
	Detaches         *prometheus.CounterVec
	BranchErrors     prometheus.Counter
	AttachFailures   prometheus.Counter
	TeardownDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BranchesAttached: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "branches_attached_total",
			Help:      "Total number of branches successfully attached",
		}),
		BranchesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "branches_active",
			Help:      "Number of branches currently receiving media",
		}),
		Detaches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "branch_detaches_total",
			Help:      "Total number of initiated branch teardowns by reason",
		}, []string{"reason"}),
		BranchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "branch_errors_total",
			Help:      "Total number of branch error events",
		}),
		AttachFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attach_failures_total",
			Help:      "Total number of attach calls rolled back",
		}),
		TeardownDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "teardown_duration_seconds",
			Help:      "Time from detach to branch removal",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}, // от 1ms до 10s
		}),
	}
}
