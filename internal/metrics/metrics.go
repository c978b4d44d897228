// Package metrics содержит счётчики Prometheus для движка заказов и баллов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pointmarket"

// Metrics объединяет коллекторы сервиса. Нулевой указатель безопасен: методы ничего не делают.
type Metrics struct {
	ordersPlaced      prometheus.Counter
	orderRejections   *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	pointsMoved       *prometheus.CounterVec
	penaltyCharged    prometheus.Counter
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
}

// New регистрирует коллекторы в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ordersPlaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Number of successfully placed orders.",
		}),
		orderRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_placement_failures_total",
			Help:      "Number of order placements rejected, by reason.",
		}, []string{"reason"}),
		statusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Number of committed order status changes.",
		}, []string{"from", "to"}),
		pointsMoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_moved_total",
			Help:      "Absolute number of points moved through the ledger, by reason.",
		}, []string{"reason"}),
		penaltyCharged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rental_penalty_days_total",
			Help:      "Number of overdue rental days charged.",
		}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Number of scheduled job runs, by job and result.",
		}, []string{"job", "result"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

// OrderPlaced учитывает оформленный заказ.
func (m *Metrics) OrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

// OrderRejected учитывает отказ в оформлении заказа.
func (m *Metrics) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.orderRejections.WithLabelValues(reason).Inc()
}

// StatusChanged учитывает смену статуса заказа.
func (m *Metrics) StatusChanged(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// PointsMoved учитывает движение баллов по журналу.
func (m *Metrics) PointsMoved(reason string, amount int64) {
	if m == nil || amount == 0 {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.pointsMoved.WithLabelValues(reason).Add(float64(amount))
}

// PenaltyDaysCharged учитывает списанные дни просрочки.
func (m *Metrics) PenaltyDaysCharged(days int64) {
	if m == nil || days <= 0 {
		return
	}
	m.penaltyCharged.Add(float64(days))
}

// JobFinished учитывает завершение фоновой задачи.
func (m *Metrics) JobFinished(job string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(seconds)
}
