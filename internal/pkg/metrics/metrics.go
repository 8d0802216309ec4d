package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OrderMetrics 汇总订单核心流程的指标
type OrderMetrics struct {
	Placements     *prometheus.CounterVec
	Cancellations  *prometheus.CounterVec
	StatusUpdates  *prometheus.CounterVec
	ReservedUnits  prometheus.Counter
	ReleasedUnits  prometheus.Counter
	WorkflowTiming *prometheus.HistogramVec
}

// NewOrderMetrics 创建并注册指标。reg 为 nil 时使用默认注册表。
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &OrderMetrics{
		Placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "order",
			Name:      "placements_total",
			Help:      "Order placement attempts by result.",
		}, []string{"result"}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "order",
			Name:      "cancellations_total",
			Help:      "Order cancellation attempts by result.",
		}, []string{"result"}),
		StatusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "order",
			Name:      "status_updates_total",
			Help:      "Administrative status updates by target state and result.",
		}, []string{"state", "result"}),
		ReservedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "inventory",
			Name:      "reserved_units_total",
			Help:      "Stock units reserved by committed orders.",
		}),
		ReleasedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "inventory",
			Name:      "released_units_total",
			Help:      "Stock units released by committed cancellations.",
		}),
		WorkflowTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "order",
			Name:      "workflow_duration_ms",
			Help:      "Order workflow latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"workflow"}),
	}
	reg.MustRegister(m.Placements, m.Cancellations, m.StatusUpdates, m.ReservedUnits, m.ReleasedUnits, m.WorkflowTiming)
	return m
}

// ObserveSince 记录某个流程从 start 开始的耗时
func (m *OrderMetrics) ObserveSince(workflow string, start time.Time) {
	if m == nil {
		return
	}
	m.WorkflowTiming.WithLabelValues(workflow).Observe(float64(time.Since(start).Milliseconds()))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
