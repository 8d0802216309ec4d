package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)

	m.Placements.WithLabelValues("success").Inc()
	m.Placements.WithLabelValues("success").Inc()
	m.Placements.WithLabelValues("conflict").Inc()
	m.ReservedUnits.Add(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Placements.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Placements.WithLabelValues("conflict")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ReservedUnits))

	// 同一注册表重复注册必须 panic
	assert.Panics(t, func() { NewOrderMetrics(reg) })
}

func TestOrderMetrics_ObserveSince(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)

	m.ObserveSince("place", time.Now().Add(-20*time.Millisecond))

	n, err := testutil.GatherAndCount(reg, "storefront_order_workflow_duration_ms")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var nilMetrics *OrderMetrics
	assert.NotPanics(t, func() { nilMetrics.ObserveSince("place", time.Now()) })
}
