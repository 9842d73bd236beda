package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("approve", "ok", 10*time.Millisecond)
	m.ObserveOperation("approve", "ok", 5*time.Millisecond)
	m.ObserveOperation("approve", "too_late", time.Millisecond)
	m.ObserveOutbox("published")

	require.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("approve", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("approve", "too_late")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("published")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *EscrowMetrics
	m.ObserveOperation("cancel", "ok", time.Second)
	m.ObserveOutbox("failed")
	m.SetCustody(1)
}
