package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestRegister_And_Unregister(t *testing.T) {
	r := NewMetricsRegistry()

	c := testCounter("ops_total")
	require.NoError(t, r.Register("gateway", "ops_total", c))

	assert.True(t, r.Unregister("gateway", "ops_total"))
	assert.False(t, r.Unregister("gateway", "ops_total"), "double unregister returns false")
}

func TestRegister_DuplicateRejected(t *testing.T) {
	r := NewMetricsRegistry()

	require.NoError(t, r.Register("gateway", "dup_total", testCounter("dup_total")))
	err := r.Register("gateway", "dup_total", testCounter("dup_total"))
	assert.Error(t, err)
}

func TestRegistry_GatherIncludesRuntimeCollectors(t *testing.T) {
	r := NewMetricsRegistry()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "go runtime collectors should produce metric families")
}
