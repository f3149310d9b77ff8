package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AssignmentDeferred.WithLabelValues("no_online_client").Inc()
	m.AssignmentDeferred.WithLabelValues("no_online_client").Inc()
	m.Heartbeats.Inc()

	require.Equal(t, 2.0, testutil.ToFloat64(m.AssignmentDeferred.WithLabelValues("no_online_client")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Heartbeats))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
