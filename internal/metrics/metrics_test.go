package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/and161185/phv-register/internal/model"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobStarted(model.TriggerCSV)
	m.JobStarted(model.TriggerCSV)
	m.JobFinished(model.StatusAborted)
	m.LicenceChanges(9, 1, 4)
	m.ObserveRequest("/v1/licences", "201", time.Now())

	require.Equal(t, 2.0, testutil.ToFloat64(m.JobsStarted.WithLabelValues("CSV")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("ABORTED")))
	require.Equal(t, 9.0, testutil.ToFloat64(m.LicenceWrites.WithLabelValues("insert")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.LicenceWrites.WithLabelValues("update")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.LicenceWrites.WithLabelValues("delete")))
	require.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.JobStarted(model.TriggerAPI)
		m.JobFinished(model.StatusFinishedSuccess)
		m.LicenceChanges(1, 2, 3)
		m.ObserveRequest("/", "200", time.Now())
	})
}
