package hdsmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFragmentDownloadedIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FragmentDownloaded(1024, 50*time.Millisecond)
	m.FragmentDownloaded(2048, 10*time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(m.fragmentDownloads))
	require.Equal(t, float64(3072), testutil.ToFloat64(m.fragmentBytes))
}

func TestFragmentFailedIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FragmentFailed()
	m.FragmentFailed()

	require.Equal(t, float64(2), testutil.ToFloat64(m.fragmentFailures))
}

func TestLivePollCycleIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LivePollCycle(100 * time.Millisecond)

	require.Equal(t, float64(1), testutil.ToFloat64(m.livePollCycles))
}
