package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.ObserveSample(false)
	c.ObserveSample(true)
	c.ObserveParseError()
	c.ObserveDetectorReset()
	c.ObserveEvent(0.5, 20, 100)
	c.SetSampleRate(199)
	c.SetRollingAverages(5, 12, 60)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.samplesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.parseErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.detectorFaults))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inEvent))
	assert.Equal(t, 199.0, testutil.ToFloat64(c.sampleRate))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.eventAvgCurrent))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.rollingAverage.WithLabelValues("current")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveSample(true)
		c.ObserveParseError()
		c.ObserveDetectorReset()
		c.ObserveEvent(1, 1, 1)
		c.SetSampleRate(1)
		c.SetRollingAverages(1, 2, 3)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	c := NewCollector()
	c.ObserveSample(false)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rppower_samples_total 1")
}
