package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rppower"

// Collector holds the acquisition metrics. A nil *Collector is valid and
// records nothing, so components can run without a registry in tests.
type Collector struct {
	registry *prometheus.Registry

	samplesTotal    prometheus.Counter
	parseErrors     prometheus.Counter
	eventsTotal     prometheus.Counter
	detectorFaults  prometheus.Counter
	inEvent         prometheus.Gauge
	sampleRate      prometheus.Gauge
	eventDuration   prometheus.Histogram
	eventAvgCurrent prometheus.Gauge
	eventAvgPower   prometheus.Gauge
	rollingAverage  *prometheus.GaugeVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		samplesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples parsed and ingested",
		}),
		parseErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Lines dropped because they could not be parsed",
		}),
		eventsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "High-current events closed",
		}),
		detectorFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_resets_total",
			Help:      "Detector resets after an invariant violation",
		}),
		inEvent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_event",
			Help:      "1 while current is above the event threshold",
		}),
		sampleRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observed_sample_rate",
			Help:      "Samples per second measured over the last interval",
		}),
		eventDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Duration of closed events",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		eventAvgCurrent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_avg_current_ma",
			Help:      "Average current of the most recent event",
		}),
		eventAvgPower: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_avg_power_mw",
			Help:      "Average power of the most recent event",
		}),
		rollingAverage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rolling_average",
			Help:      "Rolling average per channel",
		}, []string{"channel"}),
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ObserveSample(inEvent bool) {
	if c == nil {
		return
	}
	c.samplesTotal.Inc()
	if inEvent {
		c.inEvent.Set(1)
	} else {
		c.inEvent.Set(0)
	}
}

func (c *Collector) ObserveParseError() {
	if c == nil {
		return
	}
	c.parseErrors.Inc()
}

func (c *Collector) ObserveDetectorReset() {
	if c == nil {
		return
	}
	c.detectorFaults.Inc()
}

func (c *Collector) ObserveEvent(durationSeconds, avgCurrent, avgPower float64) {
	if c == nil {
		return
	}
	c.eventsTotal.Inc()
	c.eventDuration.Observe(durationSeconds)
	c.eventAvgCurrent.Set(avgCurrent)
	c.eventAvgPower.Set(avgPower)
}

func (c *Collector) SetSampleRate(rate float64) {
	if c == nil {
		return
	}
	c.sampleRate.Set(rate)
}

func (c *Collector) SetRollingAverages(voltage, current, power float64) {
	if c == nil {
		return
	}
	c.rollingAverage.WithLabelValues("voltage").Set(voltage)
	c.rollingAverage.WithLabelValues("current").Set(current)
	c.rollingAverage.WithLabelValues("power").Set(power)
}
