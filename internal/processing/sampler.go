package processing

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"sleepywoodpecker/rp-goes-power/internal/metrics"

	"go.uber.org/zap"
)

const DEFAULT_AVERAGE_SAMPLES = 1000

// Report is what the renderers get on every sampler tick.
type Report struct {
	Time time.Time

	Voltage []float64
	Current []float64
	Power   []float64

	AvgVoltage float64
	AvgCurrent float64
	AvgPower   float64

	// Event is set only on the first tick after an event closes.
	Event *EventSummary

	SampleCount uint64
	Drops       uint64
	EventCount  uint64
	SampleRate  float64
	InEvent     bool

	DurationP50Seconds float64
	DurationP99Seconds float64
}

// Sink renders or forwards reports.
type Sink interface {
	Name() string
	Render(ctx context.Context, report Report) error
}

type SamplerOptions struct {
	Interval       time.Duration
	AverageSamples int
	SampleRate     float64 // nominal, for converting durations to seconds
	ShowEvents     bool
}

type Sampler struct {
	opts        SamplerOptions
	store       *DataSampleStore
	sinks       []Sink
	logger      *zap.Logger
	metrics     *metrics.Collector
	lastEventNo uint64
	observed    atomic.Uint64 // float64 bits of the last measured rate
}

func NewSampler(opts SamplerOptions, store *DataSampleStore, sinks []Sink, logger *zap.Logger, collector *metrics.Collector) *Sampler {
	if opts.AverageSamples <= 0 {
		opts.AverageSamples = DEFAULT_AVERAGE_SAMPLES
	}
	return &Sampler{
		opts:    opts,
		store:   store,
		sinks:   sinks,
		logger:  logger,
		metrics: collector,
	}
}

// SetObservedRate lets the rate meter publish its figure into the reports.
func (s *Sampler) SetObservedRate(rate float64) {
	s.observed.Store(math.Float64bits(rate))
}

// BuildReport snapshots the store and does all computation on the copy.
func (s *Sampler) BuildReport() Report {
	snap := s.store.Snapshot()

	report := Report{
		Time:        time.Now(),
		Voltage:     snap.Voltage.Snapshot(),
		Current:     snap.Current.Snapshot(),
		Power:       snap.Power.Snapshot(),
		AvgVoltage:  snap.Voltage.TailAverage(s.opts.AverageSamples),
		AvgCurrent:  snap.Current.TailAverage(s.opts.AverageSamples),
		AvgPower:    snap.Power.TailAverage(s.opts.AverageSamples),
		SampleCount: snap.SampleCount,
		Drops:       snap.Drops,
		EventCount:  snap.EventCount,
		SampleRate:  math.Float64frombits(s.observed.Load()),
		InEvent:     snap.Phase == InEvent,
	}
	if s.opts.SampleRate > 0 {
		report.DurationP50Seconds = float64(snap.DurationP50) / s.opts.SampleRate
		report.DurationP99Seconds = float64(snap.DurationP99) / s.opts.SampleRate
	}

	if snap.EventCount != s.lastEventNo {
		s.lastEventNo = snap.EventCount
		if s.opts.ShowEvents && snap.LastEvent != nil && snap.LastEvent.DurationSamples > 0 {
			report.Event = snap.LastEvent
		}
	}
	return report
}

func (s *Sampler) SampleAndLog(ctx context.Context) {
	report := s.BuildReport()
	s.metrics.SetRollingAverages(report.AvgVoltage, report.AvgCurrent, report.AvgPower)

	for _, sink := range s.sinks {
		if err := sink.Render(ctx, report); err != nil {
			s.logger.Warn("[sampler] error rendering report", zap.Error(err), zap.String("sink", sink.Name()))
		}
	}
}

func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SampleAndLog(ctx)
		case <-ctx.Done():
			s.logger.Info("[sampler] received shutdown signal")
			return
		}
	}
}
