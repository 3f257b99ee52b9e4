package processing

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// The sampler used to get the latest reading pushed to it by the processor on a timer.
// Copying the windows out under the lock keeps the two goroutines decoupled instead:
// the sampler can run at any cadence and only ever sees whole samples.

const (
	durationHistMin    = 1
	durationHistMax    = 60 * 60 * 1000 // an hour at 1 kHz
	durationHistSigFig = 3
)

type StoreOptions struct {
	WindowSize int
	Threshold  float64
	SampleRate float64
}

// DataSampleStore is the state shared between the processor (single writer) and
// the sampler and rate meter (readers). Everything is guarded by one mutex so a
// reader never sees a sample applied to one channel but not the others, or a
// detector transition without its accumulation.
type DataSampleStore struct {
	mu sync.Mutex

	voltage *RingBuffer[float64]
	current *RingBuffer[float64]
	power   *RingBuffer[float64]

	sampleCount uint64
	drops       uint64
	eventCount  uint64

	detector  *EventDetector
	lastEvent *EventSummary
	durations *hdrhistogram.Histogram
}

func NewDataSampleStore(opts StoreOptions) *DataSampleStore {
	return &DataSampleStore{
		voltage:   NewRingBuffer(opts.WindowSize, 0.0),
		current:   NewRingBuffer(opts.WindowSize, 0.0),
		power:     NewRingBuffer(opts.WindowSize, 0.0),
		detector:  NewEventDetector(opts.Threshold, opts.SampleRate),
		durations: hdrhistogram.New(durationHistMin, durationHistMax, durationHistSigFig),
	}
}

// Ingest applies one sample to the windows and the detector. The sample's index
// on the detector's time axis is the number of samples ingested before it.
func (d *DataSampleStore) Ingest(s Sample) (*EventSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.voltage.Push(s.Voltage)
	d.current.Push(s.Current)
	d.power.Push(s.Power)

	summary, err := d.detector.Feed(s, d.sampleCount)
	d.sampleCount++
	if err != nil {
		return nil, err
	}

	if summary != nil {
		d.lastEvent = summary
		d.eventCount++
		d.recordDuration(summary.DurationSamples)
	}
	return summary, nil
}

func (d *DataSampleStore) recordDuration(samples uint64) {
	v := int64(samples)
	if v < durationHistMin {
		return
	}
	if v > durationHistMax {
		v = durationHistMax
	}
	// cannot fail once clamped to the histogram's range
	_ = d.durations.RecordValue(v)
}

func (d *DataSampleStore) RecordDrop() {
	d.mu.Lock()
	d.drops++
	d.mu.Unlock()
}

func (d *DataSampleStore) SampleCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleCount
}

func (d *DataSampleStore) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detector.Phase()
}

// StoreSnapshot is a private copy of the store taken at one instant.
type StoreSnapshot struct {
	Voltage *RingBuffer[float64]
	Current *RingBuffer[float64]
	Power   *RingBuffer[float64]

	SampleCount uint64
	Drops       uint64
	EventCount  uint64
	LastEvent   *EventSummary

	Phase            Phase
	OpenEventStart   uint64
	OpenEventSamples uint64

	// event durations in samples
	DurationP50 int64
	DurationP99 int64
	DurationMax int64
}

// Snapshot copies the shared state out. Callers do their averaging and
// formatting on the copy after the lock is released.
func (d *DataSampleStore) Snapshot() StoreSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := StoreSnapshot{
		Voltage:     d.voltage.Clone(),
		Current:     d.current.Clone(),
		Power:       d.power.Clone(),
		SampleCount: d.sampleCount,
		Drops:       d.drops,
		EventCount:  d.eventCount,
		LastEvent:   d.lastEvent,
		Phase:       d.detector.Phase(),
	}
	if start, n, ok := d.detector.InProgress(); ok {
		snap.OpenEventStart = start
		snap.OpenEventSamples = n
	}
	if d.durations.TotalCount() > 0 {
		snap.DurationP50 = d.durations.ValueAtQuantile(50)
		snap.DurationP99 = d.durations.ValueAtQuantile(99)
		snap.DurationMax = d.durations.Max()
	}
	return snap
}
