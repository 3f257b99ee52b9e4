package processing

import (
	"errors"
	"fmt"
	"time"
)

type Phase int

const (
	Idle Phase = iota
	InEvent
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case InEvent:
		return "in_event"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var ErrDetectorInvariant = errors.New("[detector] invariant violated")

// EventSummary describes one completed high-current event. It is never
// modified after the detector hands it out.
type EventSummary struct {
	Seq             uint64
	StartIndex      uint64
	EndIndex        uint64
	DurationSamples uint64
	DurationSeconds float64
	SampleCount     uint64
	AvgVoltage      float64
	AvgCurrent      float64
	AvgPower        float64
	PeakCurrent     float64
	PeakPower       float64
	EndedAt         time.Time
}

// eventAccumulator keeps running sums instead of the raw samples so a long
// event costs constant memory.
type eventAccumulator struct {
	count       uint64
	sumVoltage  float64
	sumCurrent  float64
	sumPower    float64
	peakCurrent float64
	peakPower   float64
}

func (a *eventAccumulator) add(s Sample) {
	if a.count == 0 || s.Current > a.peakCurrent {
		a.peakCurrent = s.Current
	}
	if a.count == 0 || s.Power > a.peakPower {
		a.peakPower = s.Power
	}
	a.count++
	a.sumVoltage += s.Voltage
	a.sumCurrent += s.Current
	a.sumPower += s.Power
}

func (a *eventAccumulator) mean(sum float64) float64 {
	if a.count == 0 {
		return 0
	}
	return sum / float64(a.count)
}

// EventDetector delimits events on the current channel with a single
// threshold. The sample that crosses above the threshold belongs to the event;
// the sample that drops below it does not. A value equal to the threshold never
// changes the phase.
type EventDetector struct {
	threshold  float64
	sampleRate float64

	phase    Phase
	start    uint64
	hasStart bool
	acc      eventAccumulator
	seq      uint64
	now      func() time.Time
}

func NewEventDetector(threshold, sampleRate float64) *EventDetector {
	return &EventDetector{
		threshold:  threshold,
		sampleRate: sampleRate,
		now:        time.Now,
	}
}

func (d *EventDetector) Phase() Phase       { return d.phase }
func (d *EventDetector) Threshold() float64 { return d.threshold }

// InProgress reports the open event's start index and how many samples it has
// collected so far.
func (d *EventDetector) InProgress() (start uint64, samples uint64, ok bool) {
	if d.phase != InEvent {
		return 0, 0, false
	}
	return d.start, d.acc.count, true
}

// Feed advances the state machine by one sample taken at index. It returns a
// summary when the sample closes an event. On ErrDetectorInvariant the detector
// has already been reset to Idle.
func (d *EventDetector) Feed(s Sample, index uint64) (*EventSummary, error) {
	switch d.phase {
	case Idle:
		if s.Current > d.threshold {
			d.phase = InEvent
			d.start = index
			d.hasStart = true
			d.acc = eventAccumulator{}
		}
	case InEvent:
		if s.Current < d.threshold {
			return d.close(index)
		}
	}

	if d.phase == InEvent {
		d.acc.add(s)
	}
	return nil, nil
}

func (d *EventDetector) close(end uint64) (*EventSummary, error) {
	if !d.hasStart || end < d.start {
		err := fmt.Errorf("%w: end index %d, start index %d (set=%t)", ErrDetectorInvariant, end, d.start, d.hasStart)
		d.Reset()
		return nil, err
	}

	d.seq++
	durationSamples := end - d.start
	summary := &EventSummary{
		Seq:             d.seq,
		StartIndex:      d.start,
		EndIndex:        end,
		DurationSamples: durationSamples,
		SampleCount:     d.acc.count,
		AvgVoltage:      d.acc.mean(d.acc.sumVoltage),
		AvgCurrent:      d.acc.mean(d.acc.sumCurrent),
		AvgPower:        d.acc.mean(d.acc.sumPower),
		PeakCurrent:     d.acc.peakCurrent,
		PeakPower:       d.acc.peakPower,
		EndedAt:         d.now(),
	}
	if d.sampleRate > 0 {
		summary.DurationSeconds = float64(durationSamples) / d.sampleRate
	}

	d.phase = Idle
	d.hasStart = false
	d.acc = eventAccumulator{}
	return summary, nil
}

// Reset drops any open event and returns to Idle. The event sequence number is
// kept.
func (d *EventDetector) Reset() {
	d.phase = Idle
	d.start = 0
	d.hasStart = false
	d.acc = eventAccumulator{}
}
