package processing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RateMeter periodically turns a monotonic sample counter into a
// samples-per-second figure. It only reads the counter.
type RateMeter struct {
	interval time.Duration
	count    func() uint64
	onRate   func(rate float64)
	logger   *zap.Logger

	lastCount uint64
	lastTime  time.Time
}

func NewRateMeter(interval time.Duration, count func() uint64, onRate func(float64), logger *zap.Logger) *RateMeter {
	return &RateMeter{
		interval: interval,
		count:    count,
		onRate:   onRate,
		logger:   logger,
	}
}

// Start records the baseline the first Measure is computed against.
func (m *RateMeter) Start(now time.Time) {
	m.lastCount = m.count()
	m.lastTime = now
}

// Measure returns the rate since the previous call (or Start).
func (m *RateMeter) Measure(now time.Time) float64 {
	count := m.count()
	elapsed := now.Sub(m.lastTime).Seconds()
	delta := count - m.lastCount

	m.lastCount = count
	m.lastTime = now
	if elapsed <= 0 {
		return 0
	}
	return float64(delta) / elapsed
}

func (m *RateMeter) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Start(time.Now())
	for {
		select {
		case now := <-ticker.C:
			rate := m.Measure(now)
			m.logger.Debug("[ratemeter] observed sample rate", zap.Float64("samplesPerSecond", rate))
			if m.onRate != nil {
				m.onRate(rate)
			}
		case <-ctx.Done():
			return
		}
	}
}
