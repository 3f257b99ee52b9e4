package sinks

import (
	"context"

	"sleepywoodpecker/rp-goes-power/internal/processing"

	"go.uber.org/zap"
)

// LogSink is the headless renderer.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Render(_ context.Context, report processing.Report) error {
	s.logger.Info(
		"[sampler] collected sample",
		zap.Float64("avgVoltage", report.AvgVoltage),
		zap.Float64("avgCurrent", report.AvgCurrent),
		zap.Float64("avgPower", report.AvgPower),
		zap.Float64("sampleRate", report.SampleRate),
		zap.Uint64("samples", report.SampleCount),
		zap.Uint64("drops", report.Drops),
		zap.Bool("inEvent", report.InEvent),
	)

	if ev := report.Event; ev != nil {
		s.logger.Info(
			"[sampler] event summary",
			zap.Uint64("seq", ev.Seq),
			zap.Float64("durationSeconds", ev.DurationSeconds),
			zap.Uint64("durationSamples", ev.DurationSamples),
			zap.Float64("avgVoltage", ev.AvgVoltage),
			zap.Float64("avgCurrent", ev.AvgCurrent),
			zap.Float64("avgPower", ev.AvgPower),
		)
	}
	return nil
}
