package processing

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"sleepywoodpecker/rp-goes-power/internal/metrics"

	"go.uber.org/zap"
)

const DEFAULT_QUEUE_SIZE = 64

type Processor struct {
	Filename     string // raw capture file, empty disables capture
	MessageQueue <-chan []byte
	PowerMode    PowerMode
	logger       *zap.Logger
	dataStore    *DataSampleStore
	metrics      *metrics.Collector
}

func NewProcessor(filename string, messageQueue <-chan []byte, powerMode PowerMode, logger *zap.Logger, dataStore *DataSampleStore, collector *metrics.Collector) *Processor {
	return &Processor{
		Filename:     filename,
		MessageQueue: messageQueue,
		PowerMode:    powerMode,
		logger:       logger,
		dataStore:    dataStore,
		metrics:      collector,
	}
}

// Run consumes lines until ctx is cancelled or the message queue is closed by
// the transport. A bad line is logged and dropped, never fatal.
func (p *Processor) Run(ctx context.Context) error {
	var capture io.Writer = io.Discard
	if p.Filename != "" {
		file, err := os.OpenFile(p.Filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("[processor] opening capture file %q: %w", p.Filename, err)
		}
		defer file.Close()

		writer := bufio.NewWriter(file)
		defer writer.Flush()
		capture = writer
	}

	for {
		select {
		case line, ok := <-p.MessageQueue:
			if !ok {
				p.logger.Info("[processor] message queue closed", zap.Uint64("samples", p.dataStore.SampleCount()))
				return nil
			}

			if err := p.ProcessLine(line, capture); err != nil {
				var parseErr *ParseError
				if errors.As(err, &parseErr) {
					p.logger.Warn("[processor] dropping malformed line", zap.Error(err), zap.ByteString("rawBytes", line))
				} else {
					p.logger.Error("[processor] detector fault, detector reset", zap.Error(err))
				}
			}
		case <-ctx.Done():
			p.logger.Info("[processor] received shutdown signal")
			return nil
		}
	}
}

// ProcessLine parses one framed line and applies it to the store.
func (p *Processor) ProcessLine(line []byte, capture io.Writer) error {
	sample, err := ParseLine(string(line), p.PowerMode)
	if err != nil {
		p.dataStore.RecordDrop()
		p.metrics.ObserveParseError()
		return err
	}

	summary, err := p.dataStore.Ingest(sample)
	if err != nil {
		p.metrics.ObserveDetectorReset()
		return err
	}
	p.metrics.ObserveSample(p.dataStore.Phase() == InEvent)

	if summary != nil {
		p.metrics.ObserveEvent(summary.DurationSeconds, summary.AvgCurrent, summary.AvgPower)
		p.logger.Info(
			"[processor] event closed",
			zap.Uint64("seq", summary.Seq),
			zap.Uint64("startIndex", summary.StartIndex),
			zap.Uint64("endIndex", summary.EndIndex),
			zap.Float64("durationSeconds", summary.DurationSeconds),
			zap.Float64("avgCurrent", summary.AvgCurrent),
		)
	}

	if capture != nil {
		fmt.Fprintf(capture, "%.4f,%.4f,%.4f\n", sample.Voltage, sample.Current, sample.Power)
	}
	return nil
}
