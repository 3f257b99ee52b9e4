package sinks

import (
	"context"
	"fmt"
	"io"
	"strings"

	"sleepywoodpecker/rp-goes-power/internal/processing"
)

const (
	InfluxMeasurement      = "powervals"
	InfluxEventMeasurement = "powerevents"
)

// InfluxUDP sends reports to Telegraf's socket listener as influx line
// protocol: one line of rolling averages per tick, plus one line per closed
// event.
type InfluxUDP struct {
	conn io.Writer
}

func NewInfluxUDP(conn io.Writer) *InfluxUDP {
	return &InfluxUDP{conn: conn}
}

func (s *InfluxUDP) Name() string { return "influx" }

func (s *InfluxUDP) Render(_ context.Context, report processing.Report) error {
	ts := report.Time.UnixNano()

	line := fmt.Sprintf(
		"%s avg_voltage=%.4f,avg_current=%.4f,avg_power=%.4f,sample_rate=%.2f,samples=%di,drops=%di,in_event=%t %d\n",
		InfluxMeasurement,
		report.AvgVoltage,
		report.AvgCurrent,
		report.AvgPower,
		report.SampleRate,
		report.SampleCount,
		report.Drops,
		report.InEvent,
		ts,
	)
	if err := s.sendToUDPConn(line); err != nil {
		return err
	}

	if ev := report.Event; ev != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "%s duration_s=%.4f,samples=%di,avg_voltage=%.4f,avg_current=%.4f,avg_power=%.4f,peak_current=%.4f,seq=%di %d\n",
			InfluxEventMeasurement,
			ev.DurationSeconds,
			ev.DurationSamples,
			ev.AvgVoltage,
			ev.AvgCurrent,
			ev.AvgPower,
			ev.PeakCurrent,
			ev.Seq,
			ev.EndedAt.UnixNano(),
		)
		if err := s.sendToUDPConn(b.String()); err != nil {
			return err
		}
	}
	return nil
}

// one datagram per line; a short write is retried with the remainder
func (s *InfluxUDP) sendToUDPConn(formattedData string) error {
	data := []byte(formattedData)
	for len(data) > 0 {
		n, err := s.conn.Write(data)
		if err != nil {
			return fmt.Errorf("[influx] writing to udp connection: %w", err)
		}
		data = data[n:]
	}
	return nil
}
