package processing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const NumChannels = 3

// PowerMode selects where Sample.Power comes from. The two firmware variants
// disagree: one sends the INA219 power register, the other sends V*I.
type PowerMode string

const (
	PowerReported PowerMode = "reported"
	PowerDerived  PowerMode = "derived"
)

func ParsePowerMode(s string) (PowerMode, error) {
	switch PowerMode(strings.ToLower(strings.TrimSpace(s))) {
	case PowerReported:
		return PowerReported, nil
	case PowerDerived:
		return PowerDerived, nil
	}
	return "", fmt.Errorf("unknown power mode %q (want %q or %q)", s, PowerReported, PowerDerived)
}

// Sample is one reading from the sensor. Units follow the firmware: V, mA, mW.
type Sample struct {
	Voltage float64
	Current float64
	Power   float64
}

type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[parser] %s in %q: %v", e.Reason, e.Line, e.Err)
	}
	return fmt.Sprintf("[parser] %s in %q", e.Reason, e.Line)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseLine decodes a "voltage,current,power" record. Fields past the third are
// ignored.
func ParseLine(line string, mode PowerMode) (Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Sample{}, &ParseError{Line: line, Reason: "empty line"}
	}

	fields := strings.Split(line, ",")
	if len(fields) < NumChannels {
		return Sample{}, &ParseError{
			Line:   line,
			Reason: fmt.Sprintf("expected %d fields, got %d", NumChannels, len(fields)),
		}
	}

	var vals [NumChannels]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return Sample{}, &ParseError{Line: line, Reason: fmt.Sprintf("field %d not a number", i), Err: err}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, &ParseError{Line: line, Reason: fmt.Sprintf("field %d not finite", i)}
		}
		vals[i] = v
	}

	s := Sample{Voltage: vals[0], Current: vals[1], Power: vals[2]}
	if mode == PowerDerived {
		s.Power = s.Voltage * s.Current
	}
	return s, nil
}
