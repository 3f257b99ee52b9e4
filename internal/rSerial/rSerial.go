// r in rserial stands for "robust"
package rserial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DEFAULT_MAX_LINE_LENGTH = 256
	readChunkSize           = 512
)

var ErrEndOfStream = errors.New("[rserial] end of stream")

type rserial struct {
	port          io.ReadCloser
	MessageQueue  chan<- []byte // channels are all implicitly passed as pointers
	tempBuff      []byte
	pending       []byte
	logger        *zap.Logger
	portName      string
	stopSequence  byte
	maxLineLength int
	syncing       bool          // discarding bytes up to the next stop byte
	lineInterval  time.Duration // replay pacing, zero for live ports

	errMu sync.Mutex
	err   error
}

type OutOfSyncError struct {
	ByteSequence []byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[rserial] no stop sequence within %d bytes", len(e.ByteSequence))
}

// NewRSerial opens a serial port and prepares it for line reads. readTimeout
// bounds every read so Run can notice shutdown.
func NewRSerial(portName string, baudrate int, readTimeout time.Duration, messageQueue chan<- []byte, logger *zap.Logger) (*rserial, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("[rserial] opening %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("[rserial] setting read timeout on %s: %w", portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		logger.Warn("[rserial] could not reset input buffer", zap.Error(err), zap.String("portName", portName))
	}

	r := newRSerial(portName, port, messageQueue, logger)
	// the first line after opening is almost always a fragment
	r.syncing = true
	return r, nil
}

// NewFromReader reads lines from any stream, e.g. a recorded capture. A
// non-zero lineInterval paces delivery to roughly the recorded sample rate.
func NewFromReader(name string, rc io.ReadCloser, lineInterval time.Duration, messageQueue chan<- []byte, logger *zap.Logger) *rserial {
	r := newRSerial(name, rc, messageQueue, logger)
	r.lineInterval = lineInterval
	return r
}

func newRSerial(name string, port io.ReadCloser, messageQueue chan<- []byte, logger *zap.Logger) *rserial {
	return &rserial{
		port:          port,
		MessageQueue:  messageQueue,
		tempBuff:      make([]byte, readChunkSize),
		logger:        logger,
		portName:      name,
		stopSequence:  '\n',
		maxLineLength: DEFAULT_MAX_LINE_LENGTH,
	}
}

// Run reads until ctx is cancelled or the stream fails. It always closes the
// message queue on return; a terminal fault is available from Err afterwards.
func (r *rserial) Run(ctx context.Context) {
	defer close(r.MessageQueue)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("[rserial] exiting from rserial read loop", zap.String("portName", r.portName))
			return
		default:
			err := r.ReadLines(ctx)
			if err == nil {
				continue
			}

			var oosError *OutOfSyncError
			if errors.As(err, &oosError) {
				r.logger.Warn("Error while attempting to read line from serial", zap.Error(err), zap.String("portName", r.portName), zap.ByteString("payload", oosError.ByteSequence))
				continue
			}

			r.setErr(err)
			if errors.Is(err, ErrEndOfStream) {
				r.logger.Info("[rserial] stream ended", zap.String("portName", r.portName))
			} else {
				r.logger.Error("[rserial] fatal read error, stopping", zap.Error(err), zap.String("portName", r.portName))
			}
			return
		}
	}
}

// ReadLines does one bounded read and forwards every line it completes. A
// timed-out read returns nil with nothing forwarded.
func (r *rserial) ReadLines(ctx context.Context) error {
	n, err := r.port.Read(r.tempBuff)
	if n > 0 {
		if ferr := r.frame(ctx, r.tempBuff[:n]); ferr != nil {
			return ferr
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(r.pending) > 0 {
				r.logger.Warn("[rserial] discarding unterminated record at end of stream", zap.ByteString("payload", r.pending))
				r.pending = r.pending[:0]
			}
			return ErrEndOfStream
		}
		return fmt.Errorf("[rserial] reading %s: %w", r.portName, err)
	}
	return nil
}

func (r *rserial) frame(ctx context.Context, chunk []byte) error {
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, r.stopSequence)
		if idx < 0 {
			if !r.syncing {
				r.pending = append(r.pending, chunk...)
			}
			break
		}

		if r.syncing {
			r.syncing = false
			r.pending = r.pending[:0]
		} else {
			r.pending = append(r.pending, chunk[:idx]...)
			line := bytes.TrimSpace(r.pending)
			if len(line) > 0 {
				if err := r.emit(ctx, line); err != nil {
					return err
				}
			}
			r.pending = r.pending[:0]
		}
		chunk = chunk[idx+1:]
	}

	if len(r.pending) > r.maxLineLength {
		garbage := make([]byte, len(r.pending))
		copy(garbage, r.pending)
		r.pending = r.pending[:0]
		r.syncing = true
		return &OutOfSyncError{ByteSequence: garbage}
	}
	return nil
}

func (r *rserial) emit(ctx context.Context, line []byte) error {
	// pending is reused, the consumer needs its own copy
	out := make([]byte, len(line))
	copy(out, line)

	select {
	case r.MessageQueue <- out:
	case <-ctx.Done():
		return nil
	}

	if r.lineInterval > 0 {
		timer := time.NewTimer(r.lineInterval)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return nil
}

func (r *rserial) setErr(err error) {
	r.errMu.Lock()
	r.err = err
	r.errMu.Unlock()
}

// Err returns the fault that stopped Run, or nil if Run stopped on shutdown.
func (r *rserial) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *rserial) Close() error {
	return r.port.Close()
}
