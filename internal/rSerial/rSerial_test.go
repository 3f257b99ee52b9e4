package rserial

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedPort replays a list of reads; each entry is either data or an error.
// After the script it behaves like an idle port (timeouts).
type scriptedPort struct {
	steps  []step
	closed atomic.Bool
}

type step struct {
	data string
	err  error
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.steps) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	s := p.steps[0]
	n := copy(b, s.data)
	if n < len(s.data) {
		p.steps[0].data = s.data[n:]
		return n, nil
	}
	p.steps = p.steps[1:]
	return n, s.err
}

func (p *scriptedPort) Close() error {
	p.closed.Store(true)
	return nil
}

func runToEnd(t *testing.T, r *rserial, queue chan []byte) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go r.Run(ctx)

	var lines []string
	for line := range queue {
		lines = append(lines, string(line))
	}
	require.NoError(t, ctx.Err(), "run did not finish")
	return lines
}

func TestReaderFramesLines(t *testing.T) {
	queue := make(chan []byte, 16)
	src := io.NopCloser(strings.NewReader("5.01,10.00,50.10\r\n5.02,11.00,55.22\n\n   \n5.03,12.00,60.36\n"))
	r := NewFromReader("test", src, 0, queue, zap.NewNop())

	lines := runToEnd(t, r, queue)
	assert.Equal(t, []string{"5.01,10.00,50.10", "5.02,11.00,55.22", "5.03,12.00,60.36"}, lines)
	assert.ErrorIs(t, r.Err(), ErrEndOfStream)
}

func TestReaderReassemblesSplitReads(t *testing.T) {
	queue := make(chan []byte, 16)
	src := io.NopCloser(iotest.OneByteReader(strings.NewReader("1.00,2.00,3.00\n4.00,5.00,6.00\n")))
	r := NewFromReader("test", src, 0, queue, zap.NewNop())

	lines := runToEnd(t, r, queue)
	assert.Equal(t, []string{"1.00,2.00,3.00", "4.00,5.00,6.00"}, lines)
}

func TestReaderHoldsUnterminatedRecord(t *testing.T) {
	queue := make(chan []byte, 16)
	src := io.NopCloser(strings.NewReader("1,2,3\n4,5"))
	r := NewFromReader("test", src, 0, queue, zap.NewNop())

	lines := runToEnd(t, r, queue)
	assert.Equal(t, []string{"1,2,3"}, lines)
}

func TestReaderSurvivesTimeouts(t *testing.T) {
	queue := make(chan []byte, 16)
	port := &scriptedPort{steps: []step{
		{data: ""},
		{data: "1,2,"},
		{data: ""},
		{data: "3\n"},
		{err: io.EOF},
	}}
	r := newRSerial("scripted", port, queue, zap.NewNop())

	lines := runToEnd(t, r, queue)
	assert.Equal(t, []string{"1,2,3"}, lines)
	assert.ErrorIs(t, r.Err(), ErrEndOfStream)
}

func TestReaderResyncsAfterGarbage(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	queue := make(chan []byte, 16)
	garbage := strings.Repeat("x", DEFAULT_MAX_LINE_LENGTH+50)
	src := io.NopCloser(iotest.OneByteReader(strings.NewReader(garbage + "\n1,2,3\n")))
	r := NewFromReader("test", src, 0, queue, zap.New(core))

	lines := runToEnd(t, r, queue)
	assert.Equal(t, []string{"1,2,3"}, lines)
	assert.Equal(t, 1, logs.FilterMessage("Error while attempting to read line from serial").Len())
}

func TestReaderSkipsFirstFragmentWhenSyncing(t *testing.T) {
	queue := make(chan []byte, 16)
	r := newRSerial("test", io.NopCloser(strings.NewReader("0,12.5\n1,2,3\n")), queue, zap.NewNop())
	r.syncing = true

	lines := runToEnd(t, r, queue)
	assert.Equal(t, []string{"1,2,3"}, lines)
}

func TestReaderFatalErrorIsReported(t *testing.T) {
	disconnected := errors.New("device disconnected")
	queue := make(chan []byte, 16)
	port := &scriptedPort{steps: []step{
		{data: "1,2,3\n"},
		{err: disconnected},
	}}
	r := newRSerial("scripted", port, queue, zap.NewNop())

	lines := runToEnd(t, r, queue)
	assert.Equal(t, []string{"1,2,3"}, lines)
	require.ErrorIs(t, r.Err(), disconnected)
	assert.NotErrorIs(t, r.Err(), ErrEndOfStream)
	assert.Contains(t, r.Err().Error(), "scripted")
}

func TestReaderStopsOnShutdown(t *testing.T) {
	queue := make(chan []byte, 16)
	port := &scriptedPort{}
	r := newRSerial("idle", port, queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not stop after cancellation")
	}

	_, open := <-queue
	assert.False(t, open, "queue should be closed")
	assert.NoError(t, r.Err())

	require.NoError(t, r.Close())
	assert.True(t, port.closed.Load())
}

func TestReaderDoesNotBlockShutdownOnFullQueue(t *testing.T) {
	queue := make(chan []byte) // nobody reads
	r := NewFromReader("test", io.NopCloser(strings.NewReader("1,2,3\n4,5,6\n")), 0, queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader blocked on a full queue after cancellation")
	}
}
