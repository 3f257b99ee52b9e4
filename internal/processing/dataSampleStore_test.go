package processing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(window int) *DataSampleStore {
	return NewDataSampleStore(StoreOptions{WindowSize: window, Threshold: 15, SampleRate: 200})
}

func TestStoreIngestUpdatesAllChannels(t *testing.T) {
	store := newTestStore(3)

	_, err := store.Ingest(Sample{Voltage: 5, Current: 10, Power: 50})
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, []float64{0, 0, 5}, snap.Voltage.Snapshot())
	assert.Equal(t, []float64{0, 0, 10}, snap.Current.Snapshot())
	assert.Equal(t, []float64{0, 0, 50}, snap.Power.Snapshot())
	assert.Equal(t, uint64(1), snap.SampleCount)
	assert.Equal(t, Idle, snap.Phase)
	assert.Nil(t, snap.LastEvent)
}

func TestStoreEventIndicesFollowSampleCounter(t *testing.T) {
	store := newTestStore(8)

	var summaries []*EventSummary
	for _, c := range []float64{10, 20, 20, 5} {
		summary, err := store.Ingest(Sample{Voltage: 5, Current: c, Power: 5 * c})
		require.NoError(t, err)
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}

	require.Len(t, summaries, 1)
	assert.Equal(t, uint64(1), summaries[0].StartIndex)
	assert.Equal(t, uint64(3), summaries[0].EndIndex)

	snap := store.Snapshot()
	assert.Equal(t, uint64(1), snap.EventCount)
	assert.Same(t, summaries[0], snap.LastEvent)
	assert.Equal(t, int64(2), snap.DurationP50)
	assert.Equal(t, int64(2), snap.DurationMax)
}

func TestStoreSnapshotReportsOpenEvent(t *testing.T) {
	store := newTestStore(8)
	for _, c := range []float64{1, 30, 30} {
		_, err := store.Ingest(Sample{Current: c})
		require.NoError(t, err)
	}

	snap := store.Snapshot()
	assert.Equal(t, InEvent, snap.Phase)
	assert.Equal(t, uint64(1), snap.OpenEventStart)
	assert.Equal(t, uint64(2), snap.OpenEventSamples)
	assert.Equal(t, uint64(0), snap.EventCount)
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	store := newTestStore(2)
	snap := store.Snapshot()

	_, err := store.Ingest(Sample{Voltage: 1, Current: 1, Power: 1})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0}, snap.Voltage.Snapshot())
	assert.Equal(t, uint64(0), snap.SampleCount)
}

func TestStoreMalformedLineLeavesStateUntouched(t *testing.T) {
	store := newTestStore(4)
	_, err := store.Ingest(Sample{Voltage: 5, Current: 20, Power: 100})
	require.NoError(t, err)
	before := store.Snapshot()

	p := NewProcessor("", nil, PowerReported, nopLogger(), store, nil)
	err = p.ProcessLine([]byte("abc,1.0"), nil)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	after := store.Snapshot()
	assert.Equal(t, before.Voltage.Snapshot(), after.Voltage.Snapshot())
	assert.Equal(t, before.Current.Snapshot(), after.Current.Snapshot())
	assert.Equal(t, before.Power.Snapshot(), after.Power.Snapshot())
	assert.Equal(t, 4, after.Current.Len())
	assert.Equal(t, before.SampleCount, after.SampleCount)
	assert.Equal(t, InEvent, after.Phase)
	assert.Equal(t, uint64(1), after.Drops)
}

// The producer writes (i, 2i, 3i); a reader must only ever see full windows
// made of whole samples in push order.
func TestStoreConcurrentSnapshotsNeverTear(t *testing.T) {
	const (
		window    = 64
		pushes    = 20000
		snapshots = 2000
	)
	store := newTestStore(window)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= pushes; i++ {
			v := float64(i)
			// currents stay above and below the threshold to exercise the detector too
			if _, err := store.Ingest(Sample{Voltage: v, Current: 2 * v, Power: 3 * v}); err != nil {
				t.Errorf("ingest %d: %v", i, err)
				return
			}
		}
	}()

	for n := 0; n < snapshots; n++ {
		snap := store.Snapshot()
		volts := snap.Voltage.Snapshot()
		amps := snap.Current.Snapshot()
		watts := snap.Power.Snapshot()

		require.Len(t, volts, window)
		require.Len(t, amps, window)
		require.Len(t, watts, window)

		for j := range volts {
			require.Equal(t, 2*volts[j], amps[j], "torn sample at %d", j)
			require.Equal(t, 3*volts[j], watts[j], "torn sample at %d", j)
			if j > 0 && volts[j-1] != 0 {
				require.Equal(t, volts[j-1]+1, volts[j], "out of order at %d", j)
			}
		}
		require.Equal(t, float64(snap.SampleCount), volts[window-1])
	}

	wg.Wait()
	assert.Equal(t, uint64(pushes), store.SampleCount())
}
