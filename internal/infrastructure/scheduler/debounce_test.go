package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastDebouncer(quiet time.Duration) *Debouncer {
	return NewDebouncer(DebouncerConfig{Quiet: quiet})
}

func TestDebouncer_BurstFiresOnceWithLastValue(t *testing.T) {
	d := newFastDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var mu sync.Mutex
	var fired []float64
	record := func(v float64) func() {
		return func() {
			mu.Lock()
			fired = append(fired, v)
			mu.Unlock()
		}
	}

	// Three rapid changes within the quiet period.
	d.Schedule("speech_pitch", record(1.0))
	d.Schedule("speech_pitch", record(1.2))
	d.Schedule("speech_pitch", record(1.5))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1.5}, fired)
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	d := newFastDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var mu sync.Mutex
	fired := make(map[string]int)
	record := func(key string) func() {
		return func() {
			mu.Lock()
			fired[key]++
			mu.Unlock()
		}
	}

	d.Schedule("speech_pitch", record("speech_pitch"))
	d.Schedule("speech_rate", record("speech_rate"))
	// Rescheduling one key must not delay the other.
	d.Schedule("speech_pitch", record("speech_pitch"))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired["speech_pitch"])
	assert.Equal(t, 1, fired["speech_rate"])
}

func TestDebouncer_SpacedCallsEachFire(t *testing.T) {
	d := newFastDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var mu sync.Mutex
	count := 0
	fn := func() {
		mu.Lock()
		count++
		mu.Unlock()
	}

	d.Schedule("dark_mode", fn)
	time.Sleep(60 * time.Millisecond)
	d.Schedule("dark_mode", fn)
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestDebouncer_CancelDropsPending(t *testing.T) {
	d := newFastDebouncer(30 * time.Millisecond)
	defer d.Stop()

	fired := false
	d.Schedule("speech_voice", func() { fired = true })
	d.Cancel("speech_voice")

	time.Sleep(80 * time.Millisecond)

	assert.False(t, fired)
	assert.Empty(t, d.PendingKeys())
}

func TestDebouncer_FlushRunsPendingImmediately(t *testing.T) {
	d := newFastDebouncer(10 * time.Second)
	defer d.Stop()

	var mu sync.Mutex
	var fired []string
	d.Schedule("speech_pitch", func() {
		mu.Lock()
		fired = append(fired, "speech_pitch")
		mu.Unlock()
	})
	d.Schedule("speech_rate", func() {
		mu.Lock()
		fired = append(fired, "speech_rate")
		mu.Unlock()
	})

	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"speech_pitch", "speech_rate"}, fired)
	assert.Empty(t, d.PendingKeys())
}

func TestDebouncer_StopRejectsNewWork(t *testing.T) {
	d := newFastDebouncer(10 * time.Millisecond)

	fired := false
	d.Schedule("dark_mode", func() { fired = true })
	d.Stop()
	d.Schedule("dark_mode", func() { fired = true })

	time.Sleep(50 * time.Millisecond)

	assert.False(t, fired)
}

func TestDebouncer_StatusCounters(t *testing.T) {
	d := newFastDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Schedule("speech_pitch", func() {})
	d.Schedule("speech_pitch", func() {})
	time.Sleep(80 * time.Millisecond)

	status := d.Status()
	require.Equal(t, int64(2), status.Scheduled)
	assert.Equal(t, int64(1), status.Fired)
	assert.Equal(t, int64(1), status.Canceled)
	assert.Equal(t, 0, status.Pending)
}
