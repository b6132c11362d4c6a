package capture

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsavary/classnote/internal/config"
	"github.com/rsavary/classnote/pkg/logger"
)

type fakeRecognizer struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeRecognizer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRecognizer) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeRecognizer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakePersister struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakePersister) SaveLiveTranscript(recordingID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, text)
	return nil
}

func (f *fakePersister) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type scheduledCall struct {
	delay time.Duration
	fn    func()
}

// newTestController builds a controller with a fake clock and a
// capturing scheduler so restart timing is fully deterministic.
func newTestController(t *testing.T, rec Recognizer, persister Persister) (*Controller, *time.Time, *[]scheduledCall) {
	t.Helper()

	cfg := config.CaptureConfig{
		Locale:             "en-US",
		WatchdogIntervalMs: 2000,
		StallTimeoutMs:     5000,
		CycleSeconds:       25,
		RestartDelayMs:     200,
		PersistEveryChars:  400,
	}

	ctrl := NewController("rec-1", rec, cfg, persister, nil, logger.NewNop())

	now := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	ctrl.now = func() time.Time { return now }

	var scheduled []scheduledCall
	ctrl.schedule = func(d time.Duration, f func()) func() {
		scheduled = append(scheduled, scheduledCall{delay: d, fn: f})
		return func() {}
	}

	return ctrl, &now, &scheduled
}

func TestFinalResultsAppendWithSeparator(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, _, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	ctrl.OnResult([]Result{{Transcript: "Hello", IsFinal: true}})
	ctrl.OnResult([]Result{{Transcript: "world", IsFinal: true}})
	ctrl.OnResult([]Result{{Transcript: "today", IsFinal: false}})

	assert.Equal(t, "Hello world ", ctrl.FinalText())
	assert.Equal(t, "Hello world today", ctrl.Snapshot())
}

func TestInterimResultsAreReplaced(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, _, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	ctrl.OnResult([]Result{{Transcript: "hel", IsFinal: false}})
	ctrl.OnResult([]Result{{Transcript: "hello th", IsFinal: false}})
	assert.Equal(t, "hello th", ctrl.Snapshot())

	ctrl.OnResult([]Result{{Transcript: "hello there", IsFinal: true}})
	assert.Equal(t, "hello there ", ctrl.Snapshot())
}

func TestWatchdogIdleTickDoesNothing(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, now, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	startsAfterStart := rec.startCount()

	// Fresh result, deadline far away
	*now = now.Add(2 * time.Second)
	ctrl.OnResult([]Result{{Transcript: "still talking", IsFinal: false}})
	*now = now.Add(2 * time.Second)
	ctrl.WatchdogTick()
	ctrl.WatchdogTick()

	assert.Equal(t, startsAfterStart, rec.startCount(), "idle ticks must not restart the engine")
}

func TestWatchdogRestartsOnStall(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, now, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	before := rec.startCount()

	*now = now.Add(5001 * time.Millisecond)
	ctrl.WatchdogTick()

	assert.Equal(t, before+1, rec.startCount(), "stall must force exactly one restart")
}

func TestWatchdogHardCyclingAdvancesDeadline(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, now, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	// Keep results flowing so only the cycle deadline can trip
	*now = now.Add(24 * time.Second)
	ctrl.OnResult([]Result{{Transcript: "lecture", IsFinal: false}})

	before := rec.startCount()
	*now = now.Add(1 * time.Second) // exactly at the 25s deadline
	ctrl.WatchdogTick()
	assert.Equal(t, before+1, rec.startCount())

	deadline := ctrl.cycleDeadline
	assert.Equal(t, now.Add(25*time.Second), deadline, "deadline must advance by the cycle length from now")

	// One restart for both conditions even if the engine also looks stalled
	*now = now.Add(25 * time.Second)
	ctrl.WatchdogTick()
	assert.Equal(t, before+2, rec.startCount())
}

func TestNoSpeechRestartsImmediately(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, _, scheduled := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	before := rec.startCount()
	ctrl.OnError(ErrNoSpeech)

	assert.Equal(t, before+1, rec.startCount())
	assert.Empty(t, *scheduled, "no-speech must not go through the delayed path")
}

func TestTransientErrorSchedulesDelayedRestart(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, _, scheduled := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	before := rec.startCount()
	ctrl.OnError(ErrNetwork)

	require.Len(t, *scheduled, 1)
	assert.Equal(t, 200*time.Millisecond, (*scheduled)[0].delay)
	assert.Equal(t, before, rec.startCount(), "restart must wait for the delay")

	(*scheduled)[0].fn()
	assert.Equal(t, before+1, rec.startCount())
}

func TestScheduledRestartSkippedAfterStop(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, _, scheduled := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())

	ctrl.OnError(ErrAborted)
	require.Len(t, *scheduled, 1)

	ctrl.Stop()
	before := rec.startCount()
	(*scheduled)[0].fn()

	assert.Equal(t, before, rec.startCount(), "restart must never run after Stop")
}

func TestOnEndRestartsWhileActive(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, _, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	before := rec.startCount()
	ctrl.OnEnd()
	assert.Equal(t, before+1, rec.startCount())
}

func TestLateOnEndAfterStopIsNoop(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, _, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	ctrl.Stop()

	before := rec.startCount()
	ctrl.OnEnd()
	ctrl.OnError(ErrNetwork)
	ctrl.OnResult([]Result{{Transcript: "late", IsFinal: true}})

	assert.Equal(t, before, rec.startCount())
	assert.Equal(t, "", ctrl.FinalText())
}

func TestSuspendDropsEngineEvents(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, now, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	ctrl.OnResult([]Result{{Transcript: "before pause", IsFinal: true}})
	ctrl.Suspend()

	before := rec.startCount()
	ctrl.OnResult([]Result{{Transcript: "hallway chatter", IsFinal: true}})
	ctrl.OnEnd()
	ctrl.OnError(ErrNetwork)
	*now = now.Add(30 * time.Second)
	ctrl.WatchdogTick()

	assert.Equal(t, "before pause ", ctrl.FinalText(), "suspended capture must not grow the transcript")
	assert.Equal(t, before, rec.startCount(), "nothing restarts the engine while suspended")
}

func TestResumeRearmsWatchdogClock(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, now, _ := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	ctrl.Suspend()
	stopsAfterSuspend := rec.stopCount()

	*now = now.Add(10 * time.Minute)
	ctrl.Resume()
	assert.Equal(t, now.Add(25*time.Second), ctrl.cycleDeadline, "cycle deadline must restart from the resume time")

	// A tick right after resume must not read the pause as a stall
	started := rec.startCount()
	*now = now.Add(2 * time.Second)
	ctrl.WatchdogTick()
	assert.Equal(t, started, rec.startCount())
	assert.Equal(t, stopsAfterSuspend, rec.stopCount(), "no stall restart after resume")

	ctrl.OnResult([]Result{{Transcript: "back", IsFinal: true}})
	assert.Equal(t, "back ", ctrl.FinalText())
}

func TestPendingRestartSkippedWhileSuspended(t *testing.T) {
	rec := &fakeRecognizer{}
	ctrl, _, scheduled := newTestController(t, rec, nil)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	ctrl.OnError(ErrNetwork)
	require.Len(t, *scheduled, 1)

	ctrl.Suspend()
	before := rec.startCount()
	(*scheduled)[0].fn()

	assert.Equal(t, before, rec.startCount(), "a restart scheduled before the pause must not fire during it")
}

func TestPersistsEveryFourHundredChars(t *testing.T) {
	rec := &fakeRecognizer{}
	persister := &fakePersister{}
	ctrl, _, _ := newTestController(t, rec, persister)
	require.NoError(t, ctrl.Start())

	chunk := strings.Repeat("a", 99) // 100 chars with separator
	for i := 0; i < 3; i++ {
		ctrl.OnResult([]Result{{Transcript: chunk, IsFinal: true}})
	}
	assert.Equal(t, 0, persister.count(), "no snapshot before the threshold")

	ctrl.OnResult([]Result{{Transcript: chunk, IsFinal: true}})
	assert.Equal(t, 1, persister.count(), "snapshot once the threshold is crossed")

	ctrl.OnResult([]Result{{Transcript: chunk, IsFinal: true}})
	assert.Equal(t, 1, persister.count(), "growth counter resets after each snapshot")

	// Stop writes one final snapshot of the accumulated text
	ctrl.Stop()
	assert.Equal(t, 2, persister.count())
}
