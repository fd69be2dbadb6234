package player

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/genricoloni/cadence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedEngine answers every call immediately and reports it as an event.
type scriptedEngine struct {
	mu       sync.Mutex
	posUs    int64
	playing  bool
	wakes    []int64
	released int
	events   chan domain.Event
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{events: make(chan domain.Event, 64)}
}

func (e *scriptedEngine) SetDataSource(context.Context, string) error { return nil }

func (e *scriptedEngine) Prepare(context.Context) error {
	e.events <- domain.Event{Kind: domain.EventPrepared}
	return nil
}

func (e *scriptedEngine) PrepareAsync() error {
	e.events <- domain.Event{Kind: domain.EventPrepared}
	return nil
}

func (e *scriptedEngine) Start() error {
	e.setPlaying(true)
	e.events <- domain.Event{Kind: domain.EventStarted}
	return nil
}

func (e *scriptedEngine) Pause() error {
	e.setPlaying(false)
	e.events <- domain.Event{Kind: domain.EventPaused}
	return nil
}

func (e *scriptedEngine) Stop() error {
	e.setPlaying(false)
	e.events <- domain.Event{Kind: domain.EventStopped}
	return nil
}

func (e *scriptedEngine) SeekTo(timeUs int64, _ domain.SeekMode) error {
	e.mu.Lock()
	e.posUs = timeUs
	e.mu.Unlock()
	e.events <- domain.Event{Kind: domain.EventSeekComplete}
	return nil
}

func (e *scriptedEngine) Reset() error { return nil }

func (e *scriptedEngine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released++
	return nil
}

func (e *scriptedEngine) CurrentPositionUs() (int64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.posUs, e.playing, nil
}

func (e *scriptedEngine) RequestWakeAt(timeUs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wakes = append(e.wakes, timeUs)
}

func (e *scriptedEngine) Events() <-chan domain.Event {
	return e.events
}

func (e *scriptedEngine) setPlaying(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = playing
}

// tick moves the playhead and fires the engine's wake.
func (e *scriptedEngine) tick(posUs int64) {
	e.mu.Lock()
	e.posUs = posUs
	e.mu.Unlock()
	e.events <- domain.Event{Kind: domain.EventNotifyTime}
}

func (e *scriptedEngine) releaseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

type timeListener struct {
	mu    sync.Mutex
	seeks []int64
	stops int
	timed []int64
	onFire func()
}

func (l *timeListener) OnSeek(timeUs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seeks = append(l.seeks, timeUs)
}

func (l *timeListener) OnStop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *timeListener) OnTimedEvent(timeUs int64) {
	l.mu.Lock()
	l.timed = append(l.timed, timeUs)
	fire := l.onFire
	l.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (l *timeListener) timedEvents() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.timed...)
}

func (l *timeListener) stopCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stops
}

type errorListener struct{ calls int }

func (l *errorListener) OnError(int, int) bool {
	l.calls++
	return false
}

type completionListener struct {
	calls  int
	onFire func()
}

func (l *completionListener) OnCompletion() {
	l.calls++
	if l.onFire != nil {
		l.onFire()
	}
}

// startedPlayer returns a player that is playing from 0; call inside a bubble.
func startedPlayer(t *testing.T) (*Player, *scriptedEngine) {
	t.Helper()
	engine := newScriptedEngine()
	p := New(zap.NewNop(), engine, nil, Options{})
	t.Cleanup(func() {
		p.Release()
		p.Wait()
	})

	ctx := context.Background()
	require.NoError(t, p.SetDataSource(ctx, "track.mp3"))
	require.NoError(t, p.Prepare(ctx))
	require.NoError(t, p.Start())
	synctest.Wait()
	return p, engine
}

func TestPlayer_TimedEventAcrossTicks(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, engine := startedPlayer(t)

		l := &timeListener{}
		require.NoError(t, p.NotifyAt(5_000_000, l))
		synctest.Wait()

		wake, ok := p.PendingWake()
		require.True(t, ok)
		assert.Equal(t, int64(5_000_000), wake)

		for _, pos := range []int64{0, 2_000_000, 6_000_000} {
			engine.tick(pos)
			synctest.Wait()
		}

		events := l.timedEvents()
		require.Len(t, events, 1)
		assert.GreaterOrEqual(t, events[0], int64(5_000_000))
		assert.Less(t, events[0], int64(5_001_000))
	})
}

func TestPlayer_PositionIsMonotonicWhilePlaying(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, engine := startedPlayer(t)

		var last int64
		for _, raw := range []int64{100_000, 250_000, 240_000, 400_000, 399_999, 500_000} {
			engine.mu.Lock()
			engine.posUs = raw
			engine.mu.Unlock()

			pos := p.CurrentPositionUs()
			assert.GreaterOrEqual(t, pos, last)
			last = pos
		}
	})
}

func TestPlayer_ErrorCascade(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, engine := startedPlayer(t)
		require.True(t, p.KeepAwake())

		errs := []*errorListener{{}, {}, {}}
		for _, l := range errs {
			p.AddListener(l)
		}
		completion := &completionListener{}
		p.AddListener(completion)

		engine.events <- domain.ErrorEvent(domain.ErrorServerDied, 0)
		synctest.Wait()

		for _, l := range errs {
			assert.Equal(t, 1, l.calls)
		}
		assert.Equal(t, 1, completion.calls)
		assert.False(t, p.KeepAwake())
		assert.Equal(t, domain.StateError, p.State())
	})
}

func TestPlayer_StopThenStartWithoutPrepare(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, _ := startedPlayer(t)

		l := &timeListener{}
		require.NoError(t, p.ScheduleUpdate(l))
		synctest.Wait()

		require.NoError(t, p.Stop())
		synctest.Wait()
		assert.Equal(t, 1, l.stopCount())

		err := p.Start()
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, domain.StateError, p.State())
	})
}

func TestPlayer_ListenerMayCallBackIntoPlayer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, engine := startedPlayer(t)

		l := &timeListener{}
		l.onFire = func() {
			assert.NoError(t, p.Pause())
		}
		require.NoError(t, p.NotifyAt(1_000_000, l))
		synctest.Wait()

		engine.tick(1_000_000)
		synctest.Wait()

		assert.Len(t, l.timedEvents(), 1)
		assert.Equal(t, domain.StatePaused, p.State())
		_, ok := p.PendingWake()
		assert.False(t, ok, "no wake while paused")
	})
}

func TestPlayer_ReleaseIsIdempotent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, engine := startedPlayer(t)

		l := &timeListener{}
		require.NoError(t, p.NotifyAt(9_000_000, l))
		synctest.Wait()
		completion := &completionListener{}
		p.AddListener(completion)

		p.Release()
		p.Release()
		p.Wait()

		assert.Equal(t, domain.StateEnd, p.State())
		assert.Equal(t, 1, engine.releaseCount())
		_, ok := p.PendingWake()
		assert.False(t, ok)
		assert.Equal(t, 0, p.scheduler.Registered())

		p.Reset()
		assert.Equal(t, domain.StateEnd, p.State())
		assert.ErrorIs(t, p.Start(), domain.ErrInvalidState)
		assert.Equal(t, domain.StateEnd, p.State())
		assert.Equal(t, 0, completion.calls)
	})
}

func TestPlayer_ReleaseFromListener(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, engine := startedPlayer(t)

		completion := &completionListener{}
		completion.onFire = p.Release
		p.AddListener(completion)

		engine.events <- domain.Event{Kind: domain.EventPlaybackComplete}
		synctest.Wait()
		p.Wait()

		assert.Equal(t, 1, completion.calls)
		assert.Equal(t, domain.StateEnd, p.State())
		assert.Equal(t, 1, engine.releaseCount())
	})
}

func TestPlayer_SeekAnnouncesPosition(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, _ := startedPlayer(t)

		l := &timeListener{}
		require.NoError(t, p.NotifyAt(90_000_000, l))
		synctest.Wait()

		require.NoError(t, p.SeekTo(42_000_000, domain.SeekClosest))
		synctest.Wait()

		l.mu.Lock()
		defer l.mu.Unlock()
		assert.Equal(t, []int64{42_000_000}, l.seeks)
	})
}

func TestPlayer_StopSupersedesQueuedSeek(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, engine := startedPlayer(t)

		l := &timeListener{}
		require.NoError(t, p.NotifyAt(90_000_000, l))
		synctest.Wait()

		// Both events are queued behind a busy looper
		gate := make(chan struct{})
		require.NoError(t, p.looper.Post(func() { <-gate }))
		engine.events <- domain.Event{Kind: domain.EventSeekComplete}
		engine.events <- domain.Event{Kind: domain.EventStopped}
		synctest.Wait()
		close(gate)
		synctest.Wait()

		assert.Equal(t, 1, l.stopCount())
		l.mu.Lock()
		defer l.mu.Unlock()
		assert.Empty(t, l.seeks, "no seek is announced after the stop")
	})
}
