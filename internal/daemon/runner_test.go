package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/genricoloni/cadence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockConfig struct {
	source string
	every  int64
	poll   time.Duration
}

func (c *mockConfig) GetEngine() string              { return "local" }
func (c *mockConfig) GetSource() string              { return c.source }
func (c *mockConfig) GetMprisPlayer() string         { return "" }
func (c *mockConfig) GetEarlyTriggerUs() int64       { return 1000 }
func (c *mockConfig) GetSeekThresholdUs() int64      { return 1_000_000 }
func (c *mockConfig) GetKeepAwake() bool             { return false }
func (c *mockConfig) GetPollInterval() time.Duration { return c.poll }
func (c *mockConfig) GetNotifyEveryUs() int64        { return c.every }

type fakePlayer struct {
	mu        sync.Mutex
	calls     []string
	notifyAt  []int64
	listeners []any
	failOn    string
	posUs     int64
	released  bool
}

func (p *fakePlayer) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	if call == p.failOn {
		return errors.New(call + " failed")
	}
	return nil
}

func (p *fakePlayer) SetDataSource(_ context.Context, _ string) error {
	return p.record("SetDataSource")
}
func (p *fakePlayer) Prepare(context.Context) error { return p.record("Prepare") }
func (p *fakePlayer) Start() error                  { return p.record("Start") }
func (p *fakePlayer) Wait()                         { _ = p.record("Wait") }
func (p *fakePlayer) State() domain.State           { return domain.StateStarted }

func (p *fakePlayer) Release() {
	_ = p.record("Release")
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
}

func (p *fakePlayer) CurrentPositionUs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.posUs
}

func (p *fakePlayer) NotifyAt(timeUs int64, _ domain.MediaTimeListener) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifyAt = append(p.notifyAt, timeUs)
	return nil
}

func (p *fakePlayer) AddListener(l any) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
	return func() {}
}

func (p *fakePlayer) snapshot() ([]string, []int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...), append([]int64(nil), p.notifyAt...)
}

func TestRunner_StartSequence(t *testing.T) {
	p := &fakePlayer{}
	r := NewRunner(zap.NewNop(), &mockConfig{source: "a.mp3", every: 5_000_000, poll: time.Hour}, p)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))

	calls, markers := p.snapshot()
	assert.Equal(t, []string{"SetDataSource", "Prepare", "Start", "Release", "Wait"}, calls)
	assert.Equal(t, []int64{5_000_000}, markers)
	require.Len(t, p.listeners, 1)

	// The runner registers for every listener capability it logs
	l := p.listeners[0]
	assert.Implements(t, (*domain.CompletionListener)(nil), l)
	assert.Implements(t, (*domain.ErrorListener)(nil), l)
	assert.Implements(t, (*domain.InfoListener)(nil), l)
}

func TestRunner_StartFailures(t *testing.T) {
	tests := []struct {
		failOn    string
		wantCalls []string
	}{
		{"SetDataSource", []string{"SetDataSource"}},
		{"Prepare", []string{"SetDataSource", "Prepare"}},
		{"Start", []string{"SetDataSource", "Prepare", "Start"}},
	}

	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			p := &fakePlayer{failOn: tt.failOn}
			r := NewRunner(zap.NewNop(), &mockConfig{every: 1, poll: time.Hour}, p)

			err := r.Start(context.Background())
			assert.ErrorContains(t, err, tt.failOn+" failed")

			calls, _ := p.snapshot()
			assert.Equal(t, tt.wantCalls, calls)

			// Stop after a failed start still releases the player
			require.NoError(t, r.Stop(context.Background()))
			assert.True(t, p.released)
		})
	}
}

func TestRunner_MarkersFollowMediaTime(t *testing.T) {
	p := &fakePlayer{}
	r := NewRunner(zap.NewNop(), &mockConfig{every: 5_000_000}, p)

	r.OnTimedEvent(5_000_300)
	r.OnSeek(42_000_000)
	r.OnSeek(-1)
	r.OnTimedEvent(45_000_000)

	_, markers := p.snapshot()
	assert.Equal(t, []int64{10_000_000, 45_000_000, 5_000_000, 50_000_000}, markers)
	assert.Equal(t, 2, r.Markers())
}

func TestRunner_MarkersDisabled(t *testing.T) {
	p := &fakePlayer{}
	r := NewRunner(zap.NewNop(), &mockConfig{every: 0, poll: time.Hour}, p)

	require.NoError(t, r.Start(context.Background()))
	r.OnTimedEvent(1_000_000)
	require.NoError(t, r.Stop(context.Background()))

	_, markers := p.snapshot()
	assert.Empty(t, markers)
}

func TestRunner_ErrorsAreNotClaimed(t *testing.T) {
	r := NewRunner(zap.NewNop(), &mockConfig{}, &fakePlayer{})
	assert.False(t, r.OnError(domain.ErrorServerDied, 0))
	assert.False(t, r.OnInfo(domain.InfoMetadataUpdate, 0))
}

func TestRunner_PollLogsPosition(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		p := &fakePlayer{posUs: 1_234_000}
		r := NewRunner(zap.New(core), &mockConfig{poll: 100 * time.Millisecond}, p)

		require.NoError(t, r.Start(context.Background()))
		time.Sleep(350 * time.Millisecond)
		synctest.Wait()
		require.NoError(t, r.Stop(context.Background()))

		entries := logs.FilterMessage("Position").All()
		require.Len(t, entries, 3)
		assert.Equal(t, int64(1_234_000), entries[0].ContextMap()["positionUs"])
		assert.Equal(t, "Started", entries[0].ContextMap()["state"])
	})
}

func TestNextMarker(t *testing.T) {
	tests := []struct {
		timeUs, every, want int64
	}{
		{0, 5, 5},
		{4, 5, 5},
		{5, 5, 10},
		{-3, 5, 5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, nextMarker(tt.timeUs, tt.every), "nextMarker(%d, %d)", tt.timeUs, tt.every)
	}
}
