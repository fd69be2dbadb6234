package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_StartsStoppedAndPaused(t *testing.T) {
	m := New(0)

	assert.True(t, m.Paused)
	assert.True(t, m.Stopped)
	assert.Equal(t, DefaultSeekThresholdUs, m.SeekThresholdUs)
}

func TestModel_Cached(t *testing.T) {
	tests := []struct {
		name    string
		paused  bool
		refresh bool
		wantHit bool
	}{
		{"paused without refresh", true, false, true},
		{"paused with refresh", true, true, false},
		{"playing without refresh", false, false, false},
		{"playing with refresh", false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(0)
			m.Paused = tt.paused
			m.LastReportedUs = 42

			pos, hit := m.Cached(tt.refresh)

			assert.Equal(t, tt.wantHit, hit)
			if hit {
				assert.Equal(t, int64(42), pos)
			}
		})
	}
}

func TestModel_Observe(t *testing.T) {
	tests := []struct {
		name          string
		reported      int64
		raw           int64
		monotonic     bool
		wantPos       int64
		wantDiscont   bool
		wantSeeking   bool
		wantObserved  int64
		alreadySeeked bool
	}{
		{
			name: "forward progress is adopted", reported: 1_000_000, raw: 1_200_000, monotonic: true,
			wantPos: 1_200_000, wantObserved: 1_200_000,
		},
		{
			name: "small regression holds", reported: 2_000_000, raw: 1_500_000, monotonic: true,
			wantPos: 2_000_000, wantObserved: 1_500_000,
		},
		{
			name: "regression at threshold holds", reported: 2_000_000, raw: 1_000_000, monotonic: true,
			wantPos: 2_000_000, wantObserved: 1_000_000,
		},
		{
			name: "large regression is an implicit seek", reported: 3_000_000, raw: 1_500_000, monotonic: true,
			wantPos: 3_000_000, wantDiscont: true, wantSeeking: true, wantObserved: 1_500_000,
		},
		{
			name: "large regression while seeking is not reported twice", reported: 3_000_000, raw: 1_500_000,
			monotonic: true, alreadySeeked: true,
			wantPos: 3_000_000, wantSeeking: true, wantObserved: 1_500_000,
		},
		{
			name: "non-monotonic read adopts regression", reported: 3_000_000, raw: 1_500_000, monotonic: false,
			wantPos: 1_500_000, wantObserved: 1_500_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(0)
			m.LastReportedUs = tt.reported
			m.Seeking = tt.alreadySeeked

			pos, discont := m.Observe(tt.raw, true, tt.monotonic)

			assert.Equal(t, tt.wantPos, pos)
			assert.Equal(t, tt.wantDiscont, discont)
			assert.Equal(t, tt.wantSeeking, m.Seeking)
			assert.Equal(t, tt.wantObserved, m.LastObservedUs)
		})
	}
}

func TestModel_Observe_PausedFollowsEngineAndBuffering(t *testing.T) {
	m := New(0)

	m.Observe(0, true, true)
	assert.False(t, m.Paused)

	m.Observe(0, false, true)
	assert.True(t, m.Paused)

	m.Buffering = true
	m.Observe(0, true, true)
	assert.True(t, m.Paused, "buffering counts as paused")
}

func TestModel_Unavailable(t *testing.T) {
	t.Run("keeps the reported value after a held regression", func(t *testing.T) {
		m := New(0)
		m.LastReportedUs = 5_000
		m.LastObservedUs = 4_000
		m.Paused = false
		m.Pausing = true

		assert.Equal(t, int64(5_000), m.Unavailable())
		assert.Equal(t, int64(5_000), m.Unavailable(), "repeated reads do not drift")
		assert.Equal(t, int64(5_000), m.LastReportedUs)
		assert.True(t, m.Paused)
		assert.False(t, m.Pausing)
		assert.True(t, m.Refresh)
	})

	t.Run("then a cache hit returns the same value", func(t *testing.T) {
		m := New(0)
		m.LastReportedUs = 7_000
		m.Unavailable()

		pos, ok := m.Cached(false)
		assert.True(t, ok)
		assert.Equal(t, int64(7_000), pos)
	})
}

func TestModel_Resume(t *testing.T) {
	m := New(0)

	assert.True(t, m.Resume(false), "leaving stopped is announced as a seek")
	assert.True(t, m.Seeking)
	assert.False(t, m.Stopped)

	m.Seeking = false
	assert.False(t, m.Resume(true))
	assert.True(t, m.Paused)
	assert.True(t, m.Pausing)

	assert.False(t, m.Resume(false))
	assert.False(t, m.Paused)
}

func TestModel_StopAndReset(t *testing.T) {
	m := New(2_000_000)
	m.Paused = false
	m.Stopped = false
	m.Seeking = true
	m.Buffering = true
	m.LastReportedUs = 99

	m.Stop()
	assert.True(t, m.Paused)
	assert.True(t, m.Stopped)
	assert.False(t, m.Seeking)
	assert.False(t, m.Buffering)
	assert.Equal(t, int64(99), m.LastReportedUs)

	m.Reset()
	assert.Equal(t, int64(0), m.LastReportedUs)
	assert.Equal(t, int64(2_000_000), m.SeekThresholdUs)
}
