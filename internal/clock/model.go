// Package clock holds the media clock model: the last raw position read from the
// engine, the corrected position handed to listeners, and the flags that decide
// whether a fresh engine read is needed.
package clock

// DefaultSeekThresholdUs is the position regression treated as an implicit seek
const DefaultSeekThresholdUs int64 = 1_000_000

// Model is a pure value; it has no locking of its own and is owned by the scheduler.
type Model struct {
	// LastObservedUs is the raw, possibly stale reading from the engine
	LastObservedUs int64
	// LastReportedUs is the corrected value handed to listeners
	LastReportedUs int64

	Paused    bool
	Stopped   bool
	Buffering bool
	Seeking   bool

	// Pausing is set when a pause was requested while the engine may already be gone
	Pausing bool
	// Refresh is set when the engine could not report a position
	Refresh bool

	SeekThresholdUs int64
}

// New returns a model in the stopped state.
func New(seekThresholdUs int64) *Model {
	if seekThresholdUs <= 0 {
		seekThresholdUs = DefaultSeekThresholdUs
	}
	return &Model{
		Paused:          true,
		Stopped:         true,
		SeekThresholdUs: seekThresholdUs,
	}
}

// Cached returns the last reported position when no engine read is needed.
func (m *Model) Cached(refresh bool) (int64, bool) {
	if m.Paused && !refresh {
		return m.LastReportedUs, true
	}
	return 0, false
}

// Observe folds a raw engine reading into the model and returns the corrected position.
// discontinuity is true when a monotonic read regressed by more than the seek threshold;
// the caller must then run a seek notification cycle.
func (m *Model) Observe(rawUs int64, playing, monotonic bool) (posUs int64, discontinuity bool) {
	m.LastObservedUs = rawUs
	m.Paused = !playing || m.Buffering

	if monotonic && rawUs < m.LastReportedUs {
		if m.LastReportedUs-rawUs > m.SeekThresholdUs && !m.Seeking {
			m.Stopped = false
			m.Seeking = true
			discontinuity = true
		}
		return m.LastReportedUs, discontinuity
	}

	m.LastReportedUs = rawUs
	return m.LastReportedUs, false
}

// Unavailable handles an engine that cannot report a position: the clock is
// treated as paused and the last reported value is returned unchanged, even when
// a held regression left LastObservedUs below it.
func (m *Model) Unavailable() int64 {
	m.Pausing = false
	m.Paused = true
	m.Refresh = true
	return m.LastReportedUs
}

// Stop marks the clock stopped and paused.
func (m *Model) Stop() {
	m.Paused = true
	m.Stopped = true
	m.Seeking = false
	m.Buffering = false
}

// Resume records a start or pause transition. It returns true when the clock was
// stopped, in which case the transition must be announced as a seek.
func (m *Model) Resume(paused bool) (seek bool) {
	if m.Stopped {
		m.Stopped = false
		m.Seeking = true
		return true
	}
	m.Pausing = paused
	m.Paused = paused
	m.Seeking = false
	return false
}

// BeginSeek marks a seek in flight; timed notifications are suppressed until it completes.
func (m *Model) BeginSeek() {
	m.Stopped = false
	m.Seeking = true
}

// Reset returns the model to its initial stopped state, keeping the threshold.
func (m *Model) Reset() {
	*m = Model{Paused: true, Stopped: true, SeekThresholdUs: m.SeekThresholdUs}
}
