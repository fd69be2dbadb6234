package local

import (
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Output is the audio sink the engine streams into
type Output interface {
	// Init prepares the sink for rate and returns the rate it actually runs at.
	Init(rate beep.SampleRate) (beep.SampleRate, error)
	Play(s beep.Streamer)
	Clear()

	// Lock and Unlock guard streamers that are currently being played
	Lock()
	Unlock()
}

// Speaker plays through the system audio device. The device can be
// initialized only once per process, so the first track fixes the rate.
type Speaker struct {
	once    sync.Once
	rate    beep.SampleRate
	initErr error
}

func (s *Speaker) Init(rate beep.SampleRate) (beep.SampleRate, error) {
	s.once.Do(func() {
		s.rate = rate
		s.initErr = speaker.Init(rate, rate.N(time.Second/10))
	})
	return s.rate, s.initErr
}

func (s *Speaker) Play(st beep.Streamer) {
	speaker.Play(st)
}

func (s *Speaker) Clear() {
	speaker.Clear()
}

func (s *Speaker) Lock() {
	speaker.Lock()
}

func (s *Speaker) Unlock() {
	speaker.Unlock()
}
