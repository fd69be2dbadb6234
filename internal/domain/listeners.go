package domain

// Application listeners are independent capabilities: a listener registered with the
// dispatcher receives every kind of notification whose interface it implements.

type PreparedListener interface {
	OnPrepared()
}

type CompletionListener interface {
	OnCompletion()
}

type SeekCompleteListener interface {
	OnSeekComplete()
}

type BufferingUpdateListener interface {
	OnBufferingUpdate(percent int)
}

// ErrorListener returns true when it fully handled the error; otherwise the
// error is followed by a completion notification.
type ErrorListener interface {
	OnError(code, extra int) bool
}

type InfoListener interface {
	OnInfo(code, extra int) bool
}

type VideoSizeChangedListener interface {
	OnVideoSizeChanged(width, height int)
}

type TimedMetadataListener interface {
	OnTimedMetadataAvailable(payload []byte, timeUs int64)
}

// MediaTimeListener receives media-time notifications from the time scheduler.
// Implementations are compared by identity, so use pointer receivers.
type MediaTimeListener interface {
	// OnSeek reports the corrected position after a seek or a large discontinuity
	OnSeek(timeUs int64)

	// OnStop reports that playback stopped; registrations are kept
	OnStop()

	// OnTimedEvent reports that a requested media time was reached
	OnTimedEvent(timeUs int64)
}
