package domain

import "fmt"

// State represents the lifecycle phase of a playback session
type State int

const (
	// StateIdle is the state of a fresh or reset session
	StateIdle State = iota
	// StateInitialized means a data source has been set
	StateInitialized
	// StatePreparing means an asynchronous prepare is in flight
	StatePreparing
	// StatePrepared means the engine is ready to start
	StatePrepared
	// StateStarted means playback is running
	StateStarted
	// StatePaused means playback is paused
	StatePaused
	// StateStopped means playback is stopped and needs a new prepare
	StateStopped
	// StatePlaybackCompleted means the end of the media was reached
	StatePlaybackCompleted
	// StateError is entered on engine errors and illegal calls
	StateError
	// StateEnd is terminal: the session was released
	StateEnd
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitialized:
		return "Initialized"
	case StatePreparing:
		return "Preparing"
	case StatePrepared:
		return "Prepared"
	case StateStarted:
		return "Started"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	case StatePlaybackCompleted:
		return "PlaybackCompleted"
	case StateError:
		return "Error"
	case StateEnd:
		return "End"
	default:
		return "Unknown"
	}
}

// In reports whether s is one of states.
func (s State) In(states ...State) bool {
	for _, candidate := range states {
		if s == candidate {
			return true
		}
	}
	return false
}

// SeekMode selects how the engine resolves a seek target to a frame
type SeekMode int

const (
	SeekPreviousSync SeekMode = iota
	SeekNextSync
	SeekClosestSync
	SeekClosest
)

// Valid reports whether m is a known seek mode.
func (m SeekMode) Valid() bool {
	return m >= SeekPreviousSync && m <= SeekClosest
}

// StreamType is the audio stream category requested for playback
type StreamType int

const (
	StreamDefault StreamType = iota - 1
	StreamVoiceCall
	StreamSystem
	StreamRing
	StreamMusic
	StreamAlarm
	StreamNotification
)

// EventKind tags the variant carried by an Event
type EventKind int

const (
	EventPrepared EventKind = iota + 1
	EventStarted
	EventPaused
	EventStopped
	EventSeekComplete
	EventBufferingStart
	EventBufferingEnd
	EventBufferingUpdate
	EventPlaybackComplete
	EventError
	EventInfo
	EventVideoSizeChanged
	EventTimedMetadata
	EventNotifyTime
)

var eventKindNames = map[EventKind]string{
	EventPrepared:         "Prepared",
	EventStarted:          "Started",
	EventPaused:           "Paused",
	EventStopped:          "Stopped",
	EventSeekComplete:     "SeekComplete",
	EventBufferingStart:   "BufferingStart",
	EventBufferingEnd:     "BufferingEnd",
	EventBufferingUpdate:  "BufferingUpdate",
	EventPlaybackComplete: "PlaybackComplete",
	EventError:            "Error",
	EventInfo:             "Info",
	EventVideoSizeChanged: "VideoSizeChanged",
	EventTimedMetadata:    "TimedMetadata",
	EventNotifyTime:       "NotifyTime",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Error codes reported in EventError
const (
	ErrorUnknown     = 1
	ErrorServerDied  = 100
	ErrorIO          = -1004
	ErrorMalformed   = -1007
	ErrorUnsupported = -1010
	ErrorTimedOut    = -110
)

// Info codes reported in EventInfo
const (
	InfoUnknown             = 1
	InfoStartedAsNext       = 2
	InfoVideoRenderingStart = 3
	InfoVideoTrackLagging   = 700
	InfoBufferingStart      = 701
	InfoBufferingEnd        = 702
	InfoNotSeekable         = 801
	InfoMetadataUpdate      = 802
)

// Event is a single notification produced by an Engine.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// Code and Extra for EventError and EventInfo
	Code  int
	Extra int

	// Percent for EventBufferingUpdate
	Percent int

	// Width and Height for EventVideoSizeChanged
	Width  int
	Height int

	// Payload and TimeUs for EventTimedMetadata
	Payload []byte
	TimeUs  int64
}

// String renders the event for logs.
func (e Event) String() string {
	switch e.Kind {
	case EventError, EventInfo:
		return fmt.Sprintf("%s(%d,%d)", e.Kind, e.Code, e.Extra)
	case EventBufferingUpdate:
		return fmt.Sprintf("%s(%d%%)", e.Kind, e.Percent)
	case EventVideoSizeChanged:
		return fmt.Sprintf("%s(%dx%d)", e.Kind, e.Width, e.Height)
	case EventTimedMetadata:
		return fmt.Sprintf("%s(%d bytes @%dus)", e.Kind, len(e.Payload), e.TimeUs)
	default:
		return e.Kind.String()
	}
}

// ErrorEvent builds an EventError.
func ErrorEvent(code, extra int) Event {
	return Event{Kind: EventError, Code: code, Extra: extra}
}

// InfoEvent builds an EventInfo.
func InfoEvent(code, extra int) Event {
	return Event{Kind: EventInfo, Code: code, Extra: extra}
}
