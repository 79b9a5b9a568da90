package voxbooth

import "time"

// SampleFormat identifies the sample encoding carried through the engine.
type SampleFormat uint32

const (
	FormatUnknown SampleFormat = iota
	FormatFloat32
	FormatInt16
	FormatInt24
)

func (f SampleFormat) String() string {
	switch f {
	case FormatFloat32:
		return "float32"
	case FormatInt16:
		return "int16"
	case FormatInt24:
		return "int24"
	default:
		return "unknown"
	}
}

// ParseSampleFormat maps a format name to a SampleFormat.
func ParseSampleFormat(s string) SampleFormat {
	switch s {
	case "float32", "pcm_f32le":
		return FormatFloat32
	case "int16", "pcm_s16le":
		return FormatInt16
	case "int24", "pcm_s24le":
		return FormatInt24
	default:
		return FormatUnknown
	}
}

// RecordingStatus is the capture-side status word in shared state.
type RecordingStatus uint32

const (
	RecordingInvalid RecordingStatus = iota
	RecordingStopped
	RecordingActive
)

func (s RecordingStatus) String() string {
	switch s {
	case RecordingStopped:
		return "stopped"
	case RecordingActive:
		return "recording"
	default:
		return "uninitialized"
	}
}

// PlaybackStatus is the playback-side status word in shared state.
//
// Finishing and Completed are distinct terminal signals: Finishing fires
// one callback block before the buffer is exhausted so a consumer has a
// full callback period to prepare the end-of-playback transition;
// Completed fires when the cursor actually reaches the end.
type PlaybackStatus uint32

const (
	PlaybackInvalid PlaybackStatus = iota
	PlaybackIdle
	PlaybackPlaying
	PlaybackFinishing
	PlaybackCompleted
)

func (s PlaybackStatus) String() string {
	switch s {
	case PlaybackIdle:
		return "idle"
	case PlaybackPlaying:
		return "playing"
	case PlaybackFinishing:
		return "finishing"
	case PlaybackCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// AudioSettings is the session-wide audio format group. Written once by
// the orchestrator at startup or on a session/config change; read by both
// engines before opening a stream.
type AudioSettings struct {
	Valid      bool
	SampleRate int
	BitDepth   int
	Channels   int
	Format     SampleFormat
}

// RecordingSnapshot is one read of the capture field group.
type RecordingSnapshot struct {
	Valid          bool
	Status         RecordingStatus
	SamplePosition uint64
	ADCTime        float64
}

// PlaybackSnapshot is one read of the playback field group.
type PlaybackSnapshot struct {
	Valid          bool
	Status         PlaybackStatus
	SamplePosition uint64
	TotalSamples   uint64
	DACTime        float64
}

// LevelSnapshot is one read of the level-meter field group. FrameCount is
// the sole freshness signal: two reads observing the same FrameCount carry
// no new data.
type LevelSnapshot struct {
	Valid      bool
	RMSDB      float64
	PeakDB     float64
	PeakHoldDB float64
	FrameCount uint64
}

// ChannelMapping selects physical device channels. For capture it is an
// ordered list of channel indices to record; for playback routing a
// single-element mapping names the physical output channel to write.
type ChannelMapping []int

// Command is one control-channel message to a worker. Commands are the
// only path by which the orchestrator reconfigures a running engine.
type Command struct {
	Action         string          `json:"action"`
	Index          *int            `json:"index,omitempty"`
	Mapping        []int           `json:"mapping,omitempty"`
	BufferMetadata *BufferMetadata `json:"buffer_metadata,omitempty"`
	SampleRate     int             `json:"sample_rate,omitempty"`
}

// Worker command actions.
const (
	ActionStart            = "start"
	ActionStop             = "stop"
	ActionPlay             = "play"
	ActionQuit             = "quit"
	ActionSetInputDevice   = "set_input_device"
	ActionSetOutputDevice  = "set_output_device"
	ActionSetInputMapping  = "set_input_channel_mapping"
	ActionSetOutputMapping = "set_output_channel_mapping"
)

// WorkerEvent is one status line emitted by a worker on stdout.
type WorkerEvent struct {
	Event  string          `json:"event"`
	Buffer *BufferMetadata `json:"buffer,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Worker event names.
const (
	EventReady   = "ready"
	EventStopped = "stopped"
	EventError   = "error"
)

// VoxError is a code-tagged error with optional detail fields.
type VoxError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
}

func (e *VoxError) Error() string {
	return e.Message
}

// NewVoxError creates a code-tagged error.
func NewVoxError(message, code string) *VoxError {
	return &VoxError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// AddDetail attaches a detail field and returns the error for chaining.
func (e *VoxError) AddDetail(key string, value interface{}) *VoxError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
