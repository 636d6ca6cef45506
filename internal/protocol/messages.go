// Package protocol defines the NATS subjects and JSON payloads of the
// daemon's request/reply surface. Every request carries a caller identity so
// the governor can attribute usage; every reply carries either a result or a
// machine-readable error code.
package protocol

import "time"

const (
	SubjectSpeak       = "voice.output.speak"
	SubjectSpeakDevice = "voice.output.speak_device"
	SubjectPlay        = "voice.output.play"
	SubjectStop        = "voice.output.stop"
	SubjectVolume      = "voice.output.volume"
	SubjectChannels    = "voice.output.channels"
	SubjectSinks       = "voice.output.sinks"
	SubjectDefaultSink = "voice.output.default_sink"
	SubjectVoices      = "voice.output.voices"
	SubjectListen      = "voice.input.listen"
	SubjectThink       = "voice.reason.think"
	SubjectTimerSet    = "voice.timer.set"
	SubjectTimerCancel = "voice.timer.cancel"
	SubjectTimerList   = "voice.timer.list"
	SubjectStatus      = "voice.status"
)

// Error codes surfaced to bus callers. These mirror the sentinel errors in
// the fault package.
const (
	ErrCodeBackendUnavailable = "backend_unavailable"
	ErrCodeBackendTimeout     = "backend_timeout"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeResourceExhausted  = "resource_exhausted"
	ErrCodeInvalidTarget      = "invalid_target"
	ErrCodeNoSpeech           = "no_speech_detected"
	ErrCodeMalformedInput     = "malformed_input"
	ErrCodeCaptureBusy        = "capture_busy"
	ErrCodeInternal           = "internal"
)

// SpeakRequest asks the output actor to synthesize and play text on a
// channel target. Blocking selects whether the reply waits for playback.
type SpeakRequest struct {
	RequestID string `json:"request_id"`
	CallerID  string `json:"caller_id"`
	Text      string `json:"text"`
	Target    string `json:"target,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Blocking  bool   `json:"blocking,omitempty"`
}

type SpeakDeviceRequest struct {
	RequestID string `json:"request_id"`
	CallerID  string `json:"caller_id"`
	Text      string `json:"text"`
	SinkID    string `json:"sink_id"`
	Voice     string `json:"voice,omitempty"`
}

type PlayRequest struct {
	RequestID string `json:"request_id"`
	CallerID  string `json:"caller_id"`
	URL       string `json:"url"`
	Target    string `json:"target,omitempty"`
	Blocking  bool   `json:"blocking,omitempty"`
}

type StopRequest struct {
	RequestID string `json:"request_id"`
	CallerID  string `json:"caller_id"`
	Target    string `json:"target,omitempty"`
}

type VolumeRequest struct {
	RequestID string  `json:"request_id"`
	CallerID  string  `json:"caller_id"`
	Level     float64 `json:"level"`
}

type ListenRequest struct {
	RequestID string `json:"request_id"`
	CallerID  string `json:"caller_id"`

	// DurationMS selects fixed-length capture with no endpoint detection.
	// Zero means endpoint-detected capture.
	DurationMS int `json:"duration_ms,omitempty"`

	// Zero values fall back to the configured VAD parameters.
	SpeechThreshold   int `json:"speech_threshold,omitempty"`
	SilenceThreshold  int `json:"silence_threshold,omitempty"`
	SilenceDurationMS int `json:"silence_duration_ms,omitempty"`
	MaxDurationMS     int `json:"max_duration_ms,omitempty"`
}

type ListenReply struct {
	RequestID  string  `json:"request_id"`
	Transcript string  `json:"transcript"`
	Corrected  bool    `json:"corrected,omitempty"`
	DurationMS int64   `json:"duration_ms"`
	TimedOut   bool    `json:"timed_out,omitempty"`
	Error      string  `json:"error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type ThinkRequest struct {
	RequestID string `json:"request_id"`
	CallerID  string `json:"caller_id"`
	Prompt    string `json:"prompt"`

	// Speak pipelines completed sentences to the output actor as they
	// arrive instead of returning only the final text.
	Speak  bool   `json:"speak,omitempty"`
	Target string `json:"target,omitempty"`
}

type ThinkReply struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Ack is the generic reply for operations whose result is success/failure.
type Ack struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// StopReply reports whether any playback was actually interrupted.
type StopReply struct {
	RequestID string `json:"request_id"`
	Stopped   bool   `json:"stopped"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

type ChannelInfo struct {
	Name     string `json:"name"`
	Surround bool   `json:"surround"`
}

type ChannelsReply struct {
	RequestID string        `json:"request_id"`
	Channels  []ChannelInfo `json:"channels"`
	Error     string        `json:"error,omitempty"`
	ErrorCode string        `json:"error_code,omitempty"`
}

type SinkInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

type SinksReply struct {
	RequestID string     `json:"request_id"`
	Sinks     []SinkInfo `json:"sinks"`
	Error     string     `json:"error,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
}

type DefaultSinkReply struct {
	RequestID string   `json:"request_id"`
	Sink      SinkInfo `json:"sink"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
}

type VoicesReply struct {
	RequestID string   `json:"request_id"`
	Voices    []string `json:"voices"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
}

// TimerSetRequest schedules a spoken reminder. The message is read back to
// the user when the timer fires.
type TimerSetRequest struct {
	RequestID  string `json:"request_id"`
	CallerID   string `json:"caller_id"`
	DurationMS int    `json:"duration_ms"`
	Message    string `json:"message"`
}

type TimerSetReply struct {
	RequestID string    `json:"request_id"`
	TimerID   string    `json:"timer_id"`
	FiresAt   time.Time `json:"fires_at"`
	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
}

type TimerCancelRequest struct {
	RequestID string `json:"request_id"`
	CallerID  string `json:"caller_id"`
	TimerID   string `json:"timer_id"`
}

// TimerCancelReply reports whether a pending timer was actually removed.
type TimerCancelReply struct {
	RequestID string `json:"request_id"`
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

type TimerInfo struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	FiresAt time.Time `json:"fires_at"`
}

type TimerListReply struct {
	RequestID string      `json:"request_id"`
	Timers    []TimerInfo `json:"timers"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

type StatusRequest struct {
	RequestID string `json:"request_id"`
	CallerID  string `json:"caller_id"`
}

type StatusReply struct {
	RequestID       string    `json:"request_id"`
	Healthy         bool      `json:"healthy"`
	OutputReady     bool      `json:"output_ready"`
	InputReady      bool      `json:"input_ready"`
	ReasoningReady  bool      `json:"reasoning_ready"`
	CaptureBusy     bool      `json:"capture_busy"`
	AudioBudgetUsed int64     `json:"audio_budget_used_bytes"`
	Uptime          string    `json:"uptime"`
	Timestamp       time.Time `json:"timestamp"`
}
