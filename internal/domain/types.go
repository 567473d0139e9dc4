package domain

import "time"

// SessionState models the coordinator lifecycle.
type SessionState string

const (
	SessionStateIdle                 SessionState = "idle"
	SessionStateConnecting           SessionState = "connecting"
	SessionStateAwaitingCaptureStart SessionState = "awaiting_capture_start"
	SessionStateActive               SessionState = "active"
	SessionStateStopping             SessionState = "stopping"
	SessionStateFailed               SessionState = "failed"
)

// ConnectionStatus is the transport channel state.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
)

// Sender tags who authored a chat message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is an immutable chat log entry.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// SourceDescriptor identifies a selectable audio or video source.
type SourceDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SourcePair is the audio/video selection a session starts from.
type SourcePair struct {
	AudioID string `json:"audioId"`
	VideoID string `json:"videoId"`
}

// Complete reports whether both ids are set.
func (p SourcePair) Complete() bool {
	return p.AudioID != "" && p.VideoID != ""
}

// Sources is one enumeration result.
type Sources struct {
	Audio []SourceDescriptor `json:"audio"`
	Video []SourceDescriptor `json:"video"`
}

// FrameKind classifies an inbound backend frame.
type FrameKind string

const (
	FrameTextResponse   FrameKind = "text_response"
	FrameError          FrameKind = "error"
	FrameSessionStarted FrameKind = "session_started"
	FrameSessionStopped FrameKind = "session_stopped"
	FrameUnrecognized   FrameKind = "unrecognized"
	FrameMalformed      FrameKind = "malformed"
	FrameBinary         FrameKind = "binary"
)

// Frame is a decoded inbound message.
type Frame struct {
	Kind    FrameKind
	Content string
	Raw     string
	Err     error
}

// Errors holds the current user-visible error of each subsystem.
type Errors struct {
	Connection string `json:"connection,omitempty"`
	Capture    string `json:"capture,omitempty"`
	Backend    string `json:"backend,omitempty"`
}

// Snapshot is the immutable view handed to presentation adapters.
type Snapshot struct {
	State            SessionState       `json:"state"`
	ConnectionStatus ConnectionStatus   `json:"connectionStatus"`
	Capturing        bool               `json:"capturing"`
	Errors           Errors             `json:"errors"`
	Messages         []Message          `json:"messages"`
	AudioSources     []SourceDescriptor `json:"audioSources"`
	VideoSources     []SourceDescriptor `json:"videoSources"`
	Selected         SourcePair         `json:"selected"`
	AwaitingResponse bool               `json:"awaitingResponse"`
	LoadingSources   bool               `json:"loadingSources"`
}
