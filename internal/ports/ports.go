package ports

import (
	"context"
	"io"

	"liveassist/internal/domain"
)

// TransportObserver receives transport events in the order the connection
// produced them. Implementations must not block.
type TransportObserver interface {
	StatusChanged(status domain.ConnectionStatus, err error)
	FrameReceived(frame domain.Frame)
}

// Transport is the single backend connection.
type Transport interface {
	SetObserver(observer TransportObserver)
	Connect()
	Disconnect()
	SendText(payload []byte) error
	SendBinary(payload []byte) error
	Status() domain.ConnectionStatus
}

// ChunkFunc receives one encoded media chunk.
type ChunkFunc func(chunk []byte)

// CaptureErrorFunc is invoked after a running capture has torn itself down.
type CaptureErrorFunc func(err error)

// Capture is the audio/video acquisition controller.
type Capture interface {
	EnumerateSources(ctx context.Context) (domain.Sources, error)
	Start(ctx context.Context, audioID, videoID string, onChunk ChunkFunc, onError CaptureErrorFunc) error
	Stop()
	Active() bool
}

// TrackKind distinguishes audio and video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one acquired input bound to a source id.
type Track interface {
	Kind() TrackKind
	SourceID() string
	Release() error
}

// EncodingFormat is one candidate container/codec combination.
type EncodingFormat struct {
	MimeType   string
	Container  string
	AudioCodec string
	VideoCodec string
}

// Recorder is a running encoder producing a byte stream.
type Recorder interface {
	io.Reader
	Stop() error
}

// MediaDevices is the platform media layer the capture controller drives.
type MediaDevices interface {
	ListAudioInputs(ctx context.Context) ([]domain.SourceDescriptor, error)
	Acquire(ctx context.Context, kind TrackKind, sourceID string) (Track, error)
	Supports(ctx context.Context, format EncodingFormat) bool
	// Record starts an encoder. ctx bounds startup, not the recorder's life.
	Record(ctx context.Context, tracks []Track, format EncodingFormat) (Recorder, error)
}

// HostSources is the host process capability for desktop sources and backend
// endpoint discovery. Both calls degrade to safe defaults instead of failing.
type HostSources interface {
	ListDesktopSources(ctx context.Context) []domain.SourceDescriptor
	BackendPort(ctx context.Context) string
}

// SnapshotSink emits coordinator state to a presentation adapter.
type SnapshotSink interface {
	SnapshotChanged(snapshot domain.Snapshot)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}
