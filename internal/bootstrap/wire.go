package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"liveassist/internal/capture"
	"liveassist/internal/config"
	"liveassist/internal/host"
	"liveassist/internal/log"
	"liveassist/internal/media"
	"liveassist/internal/ports"
	"liveassist/internal/session"
	"liveassist/internal/transport"
)

// Platform carries the host capabilities the runtime cannot work without.
type Platform struct {
	Media ports.MediaDevices
	Host  ports.HostSources
}

// Services is the assembled runtime graph.
type Services struct {
	Coordinator *session.Coordinator
	Config      config.Config
	BackendURL  string
}

// DefaultPlatform builds the ffmpeg and X11 backed capabilities.
func DefaultPlatform(cfg config.Config) Platform {
	mediaLog := log.WithComponent("media")
	hostLog := log.WithComponent("host")
	return Platform{
		Media: media.NewFFmpegDevices(media.Config{
			FFmpegCommand:    cfg.Capture.FFmpegCommand,
			PactlCommand:     cfg.Capture.PactlCommand,
			AudioInputFormat: cfg.Capture.AudioInputFormat,
			VideoInputFormat: cfg.Capture.VideoInputFormat,
			Display:          cfg.Capture.Display,
			FrameRate:        cfg.Capture.FrameRate,
			Logger:           &mediaLog,
		}),
		Host: host.NewProvider(host.Config{
			XrandrCommand: cfg.Host.XrandrCommand,
			WmctrlCommand: cfg.Host.WmctrlCommand,
			Port:          cfg.Backend.Port,
			Logger:        &hostLog,
		}),
	}
}

// Build wires the coordinator and its collaborators. A missing capability
// is a construction error.
func Build(ctx context.Context, cfg config.Config, platform Platform) (Services, error) {
	if platform.Media == nil {
		return Services{}, errors.New("bootstrap: media devices are required")
	}
	if platform.Host == nil {
		return Services{}, errors.New("bootstrap: host sources are required")
	}
	if err := cfg.Validate(); err != nil {
		return Services{}, fmt.Errorf("bootstrap: invalid config: %w", err)
	}

	formats, err := capture.ResolveFormats(cfg.Capture.Formats)
	if err != nil {
		return Services{}, fmt.Errorf("bootstrap: %w", err)
	}

	backendURL := cfg.BackendURL(platform.Host.BackendPort(ctx))

	transportLog := log.WithComponent("transport")
	captureLog := log.WithComponent("capture")
	sessionLog := log.WithComponent("session")

	channel := transport.NewChannel(transport.Config{
		URL:         backendURL,
		Token:       cfg.Backend.Token,
		DialTimeout: cfg.Backend.DialTimeout,
		Logger:      &transportLog,
	})
	controller := capture.NewController(platform.Media, platform.Host, capture.Config{
		Interval: cfg.Capture.ChunkInterval,
		Formats:  formats,
		Logger:   &captureLog,
	})
	coordinator := session.NewCoordinator(channel, controller, session.Config{
		SystemPrompt: cfg.Backend.SystemPrompt,
		Logger:       &sessionLog,
	})

	return Services{Coordinator: coordinator, Config: cfg, BackendURL: backendURL}, nil
}
