package bootstrap

import (
	"context"
	"strings"
	"testing"
	"time"

	"liveassist/internal/config"
	"liveassist/internal/domain"
	"liveassist/internal/ports"
)

func validConfig() config.Config {
	return config.Config{
		Backend: config.BackendConfig{SystemPrompt: "be helpful"},
		Capture: config.CaptureConfig{FFmpegCommand: "ffmpeg", ChunkInterval: time.Second},
	}
}

func TestBuildSuccess(t *testing.T) {
	t.Parallel()

	services, err := Build(context.Background(), validConfig(), Platform{Media: noopMedia{}, Host: fixedHost{port: "9001"}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Coordinator == nil {
		t.Fatalf("expected coordinator")
	}
	if services.BackendURL != "ws://localhost:9001" {
		t.Fatalf("unexpected backend url %q", services.BackendURL)
	}
	if state := services.Coordinator.Snapshot().State; state != domain.SessionStateIdle {
		t.Fatalf("expected idle coordinator, got %s", state)
	}
}

func TestBuildPrefersExplicitURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Backend.URL = "wss://assist.example.com/ws"
	services, err := Build(context.Background(), cfg, Platform{Media: noopMedia{}, Host: fixedHost{port: "9001"}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.BackendURL != cfg.Backend.URL {
		t.Fatalf("unexpected backend url %q", services.BackendURL)
	}
}

func TestBuildRejectsMissingCapabilities(t *testing.T) {
	t.Parallel()

	if _, err := Build(context.Background(), validConfig(), Platform{Host: fixedHost{}}); err == nil {
		t.Fatalf("expected error for missing media devices")
	}
	if _, err := Build(context.Background(), validConfig(), Platform{Media: noopMedia{}}); err == nil {
		t.Fatalf("expected error for missing host sources")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Backend.SystemPrompt = ""
	if _, err := Build(context.Background(), cfg, Platform{Media: noopMedia{}, Host: fixedHost{}}); err == nil {
		t.Fatalf("expected config validation error")
	}

	cfg = validConfig()
	cfg.Capture.Formats = []string{"audio/ogg"}
	_, err := Build(context.Background(), cfg, Platform{Media: noopMedia{}, Host: fixedHost{}})
	if err == nil || !strings.Contains(err.Error(), "audio/ogg") {
		t.Fatalf("expected unknown format error, got %v", err)
	}
}

func TestDefaultPlatformIsComplete(t *testing.T) {
	t.Parallel()

	platform := DefaultPlatform(validConfig())
	if platform.Media == nil || platform.Host == nil {
		t.Fatalf("expected both capabilities, got %+v", platform)
	}
}

type noopMedia struct{}

func (noopMedia) ListAudioInputs(context.Context) ([]domain.SourceDescriptor, error) {
	return nil, nil
}

func (noopMedia) Acquire(context.Context, ports.TrackKind, string) (ports.Track, error) {
	return nil, domain.Errorf(domain.ErrorKindCapture, "not available")
}

func (noopMedia) Supports(context.Context, ports.EncodingFormat) bool { return false }

func (noopMedia) Record(context.Context, []ports.Track, ports.EncodingFormat) (ports.Recorder, error) {
	return nil, domain.Errorf(domain.ErrorKindCapture, "not available")
}

type fixedHost struct {
	port string
}

func (fixedHost) ListDesktopSources(context.Context) []domain.SourceDescriptor { return nil }

func (h fixedHost) BackendPort(context.Context) string {
	if h.port == "" {
		return "8080"
	}
	return h.port
}
