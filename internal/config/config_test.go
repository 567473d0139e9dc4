package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnv = []string{
	FileEnv,
	"LIVEASSIST_BACKEND_URL",
	"LIVEASSIST_BACKEND_PORT",
	"LIVEASSIST_API_TOKEN",
	"LIVEASSIST_SYSTEM_PROMPT",
	"LIVEASSIST_DIAL_TIMEOUT_MS",
	"LIVEASSIST_FFMPEG_COMMAND",
	"LIVEASSIST_PACTL_COMMAND",
	"LIVEASSIST_AUDIO_INPUT_FORMAT",
	"LIVEASSIST_VIDEO_INPUT_FORMAT",
	"LIVEASSIST_DISPLAY",
	"LIVEASSIST_FRAME_RATE",
	"LIVEASSIST_CHUNK_INTERVAL_MS",
	"LIVEASSIST_FORMATS",
	"LIVEASSIST_XRANDR_COMMAND",
	"LIVEASSIST_WMCTRL_COMMAND",
	"LIVEASSIST_LOG_CONSOLE",
	"LIVEASSIST_DEBUG_ADDR",
	"LOG_LEVEL",
	"DISPLAY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend.URL != "" {
		t.Fatalf("expected no explicit url, got %q", cfg.Backend.URL)
	}
	if cfg.Backend.DialTimeout != 0 {
		t.Fatalf("expected no dial timeout by default, got %s", cfg.Backend.DialTimeout)
	}
	if cfg.Backend.SystemPrompt != DefaultSystemPrompt {
		t.Fatalf("unexpected prompt %q", cfg.Backend.SystemPrompt)
	}
	if cfg.Capture.ChunkInterval != time.Second {
		t.Fatalf("expected 1s chunks, got %s", cfg.Capture.ChunkInterval)
	}
	if cfg.Capture.FFmpegCommand != "ffmpeg" || cfg.Capture.AudioInputFormat != "pulse" || cfg.Capture.VideoInputFormat != "x11grab" {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.Capture.Display != ":0" {
		t.Fatalf("expected :0 display, got %q", cfg.Capture.Display)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info level, got %q", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if got := cfg.BackendURL("8080"); got != "ws://localhost:8080" {
		t.Fatalf("unexpected assembled url %q", got)
	}
}

func TestLoadRespectsOverridesAndFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIVEASSIST_BACKEND_URL", "wss://assist.example.com/ws")
	t.Setenv("LIVEASSIST_API_TOKEN", "test-token")
	t.Setenv("LIVEASSIST_SYSTEM_PROMPT", "be brief")
	t.Setenv("LIVEASSIST_DIAL_TIMEOUT_MS", "1500")
	t.Setenv("LIVEASSIST_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("LIVEASSIST_CHUNK_INTERVAL_MS", "not-a-number")
	t.Setenv("LIVEASSIST_FRAME_RATE", "-3")
	t.Setenv("LIVEASSIST_FORMATS", "video/webm;codecs=vp8,opus | video/x-matroska")
	t.Setenv("LIVEASSIST_LOG_CONSOLE", "yes")
	t.Setenv("DISPLAY", ":2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend.URL != "wss://assist.example.com/ws" || cfg.BackendURL("9999") != cfg.Backend.URL {
		t.Fatalf("unexpected url %q", cfg.Backend.URL)
	}
	if cfg.Backend.Token != "test-token" || cfg.Backend.SystemPrompt != "be brief" {
		t.Fatalf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.Backend.DialTimeout != 1500*time.Millisecond {
		t.Fatalf("unexpected dial timeout %s", cfg.Backend.DialTimeout)
	}
	if cfg.Capture.FFmpegCommand != "my-ffmpeg" {
		t.Fatalf("unexpected ffmpeg command %q", cfg.Capture.FFmpegCommand)
	}
	if cfg.Capture.ChunkInterval != time.Second {
		t.Fatalf("invalid interval should fall back, got %s", cfg.Capture.ChunkInterval)
	}
	if cfg.Capture.FrameRate != 5 {
		t.Fatalf("negative frame rate should fall back, got %d", cfg.Capture.FrameRate)
	}
	if len(cfg.Capture.Formats) != 2 || cfg.Capture.Formats[0] != "video/webm;codecs=vp8,opus" {
		t.Fatalf("unexpected formats %q", cfg.Capture.Formats)
	}
	if !cfg.Log.Console {
		t.Fatalf("expected console logging")
	}
	if cfg.Capture.Display != ":2" {
		t.Fatalf("expected DISPLAY fallback, got %q", cfg.Capture.Display)
	}
}

func TestLoadFileUnderEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "liveassist.yaml")
	contents := `backend:
  port: "9100"
  system_prompt: from file
  dial_timeout_ms: 2000
capture:
  chunk_interval_ms: 500
  formats:
    - video/x-matroska
log:
  level: debug
  console: true
debug:
  listen_addr: 127.0.0.1:9300
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend.Port != "9100" || cfg.Backend.SystemPrompt != "from file" {
		t.Fatalf("file values not applied: %+v", cfg.Backend)
	}
	if cfg.Backend.DialTimeout != 2*time.Second || cfg.Capture.ChunkInterval != 500*time.Millisecond {
		t.Fatalf("unexpected durations: %s %s", cfg.Backend.DialTimeout, cfg.Capture.ChunkInterval)
	}
	if len(cfg.Capture.Formats) != 1 || cfg.Capture.Formats[0] != "video/x-matroska" {
		t.Fatalf("unexpected formats %q", cfg.Capture.Formats)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env must override file, got %q", cfg.Log.Level)
	}
	if !cfg.Log.Console || cfg.Debug.ListenAddr != "127.0.0.1:9300" {
		t.Fatalf("unexpected log/debug config: %+v %+v", cfg.Log, cfg.Debug)
	}
	if got := cfg.BackendURL(cfg.Backend.Port); got != "ws://localhost:9100" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "liveassist.yml")
	if err := os.WriteFile(path, []byte("backend:\n  endpoint: ws://x\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv(FileEnv, path)

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "strict config parse error") {
		t.Fatalf("expected strict parse error, got %v", err)
	}

	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "liveassist.json"))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "only YAML supported") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Backend: BackendConfig{URL: "http://example.com", Port: "70000", SystemPrompt: " "},
		Capture: CaptureConfig{ChunkInterval: 10 * time.Millisecond},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"ws:// or wss://", "port", "system prompt", "ffmpeg command", "chunk interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
