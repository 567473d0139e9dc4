package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// FileEnv names an optional YAML file whose values sit under the env.
	FileEnv = "LIVEASSIST_CONFIG"

	DefaultSystemPrompt = "You are a live assistant. Watch the shared screen and listen to the user, " +
		"then answer briefly and point out anything they should act on."
)

// Config stores runtime configuration.
type Config struct {
	Backend BackendConfig
	Capture CaptureConfig
	Host    HostConfig
	Log     LogConfig
	Debug   DebugConfig
}

type BackendConfig struct {
	// URL overrides the endpoint assembled from the host port.
	URL          string
	Port         string
	Token        string
	SystemPrompt string
	DialTimeout  time.Duration
}

type CaptureConfig struct {
	FFmpegCommand    string
	PactlCommand     string
	AudioInputFormat string
	VideoInputFormat string
	Display          string
	FrameRate        int
	ChunkInterval    time.Duration
	Formats          []string
}

type HostConfig struct {
	XrandrCommand string
	WmctrlCommand string
}

type LogConfig struct {
	Level   string
	Console bool
}

type DebugConfig struct {
	// ListenAddr enables the diagnostics listener when set.
	ListenAddr string
}

type fileConfig struct {
	Backend struct {
		URL           string `yaml:"url"`
		Port          string `yaml:"port"`
		Token         string `yaml:"token"`
		SystemPrompt  string `yaml:"system_prompt"`
		DialTimeoutMS int    `yaml:"dial_timeout_ms"`
	} `yaml:"backend"`
	Capture struct {
		FFmpegCommand    string   `yaml:"ffmpeg_command"`
		PactlCommand     string   `yaml:"pactl_command"`
		AudioInputFormat string   `yaml:"audio_input_format"`
		VideoInputFormat string   `yaml:"video_input_format"`
		Display          string   `yaml:"display"`
		FrameRate        int      `yaml:"frame_rate"`
		ChunkIntervalMS  int      `yaml:"chunk_interval_ms"`
		Formats          []string `yaml:"formats"`
	} `yaml:"capture"`
	Host struct {
		XrandrCommand string `yaml:"xrandr_command"`
		WmctrlCommand string `yaml:"wmctrl_command"`
	} `yaml:"host"`
	Log struct {
		Level   string `yaml:"level"`
		Console *bool  `yaml:"console"`
	} `yaml:"log"`
	Debug struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"debug"`
}

// Load resolves configuration from an optional YAML file, environment
// variables and defaults, in increasing order of precedence.
func Load() (Config, error) {
	var file fileConfig
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
		file = *loaded
	}

	consoleDefault := false
	if file.Log.Console != nil {
		consoleDefault = *file.Log.Console
	}

	cfg := Config{
		Backend: BackendConfig{
			URL:          envOrDefault("LIVEASSIST_BACKEND_URL", file.Backend.URL),
			Port:         envOrDefault("LIVEASSIST_BACKEND_PORT", file.Backend.Port),
			Token:        envOrDefault("LIVEASSIST_API_TOKEN", file.Backend.Token),
			SystemPrompt: envOrDefault("LIVEASSIST_SYSTEM_PROMPT", firstNonEmpty(file.Backend.SystemPrompt, DefaultSystemPrompt)),
			DialTimeout:  time.Duration(envOrDefaultInt("LIVEASSIST_DIAL_TIMEOUT_MS", file.Backend.DialTimeoutMS)) * time.Millisecond,
		},
		Capture: CaptureConfig{
			FFmpegCommand:    envOrDefault("LIVEASSIST_FFMPEG_COMMAND", firstNonEmpty(file.Capture.FFmpegCommand, "ffmpeg")),
			PactlCommand:     envOrDefault("LIVEASSIST_PACTL_COMMAND", firstNonEmpty(file.Capture.PactlCommand, "pactl")),
			AudioInputFormat: envOrDefault("LIVEASSIST_AUDIO_INPUT_FORMAT", firstNonEmpty(file.Capture.AudioInputFormat, "pulse")),
			VideoInputFormat: envOrDefault("LIVEASSIST_VIDEO_INPUT_FORMAT", firstNonEmpty(file.Capture.VideoInputFormat, "x11grab")),
			Display:          firstNonEmpty(os.Getenv("LIVEASSIST_DISPLAY"), file.Capture.Display, os.Getenv("DISPLAY"), ":0"),
			FrameRate:        envOrDefaultInt("LIVEASSIST_FRAME_RATE", orInt(file.Capture.FrameRate, 5)),
			ChunkInterval:    time.Duration(envOrDefaultInt("LIVEASSIST_CHUNK_INTERVAL_MS", orInt(file.Capture.ChunkIntervalMS, 1000))) * time.Millisecond,
			Formats:          envOrDefaultList("LIVEASSIST_FORMATS", file.Capture.Formats),
		},
		Host: HostConfig{
			XrandrCommand: envOrDefault("LIVEASSIST_XRANDR_COMMAND", firstNonEmpty(file.Host.XrandrCommand, "xrandr")),
			WmctrlCommand: envOrDefault("LIVEASSIST_WMCTRL_COMMAND", firstNonEmpty(file.Host.WmctrlCommand, "wmctrl")),
		},
		Log: LogConfig{
			Level:   envOrDefault("LOG_LEVEL", firstNonEmpty(file.Log.Level, "info")),
			Console: envOrDefaultBool("LIVEASSIST_LOG_CONSOLE", consoleDefault),
		},
		Debug: DebugConfig{
			ListenAddr: envOrDefault("LIVEASSIST_DEBUG_ADDR", file.Debug.ListenAddr),
		},
	}

	if cfg.Capture.FrameRate <= 0 {
		cfg.Capture.FrameRate = 5
	}
	if cfg.Capture.ChunkInterval <= 0 {
		cfg.Capture.ChunkInterval = time.Second
	}
	if cfg.Backend.DialTimeout < 0 {
		cfg.Backend.DialTimeout = 0
	}

	return cfg, nil
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	var errs []error
	if url := c.Backend.URL; url != "" && !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		errs = append(errs, fmt.Errorf("backend url %q must use ws:// or wss://", url))
	}
	if port := c.Backend.Port; port != "" {
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			errs = append(errs, fmt.Errorf("backend port %q is invalid", port))
		}
	}
	if strings.TrimSpace(c.Backend.SystemPrompt) == "" {
		errs = append(errs, errors.New("system prompt is empty"))
	}
	if strings.TrimSpace(c.Capture.FFmpegCommand) == "" {
		errs = append(errs, errors.New("ffmpeg command is empty"))
	}
	if c.Capture.ChunkInterval < 50*time.Millisecond {
		errs = append(errs, fmt.Errorf("chunk interval %s is below 50ms", c.Capture.ChunkInterval))
	}
	return errors.Join(errs...)
}

// BackendURL returns the explicit URL or one assembled from port.
func (c Config) BackendURL(port string) string {
	if c.Backend.URL != "" {
		return c.Backend.URL
	}
	return "ws://localhost:" + port
}

func loadFile(path string) (*fileConfig, error) {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &fileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func orInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return strings.TrimSpace(fallback)
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultList reads a "|" separated list; mime types carry commas.
func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, "|") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
