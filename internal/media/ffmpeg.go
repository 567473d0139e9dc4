package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liveassist/internal/domain"
	"liveassist/internal/ports"
)

// Config selects the platform commands and input drivers.
type Config struct {
	FFmpegCommand    string
	PactlCommand     string
	AudioInputFormat string
	VideoInputFormat string
	Display          string
	FrameRate        int
	StartupWindow    time.Duration
	Logger           *zerolog.Logger
}

// FFmpegDevices implements ports.MediaDevices with ffmpeg and PulseAudio tools.
type FFmpegDevices struct {
	cfg Config
	log zerolog.Logger

	probeMu  sync.Mutex
	probed   bool
	encoders map[string]bool
	muxers   map[string]bool
	probeErr error
}

func NewFFmpegDevices(cfg Config) *FFmpegDevices {
	if cfg.FFmpegCommand == "" {
		cfg.FFmpegCommand = "ffmpeg"
	}
	if cfg.PactlCommand == "" {
		cfg.PactlCommand = "pactl"
	}
	if cfg.AudioInputFormat == "" {
		cfg.AudioInputFormat = "pulse"
	}
	if cfg.VideoInputFormat == "" {
		cfg.VideoInputFormat = "x11grab"
	}
	if cfg.Display == "" {
		cfg.Display = firstNonEmpty(os.Getenv("DISPLAY"), ":0")
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 5
	}
	if cfg.StartupWindow <= 0 {
		cfg.StartupWindow = 250 * time.Millisecond
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &FFmpegDevices{cfg: cfg, log: logger}
}

// Acquire validates the source id and binds it to an ffmpeg input.
func (d *FFmpegDevices) Acquire(ctx context.Context, kind ports.TrackKind, sourceID string) (ports.Track, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, domain.Errorf(domain.ErrorKindCapture, "%s source id is empty", kind)
	}

	switch kind {
	case ports.TrackAudio:
		if err := d.checkAudioSource(ctx, sourceID); err != nil {
			return nil, err
		}
		return &ffmpegTrack{
			kind:     kind,
			sourceID: sourceID,
			args:     []string{"-f", d.cfg.AudioInputFormat, "-i", sourceID},
		}, nil
	case ports.TrackVideo:
		target, err := parseVideoSource(sourceID)
		if err != nil {
			return nil, err
		}
		return &ffmpegTrack{
			kind:     kind,
			sourceID: sourceID,
			args:     target.inputArgs(d.cfg.VideoInputFormat, d.cfg.Display, d.cfg.FrameRate),
		}, nil
	default:
		return nil, domain.Errorf(domain.ErrorKindCapture, "unknown track kind %q", kind)
	}
}

func (d *FFmpegDevices) checkAudioSource(ctx context.Context, sourceID string) error {
	if sourceID == "default" {
		return nil
	}
	inputs, err := d.ListAudioInputs(ctx)
	if err != nil {
		// Without pactl the id cannot be checked; ffmpeg reports bad devices at startup.
		d.log.Debug().Err(err).Msg("skipping audio source check")
		return nil
	}
	for _, input := range inputs {
		if input.ID == sourceID {
			return nil
		}
	}
	return domain.Errorf(domain.ErrorKindCapture, "audio device %q is unavailable", sourceID)
}

// Record starts one ffmpeg process muxing every track into the given format.
// ctx bounds the startup window only; the recorder runs until Stop.
func (d *FFmpegDevices) Record(ctx context.Context, tracks []ports.Track, format ports.EncodingFormat) (ports.Recorder, error) {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	var hasAudio, hasVideo bool
	for _, track := range tracks {
		bound, ok := track.(*ffmpegTrack)
		if !ok {
			return nil, domain.Errorf(domain.ErrorKindCapture, "track %q was not acquired by ffmpeg", track.SourceID())
		}
		if bound.released() {
			return nil, domain.Errorf(domain.ErrorKindCapture, "track %q was already released", track.SourceID())
		}
		args = append(args, bound.args...)
		hasAudio = hasAudio || bound.kind == ports.TrackAudio
		hasVideo = hasVideo || bound.kind == ports.TrackVideo
	}
	if hasAudio && format.AudioCodec != "" {
		args = append(args, "-c:a", format.AudioCodec)
	}
	if hasVideo && format.VideoCodec != "" {
		args = append(args, "-c:v", format.VideoCodec, "-deadline", "realtime")
	}
	args = append(args, "-f", format.Container, "pipe:1")

	// ctx only bounds startup. The process runs until Stop so it can finish
	// the container on SIGINT.
	cmd := exec.Command(d.cfg.FFmpegCommand, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindCapture, "failed to create ffmpeg stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.NewError(domain.ErrorKindCapture, "failed to start ffmpeg", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, domain.NewError(domain.ErrorKindCapture,
				fmt.Sprintf("ffmpeg exited before capture started: %s", trimOutput(stderr.String())), err)
		}
		return nil, domain.Errorf(domain.ErrorKindCapture, "ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(d.cfg.StartupWindow):
	}

	d.log.Info().Str("format", format.MimeType).Int("tracks", len(tracks)).Msg("ffmpeg recorder started")
	return &ffmpegRecorder{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegTrack struct {
	kind     ports.TrackKind
	sourceID string
	args     []string

	mu   sync.Mutex
	done bool
}

func (t *ffmpegTrack) Kind() ports.TrackKind { return t.kind }
func (t *ffmpegTrack) SourceID() string      { return t.sourceID }

func (t *ffmpegTrack) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	return nil
}

func (t *ffmpegTrack) released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

type ffmpegRecorder struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (r *ffmpegRecorder) Read(p []byte) (int, error) {
	return r.stdout.Read(p)
}

func (r *ffmpegRecorder) Stop() error {
	r.stopOnce.Do(func() {
		if r.process != nil {
			_ = r.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-r.waitErr:
			if ok {
				r.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if r.process != nil {
				_ = r.process.Kill()
			}
			err, ok := <-r.waitErr
			if ok {
				r.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := r.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if r.stopErr == nil {
				r.stopErr = closeErr
			}
		}

		if r.stopErr != nil && r.stderr != nil && r.stderr.Len() > 0 {
			r.stopErr = fmt.Errorf("%w: %s", r.stopErr, trimOutput(r.stderr.String()))
		}
	})

	return r.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(input string) string {
	return strings.TrimSpace(input)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
