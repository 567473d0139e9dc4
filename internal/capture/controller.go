// Package capture owns the audio/video acquisition lifecycle: source
// enumeration, track acquisition, format negotiation and chunked delivery.
package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"liveassist/internal/domain"
	"liveassist/internal/ports"
)

const (
	defaultInterval = time.Second
	defaultReadSize = 32 * 1024
)

var videoPrefixes = []string{"screen:", "window:"}

var errStoppedDuringStart = domain.Errorf(domain.ErrorKindCapture, "capture stopped while starting")

type Config struct {
	// Interval is the chunk cadence.
	Interval time.Duration
	// Formats is the negotiation order; the first supported format wins.
	Formats  []ports.EncodingFormat
	ReadSize int
	Logger   *zerolog.Logger
}

// Controller implements ports.Capture.
type Controller struct {
	media ports.MediaDevices
	host  ports.HostSources
	cfg   Config
	log   zerolog.Logger

	mu            sync.Mutex
	starting      bool
	stopRequested bool
	current       *run
}

func NewController(media ports.MediaDevices, host ports.HostSources, cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = defaultReadSize
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats, _ = ResolveFormats(nil)
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Controller{media: media, host: host, cfg: cfg, log: logger}
}

// EnumerateSources lists audio inputs and desktop sources concurrently.
func (c *Controller) EnumerateSources(ctx context.Context) (domain.Sources, error) {
	var audio, desktop []domain.SourceDescriptor

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		inputs, err := c.media.ListAudioInputs(groupCtx)
		if err != nil {
			return err
		}
		audio = inputs
		return nil
	})
	group.Go(func() error {
		desktop = c.host.ListDesktopSources(groupCtx)
		return nil
	})
	if err := group.Wait(); err != nil {
		c.log.Warn().Err(err).Msg("source enumeration failed")
		return domain.Sources{}, domain.NewError(domain.ErrorKindEnumeration, "failed to enumerate sources", err)
	}

	video := make([]domain.SourceDescriptor, 0, len(desktop))
	for _, source := range desktop {
		if hasVideoPrefix(source.ID) {
			video = append(video, source)
		}
	}

	c.log.Debug().Int("audio", len(audio)).Int("video", len(video)).Msg("sources enumerated")
	return domain.Sources{Audio: audio, Video: video}, nil
}

// Start acquires both tracks, negotiates a format and begins chunk delivery.
// onError is called at most once, after a running capture has torn itself
// down. If ctx ends or Stop is called before the run is registered,
// everything acquired is released and an error is returned.
func (c *Controller) Start(ctx context.Context, audioID, videoID string, onChunk ports.ChunkFunc, onError ports.CaptureErrorFunc) error {
	c.mu.Lock()
	if c.starting || c.current != nil {
		c.mu.Unlock()
		return domain.ErrCaptureActive
	}
	c.starting = true
	c.stopRequested = false
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.stopRequested = false
		c.mu.Unlock()
	}()

	if strings.TrimSpace(audioID) == "" || strings.TrimSpace(videoID) == "" {
		return domain.ErrMissingSources
	}

	tracks, err := c.acquire(ctx, audioID, videoID)
	if err != nil {
		return err
	}
	if err := c.abandoned(ctx); err != nil {
		releaseTracks(tracks, c.log)
		return err
	}

	format, ok := c.negotiate(ctx)
	if !ok {
		releaseTracks(tracks, c.log)
		if err := c.abandoned(ctx); err != nil {
			return err
		}
		return domain.ErrNoSupportedCodec
	}

	recorder, err := c.media.Record(ctx, tracks, format)
	if err != nil {
		releaseTracks(tracks, c.log)
		if abandonErr := c.abandoned(ctx); abandonErr != nil {
			return abandonErr
		}
		return wrapCapture("failed to start media recorder", err)
	}

	r := newRun(tracks, recorder)

	c.mu.Lock()
	if err := c.abandonedLocked(ctx); err != nil {
		c.mu.Unlock()
		r.release(c.log)
		return err
	}
	c.current = r
	c.mu.Unlock()

	c.log.Info().
		Str("audio", audioID).
		Str("video", videoID).
		Str("format", format.MimeType).
		Dur("interval", c.cfg.Interval).
		Msg("capture started")

	r.wg.Add(2)
	go r.read(c.cfg.ReadSize)
	go c.pump(r, onChunk, onError)
	return nil
}

// Stop releases the current run, if any, and returns once no further chunk
// can be emitted. A Start still in progress releases what it acquired and
// fails instead of registering.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.starting {
		c.stopRequested = true
	}
	r := c.current
	c.current = nil
	c.mu.Unlock()

	if r == nil {
		return
	}
	r.release(c.log)
	r.wg.Wait()
	c.log.Info().Msg("capture stopped")
}

// Active reports whether a run is registered.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// abandoned reports why an in-progress Start must give up, if it must.
func (c *Controller) abandoned(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandonedLocked(ctx)
}

func (c *Controller) abandonedLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.stopRequested {
		return errStoppedDuringStart
	}
	return nil
}

func (c *Controller) acquire(ctx context.Context, audioID, videoID string) ([]ports.Track, error) {
	audio, err := c.media.Acquire(ctx, ports.TrackAudio, audioID)
	if err != nil {
		return nil, wrapCapture("failed to acquire audio source", err)
	}
	video, err := c.media.Acquire(ctx, ports.TrackVideo, videoID)
	if err != nil {
		releaseTracks([]ports.Track{audio}, c.log)
		return nil, wrapCapture("failed to acquire video source", err)
	}
	return []ports.Track{audio, video}, nil
}

func (c *Controller) negotiate(ctx context.Context) (ports.EncodingFormat, bool) {
	for _, format := range c.cfg.Formats {
		if c.abandoned(ctx) != nil {
			return ports.EncodingFormat{}, false
		}
		if c.media.Supports(ctx, format) {
			return format, true
		}
		c.log.Debug().Str("format", format.MimeType).Msg("encoding format unsupported")
	}
	return ports.EncodingFormat{}, false
}

// detach removes r if it is still the current run.
func (c *Controller) detach(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != r {
		return false
	}
	c.current = nil
	return true
}

func hasVideoPrefix(id string) bool {
	for _, prefix := range videoPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

func wrapCapture(message string, err error) error {
	var classified *domain.Error
	if errors.As(err, &classified) && classified.Kind == domain.ErrorKindCapture {
		return err
	}
	return domain.NewError(domain.ErrorKindCapture, message, err)
}

func releaseTracks(tracks []ports.Track, log zerolog.Logger) {
	for _, track := range tracks {
		if err := track.Release(); err != nil {
			log.Warn().Err(err).Str("source", track.SourceID()).Msg("failed to release track")
		}
	}
}
