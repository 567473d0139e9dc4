package capture

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liveassist/internal/domain"
	"liveassist/internal/metrics"
	"liveassist/internal/ports"
)

type run struct {
	tracks   []ports.Track
	recorder ports.Recorder

	data    chan []byte
	readErr error
	stopped chan struct{}

	releaseOnce sync.Once
	wg          sync.WaitGroup
}

func newRun(tracks []ports.Track, recorder ports.Recorder) *run {
	return &run{
		tracks:   tracks,
		recorder: recorder,
		data:     make(chan []byte),
		stopped:  make(chan struct{}),
	}
}

// release stops the recorder and frees every track. Safe to call repeatedly
// and from the pump itself.
func (r *run) release(log zerolog.Logger) {
	r.releaseOnce.Do(func() {
		close(r.stopped)
		if err := r.recorder.Stop(); err != nil {
			log.Warn().Err(err).Msg("media recorder stop failed")
		}
		releaseTracks(r.tracks, log)
	})
}

func (r *run) read(size int) {
	defer r.wg.Done()
	defer close(r.data)

	for {
		buf := make([]byte, size)
		n, err := r.recorder.Read(buf)
		if n > 0 {
			select {
			case r.data <- buf[:n]:
			case <-r.stopped:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.readErr = err
			}
			return
		}
	}
}

// pump batches recorder output and hands it to onChunk once per interval.
func (c *Controller) pump(r *run, onChunk ports.ChunkFunc, onError ports.CaptureErrorFunc) {
	defer r.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	var pending []byte
	for {
		select {
		case <-r.stopped:
			return
		case data, ok := <-r.data:
			if !ok {
				c.recorderEnded(r, r.readErr, onError)
				return
			}
			pending = append(pending, data...)
		case <-ticker.C:
			if len(pending) == 0 || isClosed(r.stopped) {
				continue
			}
			metrics.ChunksSentTotal.Inc()
			metrics.ChunkBytesTotal.Add(float64(len(pending)))
			onChunk(pending)
			pending = nil
		}
	}
}

func (c *Controller) recorderEnded(r *run, readErr error, onError ports.CaptureErrorFunc) {
	if !c.detach(r) {
		return
	}
	r.release(c.log)

	err := domain.NewError(domain.ErrorKindCapture, "media recorder stopped unexpectedly", readErr)
	c.log.Error().Err(err).Msg("capture failed")
	if onError != nil {
		onError(err)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
