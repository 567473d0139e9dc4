// Package session holds the session lifecycle state machine. A single
// dispatch goroutine owns all state; intents, transport callbacks and capture
// completions reach it as messages on an unbounded mailbox.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liveassist/internal/domain"
	"liveassist/internal/metrics"
	"liveassist/internal/ports"
	"liveassist/internal/transport"
)

var (
	ErrClosed         = errors.New("session coordinator is not running")
	ErrAlreadyRunning = errors.New("session coordinator is already running")
	ErrNoSession      = domain.Errorf(domain.ErrorKindValidation, "no active session")
	ErrEmptyMessage   = domain.Errorf(domain.ErrorKindValidation, "message is empty")
)

type Config struct {
	SystemPrompt string
	Logger       *zerolog.Logger
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Coordinator reconciles user intent, the backend connection and media
// capture into one session lifecycle.
type Coordinator struct {
	transport ports.Transport
	capture   ports.Capture
	cfg       Config
	log       zerolog.Logger

	inbox   *queue[event]
	outbox  *queue[domain.Snapshot]
	latest  atomic.Pointer[domain.Snapshot]
	running atomic.Bool
	done    chan struct{}

	sinksMu sync.Mutex
	sinks   []ports.SnapshotSink

	// Everything below is owned by the dispatch goroutine.
	state          domain.SessionState
	connection     domain.ConnectionStatus
	capturing      bool
	errs           domain.Errors
	captureErrKind domain.ErrorKind
	messages       []domain.Message
	sources        domain.Sources
	selected       domain.SourcePair
	awaiting       bool
	refreshing     int

	pending     *domain.SourcePair
	epoch       uint64
	startCancel context.CancelFunc
	lastStart   chan struct{}
	starts      sync.WaitGroup
	background  sync.WaitGroup
	published   *domain.Snapshot
}

func NewCoordinator(channel ports.Transport, capture ports.Capture, cfg Config) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	c := &Coordinator{
		transport:  channel,
		capture:    capture,
		cfg:        cfg,
		log:        logger,
		inbox:      newQueue[event](),
		outbox:     newQueue[domain.Snapshot](),
		done:       make(chan struct{}),
		state:      domain.SessionStateIdle,
		connection: channel.Status(),
	}
	channel.SetObserver(transportEvents{inbox: c.inbox})

	initial := c.buildSnapshot()
	c.latest.Store(&initial)
	c.published = &initial
	metrics.SetState(string(domain.SessionStateIdle))
	return c
}

// Subscribe registers a sink for every published snapshot.
func (c *Coordinator) Subscribe(sink ports.SnapshotSink) {
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// Snapshot returns the most recently published snapshot.
func (c *Coordinator) Snapshot() domain.Snapshot {
	return *c.latest.Load()
}

// Run drives the dispatch loop until ctx ends. Any live session is stopped
// before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var publisher sync.WaitGroup
	publisher.Add(1)
	go func() {
		defer publisher.Done()
		c.publishLoop()
	}()

	c.log.Info().Msg("session coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			publisher.Wait()
			c.log.Info().Msg("session coordinator stopped")
			return nil
		case <-c.inbox.ready():
			for _, ev := range c.inbox.drain() {
				c.dispatch(ev)
			}
		}
	}
}

// RequestStart begins a session with pair, falling back to the stored
// selection for empty ids. It returns once the start has been accepted or
// rejected; progress is reported through snapshots.
func (c *Coordinator) RequestStart(pair domain.SourcePair) error {
	reply := make(chan error, 1)
	if !c.post(startIntent{pair: pair, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// RequestStop ends any session and returns once the coordinator is idle.
func (c *Coordinator) RequestStop() {
	reply := make(chan struct{}, 1)
	if !c.post(stopIntent{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-c.done:
	}
}

// RefreshSources re-enumerates sources and waits for the result. On failure
// the previous lists are kept.
func (c *Coordinator) RefreshSources(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.post(refreshIntent{reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// SelectSources records the source pair used by the next start.
func (c *Coordinator) SelectSources(pair domain.SourcePair) {
	c.post(selectIntent{pair: pair})
}

// SubmitMessage appends a user message and forwards it to the backend.
func (c *Coordinator) SubmitMessage(text string) error {
	reply := make(chan error, 1)
	if !c.post(submitIntent{text: text, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Coordinator) post(ev event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return c.inbox.push(ev)
}

// dispatch applies one event. Intent replies are sent after the resulting
// snapshot is published, so callers observe their own effect.
func (c *Coordinator) dispatch(ev event) {
	var reply func()

	switch ev := ev.(type) {
	case startIntent:
		err := c.handleStart(ev.pair)
		reply = func() { ev.reply <- err }
	case stopIntent:
		c.handleStop()
		reply = func() { ev.reply <- struct{}{} }
	case refreshIntent:
		c.handleRefresh(ev.reply)
	case selectIntent:
		c.selected = domain.SourcePair{
			AudioID: strings.TrimSpace(ev.pair.AudioID),
			VideoID: strings.TrimSpace(ev.pair.VideoID),
		}
	case submitIntent:
		err := c.handleSubmit(ev.text)
		reply = func() { ev.reply <- err }
	case transportStatus:
		c.handleTransportStatus(ev.status, ev.err)
	case transportFrame:
		c.handleFrame(ev.frame)
	case captureStarted:
		c.handleCaptureStarted(ev)
	case captureFailed:
		c.handleCaptureFailed(ev)
	case sourcesLoaded:
		c.handleSourcesLoaded(ev)
		if ev.reply != nil {
			reply = func() { ev.reply <- ev.err }
		}
	default:
		c.log.Warn().Msgf("unknown event %T", ev)
	}

	c.publish()
	if reply != nil {
		reply()
	}
}

func (c *Coordinator) handleStart(pair domain.SourcePair) error {
	if c.state != domain.SessionStateIdle && c.state != domain.SessionStateFailed {
		c.log.Debug().Str("state", string(c.state)).Msg("start ignored, session in progress")
		return nil
	}

	pair.AudioID = firstNonEmpty(pair.AudioID, c.selected.AudioID)
	pair.VideoID = firstNonEmpty(pair.VideoID, c.selected.VideoID)
	if !pair.Complete() {
		c.setCaptureError(domain.ErrMissingSources)
		return domain.ErrMissingSources
	}

	c.errs = domain.Errors{}
	c.captureErrKind = ""
	c.selected = pair
	c.pending = &pair
	c.epoch++
	c.setState(domain.SessionStateConnecting)
	metrics.SessionStartsTotal.Inc()
	c.log.Info().Str("audio", pair.AudioID).Str("video", pair.VideoID).Uint64("epoch", c.epoch).Msg("session start requested")

	c.transport.Connect()
	if c.transport.Status() == domain.ConnectionConnected {
		// Connect is a no-op on a live connection, so no status event follows.
		c.inbox.push(transportStatus{status: domain.ConnectionConnected})
	}
	return nil
}

func (c *Coordinator) handleStop() {
	if c.state == domain.SessionStateIdle {
		return
	}

	c.setState(domain.SessionStateStopping)
	c.publish()

	c.abortFlight()
	if c.transport.Status() == domain.ConnectionConnected {
		if err := c.transport.SendText(transport.StopSessionFrame()); err != nil {
			c.log.Debug().Err(err).Msg("stop_session not sent")
		}
	}
	c.transport.Disconnect()

	c.connection = c.transport.Status()
	c.awaiting = false
	c.setState(domain.SessionStateIdle)
	c.log.Info().Msg("session stopped")
}

// fail tears the session down after err and parks in Failed.
func (c *Coordinator) fail(err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.ErrorKindConnection
	}
	metrics.SessionFailuresTotal.WithLabelValues(string(kind)).Inc()
	c.log.Error().Err(err).Str("state", string(c.state)).Msg("session failed")

	if kind == domain.ErrorKindConnection {
		c.errs.Connection = err.Error()
	} else {
		c.setCaptureError(err)
	}

	c.abortFlight()
	if c.transport.Status() == domain.ConnectionConnected {
		_ = c.transport.SendText(transport.StopSessionFrame())
	}
	c.transport.Disconnect()

	c.connection = c.transport.Status()
	c.awaiting = false
	c.setState(domain.SessionStateFailed)
}

// abortFlight cancels an in-flight start and releases capture without
// waiting. The abandoned start unwinds on its own and its completion is
// discarded as stale.
func (c *Coordinator) abortFlight() {
	c.pending = nil
	c.epoch++
	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}
	c.capture.Stop()
	c.capturing = false
}

func (c *Coordinator) handleTransportStatus(status domain.ConnectionStatus, err error) {
	current := c.transport.Status()
	c.connection = current
	if status != current {
		// Superseded by a later transition that has its own event.
		return
	}
	if errors.Is(err, domain.ErrNotConnected) && status != domain.ConnectionConnected {
		// A rejected send. The transition that closed the channel carries
		// the real cause in its own event.
		return
	}

	if status == domain.ConnectionConnected && err == nil {
		c.errs.Connection = ""
	}

	switch c.state {
	case domain.SessionStateConnecting, domain.SessionStateAwaitingCaptureStart, domain.SessionStateActive:
	default:
		return
	}

	switch status {
	case domain.ConnectionConnected:
		if err != nil {
			c.errs.Connection = err.Error()
			return
		}
		if c.state == domain.SessionStateConnecting {
			c.onConnected()
		}
	case domain.ConnectionError:
		if err == nil {
			err = domain.Errorf(domain.ErrorKindConnection, "backend connection failed")
		}
		c.fail(err)
	case domain.ConnectionDisconnected:
		if err == nil {
			err = domain.Errorf(domain.ErrorKindConnection, "backend closed the connection")
		}
		c.fail(err)
	}
}

func (c *Coordinator) onConnected() {
	if c.pending == nil {
		c.fail(domain.ErrMissingSources)
		return
	}
	pair := *c.pending
	c.pending = nil

	if err := c.transport.SendText(transport.StartSessionFrame(c.cfg.SystemPrompt)); err != nil {
		c.fail(err)
		return
	}
	c.setState(domain.SessionStateAwaitingCaptureStart)

	ctx, cancel := context.WithCancel(context.Background())
	c.startCancel = cancel
	epoch := c.epoch
	previous := c.lastStart
	finished := make(chan struct{})
	c.lastStart = finished

	c.starts.Add(1)
	go func() {
		defer c.starts.Done()
		defer close(finished)
		if previous != nil {
			// An abandoned start may still hold the capture controller.
			select {
			case <-previous:
			case <-ctx.Done():
				c.inbox.push(captureStarted{epoch: epoch, err: ctx.Err()})
				return
			}
		}
		err := c.capture.Start(ctx, pair.AudioID, pair.VideoID, c.forwardChunk, func(err error) {
			c.inbox.push(captureFailed{epoch: epoch, err: err})
		})
		c.inbox.push(captureStarted{epoch: epoch, err: err})
	}()
}

// forwardChunk runs on the capture pump, not the dispatch loop.
func (c *Coordinator) forwardChunk(chunk []byte) {
	if err := c.transport.SendBinary(chunk); err != nil {
		c.log.Debug().Err(err).Int("bytes", len(chunk)).Msg("chunk dropped")
	}
}

func (c *Coordinator) handleCaptureStarted(ev captureStarted) {
	if ev.epoch != c.epoch || c.state != domain.SessionStateAwaitingCaptureStart {
		c.log.Debug().Uint64("epoch", ev.epoch).Msg("stale capture start discarded")
		return
	}
	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}
	if ev.err != nil {
		if !domain.IsKind(ev.err, domain.ErrorKindCapture) && !domain.IsKind(ev.err, domain.ErrorKindValidation) {
			ev.err = domain.NewError(domain.ErrorKindCapture, "failed to start capture", ev.err)
		}
		c.fail(ev.err)
		return
	}

	c.capturing = true
	c.setState(domain.SessionStateActive)
	c.log.Info().Msg("session active")
}

func (c *Coordinator) handleCaptureFailed(ev captureFailed) {
	if ev.epoch != c.epoch {
		return
	}
	switch c.state {
	case domain.SessionStateAwaitingCaptureStart, domain.SessionStateActive:
		c.fail(ev.err)
	}
}

func (c *Coordinator) handleFrame(frame domain.Frame) {
	switch c.state {
	case domain.SessionStateConnecting, domain.SessionStateAwaitingCaptureStart, domain.SessionStateActive:
	default:
		c.log.Debug().Str("kind", string(frame.Kind)).Str("state", string(c.state)).Msg("frame outside session dropped")
		return
	}

	switch frame.Kind {
	case domain.FrameTextResponse:
		c.messages = append(c.messages, domain.Message{
			ID:        c.cfg.NewID(),
			Text:      frame.Content,
			Sender:    domain.SenderAssistant,
			CreatedAt: c.cfg.Now(),
		})
		c.awaiting = false
		c.errs.Backend = ""
	case domain.FrameError:
		c.log.Warn().Str("message", frame.Content).Msg("backend error")
		c.errs.Backend = frame.Content
		c.awaiting = false
	case domain.FrameMalformed:
		c.log.Warn().Err(frame.Err).Str("raw", frame.Raw).Msg("malformed backend frame")
		c.errs.Backend = frame.Err.Error()
	case domain.FrameSessionStarted, domain.FrameSessionStopped:
		c.log.Debug().Str("kind", string(frame.Kind)).Msg("backend acknowledged")
	case domain.FrameBinary:
		c.log.Warn().Msg("unexpected binary frame from backend")
	default:
		c.log.Debug().Str("raw", frame.Raw).Msg("unrecognized backend frame")
	}
}

func (c *Coordinator) handleSubmit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if c.state != domain.SessionStateActive {
		return ErrNoSession
	}
	if err := c.transport.SendText(transport.UserMessageFrame(text)); err != nil {
		return err
	}
	c.messages = append(c.messages, domain.Message{
		ID:        c.cfg.NewID(),
		Text:      text,
		Sender:    domain.SenderUser,
		CreatedAt: c.cfg.Now(),
	})
	c.awaiting = true
	return nil
}

func (c *Coordinator) handleRefresh(reply chan error) {
	c.refreshing++
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		sources, err := c.capture.EnumerateSources(context.Background())
		c.inbox.push(sourcesLoaded{sources: sources, err: err, reply: reply})
	}()
}

func (c *Coordinator) handleSourcesLoaded(ev sourcesLoaded) {
	c.refreshing--
	if ev.err != nil {
		c.setCaptureError(ev.err)
	} else {
		c.sources = ev.sources
		if c.captureErrKind == domain.ErrorKindEnumeration {
			c.errs.Capture = ""
			c.captureErrKind = ""
		}
	}
}

func (c *Coordinator) setCaptureError(err error) {
	c.errs.Capture = err.Error()
	c.captureErrKind = domain.KindOf(err)
}

func (c *Coordinator) setState(state domain.SessionState) {
	if c.state == state {
		return
	}
	c.log.Debug().Str("from", string(c.state)).Str("to", string(state)).Msg("state transition")
	c.state = state
	metrics.SetState(string(state))
}

func (c *Coordinator) shutdown() {
	c.handleStop()
	c.starts.Wait()
	c.background.Wait()
	c.inbox.close()
	close(c.done)
	for _, ev := range c.inbox.drain() {
		// Only completions of background work can remain; answer their waiters.
		if loaded, ok := ev.(sourcesLoaded); ok && loaded.reply != nil {
			loaded.reply <- ErrClosed
		}
	}
	c.publish()
	c.outbox.close()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
