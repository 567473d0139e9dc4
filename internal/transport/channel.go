package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveassist/internal/domain"
	"liveassist/internal/metrics"
	"liveassist/internal/ports"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 1 << 20
	outboxSize            = 64
)

// Config controls the backend websocket.
type Config struct {
	URL            string
	Token          string
	DialTimeout    time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	Logger         *zerolog.Logger
}

// Channel implements ports.Transport over a single gorilla websocket.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger

	// emitMu serialises status and frame delivery so observers see events in
	// the order the connection produced them.
	emitMu   sync.Mutex
	observer ports.TransportObserver

	mu      sync.Mutex
	status  domain.ConnectionStatus
	lastErr error
	gen     uint64
	conn    *connection
}

type outbound struct {
	messageType int
	payload     []byte
}

type connection struct {
	gen    uint64
	cancel context.CancelFunc
	outbox chan outbound
	done   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	ws        *websocket.Conn
	writing   bool
	closing   chan struct{}
	closeOnce sync.Once
}

func NewChannel(cfg Config) *Channel {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Channel{
		cfg:    cfg,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		log:    logger,
		status: domain.ConnectionDisconnected,
	}
}

// SetObserver installs the event receiver. It must be called before Connect.
func (c *Channel) SetObserver(observer ports.TransportObserver) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.observer = observer
}

// Status returns the current connection status.
func (c *Channel) Status() domain.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the most recent transport error, or nil.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens a new connection unless one is connecting or connected.
func (c *Channel) Connect() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.status == domain.ConnectionConnecting || c.status == domain.ConnectionConnected {
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if c.cfg.DialTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	}

	c.gen++
	conn := &connection{
		gen:     c.gen,
		cancel:  cancel,
		outbox:  make(chan outbound, outboxSize),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	c.conn = conn
	c.status = domain.ConnectionConnecting
	c.lastErr = nil
	c.mu.Unlock()

	c.log.Info().Str("url", c.cfg.URL).Msg("connecting to backend")
	c.notifyStatus(domain.ConnectionConnecting, nil)

	conn.wg.Add(1)
	go c.run(ctx, conn)
}

// Disconnect closes the current connection after flushing frames already
// queued. Events still in flight from it are dropped. An error status is left
// in place.
func (c *Channel) Disconnect() {
	c.emitMu.Lock()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	previous := c.status
	changed := previous != domain.ConnectionDisconnected && previous != domain.ConnectionError
	if changed {
		c.status = domain.ConnectionDisconnected
	}
	c.mu.Unlock()

	if changed {
		c.notifyStatus(domain.ConnectionDisconnected, nil)
	}
	c.emitMu.Unlock()

	if conn != nil {
		c.log.Info().Msg("disconnecting from backend")
		conn.close(c.cfg.WriteWait)
		conn.wg.Wait()
	}
}

// SendText queues a text frame.
func (c *Channel) SendText(payload []byte) error {
	return c.send(websocket.TextMessage, payload)
}

// SendBinary queues a binary frame.
func (c *Channel) SendBinary(payload []byte) error {
	return c.send(websocket.BinaryMessage, payload)
}

func (c *Channel) send(messageType int, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == domain.ConnectionConnected && conn != nil
	c.mu.Unlock()

	if !connected {
		c.reportError(domain.ErrNotConnected)
		return domain.ErrNotConnected
	}

	copied := append([]byte(nil), payload...)
	select {
	case conn.outbox <- outbound{messageType: messageType, payload: copied}:
		return nil
	case <-conn.done:
		c.reportError(domain.ErrNotConnected)
		return domain.ErrNotConnected
	}
}

func (c *Channel) run(ctx context.Context, conn *connection) {
	defer conn.wg.Done()
	defer conn.cancel()

	headers := http.Header{}
	if token := strings.TrimSpace(c.cfg.Token); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, headers)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		c.fail(conn.gen, domain.NewError(domain.ErrorKindConnection, "failed to connect to backend", err))
		return
	}

	if !c.attach(conn, ws) {
		_ = ws.Close()
		return
	}
	ws.SetReadLimit(c.cfg.MaxMessageSize)

	if !c.setStatus(conn.gen, domain.ConnectionConnected, nil) {
		conn.close(c.cfg.WriteWait)
		return
	}
	c.log.Info().Str("url", c.cfg.URL).Msg("connected to backend")

	if !conn.startWriter() {
		return
	}
	conn.wg.Add(1)
	go c.writeLoop(conn, ws)
	c.readLoop(conn, ws)
}

func (c *Channel) attach(conn *connection, ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != conn.gen {
		return false
	}
	conn.mu.Lock()
	conn.ws = ws
	conn.mu.Unlock()
	return true
}

func (c *Channel) writeLoop(conn *connection, ws *websocket.Conn) {
	defer conn.wg.Done()

	for {
		select {
		case <-conn.done:
			return
		case <-conn.closing:
			c.flush(conn, ws)
			writeClose(ws, c.cfg.WriteWait)
			conn.shutdown()
			return
		case msg := <-conn.outbox:
			_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := ws.WriteMessage(msg.messageType, msg.payload); err != nil {
				c.fail(conn.gen, domain.NewError(domain.ErrorKindConnection, "failed to send message", err))
				conn.shutdown()
				return
			}
		}
	}
}

// flush writes whatever is still queued. The connection is already detached,
// so write errors only end the flush.
func (c *Channel) flush(conn *connection, ws *websocket.Conn) {
	for {
		select {
		case msg := <-conn.outbox:
			_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := ws.WriteMessage(msg.messageType, msg.payload); err != nil {
				c.log.Debug().Err(err).Msg("flush on close failed")
				return
			}
		default:
			return
		}
	}
}

func (c *Channel) readLoop(conn *connection, ws *websocket.Conn) {
	defer conn.shutdown()

	for {
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setStatus(conn.gen, domain.ConnectionDisconnected, nil)
				return
			}
			c.fail(conn.gen, domain.NewError(domain.ErrorKindConnection, "backend connection lost", err))
			return
		}

		frame := DecodeFrame(messageType, payload)
		metrics.FramesReceivedTotal.WithLabelValues(string(frame.Kind)).Inc()
		if !c.emitFrame(conn.gen, frame) {
			return
		}
	}
}

func (c *Channel) fail(gen uint64, err error) {
	if c.setStatus(gen, domain.ConnectionError, err) {
		c.log.Warn().Err(err).Msg("transport error")
	}
}

// setStatus applies a transition originating from connection gen. Stale
// generations are ignored and error sticks until the next Connect.
func (c *Channel) setStatus(gen uint64, status domain.ConnectionStatus, err error) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	if c.status == domain.ConnectionError && status != domain.ConnectionConnecting {
		c.mu.Unlock()
		return false
	}
	c.status = status
	c.lastErr = err
	c.mu.Unlock()

	c.notifyStatus(status, err)
	return true
}

func (c *Channel) reportError(err error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	status := c.status
	if status != domain.ConnectionError {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.log.Warn().Err(err).Str("status", string(status)).Msg("send rejected")
	c.notifyStatus(status, err)
}

func (c *Channel) emitFrame(gen uint64, frame domain.Frame) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if !current {
		return false
	}
	if c.observer != nil {
		c.observer.FrameReceived(frame)
	}
	return true
}

// notifyStatus must be called with emitMu held.
func (c *Channel) notifyStatus(status domain.ConnectionStatus, err error) {
	metrics.TransportStatusTotal.WithLabelValues(string(status)).Inc()
	if c.observer != nil {
		c.observer.StatusChanged(status, err)
	}
}

// close hands the close to the writer when one is running so queued frames go
// out before the close frame. Otherwise it closes directly.
func (conn *connection) close(writeWait time.Duration) {
	conn.cancel()

	conn.mu.Lock()
	select {
	case <-conn.closing:
	default:
		close(conn.closing)
	}
	ws, writing := conn.ws, conn.writing
	conn.mu.Unlock()
	if writing {
		return
	}
	if ws != nil {
		writeClose(ws, writeWait)
	}
	conn.shutdown()
}

// startWriter reports false once a close has been requested.
func (conn *connection) startWriter() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	select {
	case <-conn.closing:
		return false
	default:
	}
	conn.writing = true
	return true
}

func writeClose(ws *websocket.Conn, writeWait time.Duration) {
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

func (conn *connection) shutdown() {
	conn.closeOnce.Do(func() {
		close(conn.done)
		conn.mu.Lock()
		if conn.ws != nil {
			_ = conn.ws.Close()
		}
		conn.mu.Unlock()
	})
}
