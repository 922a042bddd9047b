package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// State is the connection state of the realtime channel.
type State string

const (
	Disconnected   State = "disconnected"
	Connecting     State = "connecting"
	Authenticating State = "authenticating"
	Connected      State = "connected"
)

// Direction tells an Observer which way a frame travelled.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

const (
	defaultHeartbeat    = 30 * time.Second
	defaultReconnect    = 3 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	maxFrameBytes       = 1 << 20
)

// Options configures a Client.
type Options struct {
	URL               string
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	// NewBackOff builds the reconnect schedule. Defaults to a constant 3s.
	NewBackOff func() backoff.BackOff
	HTTPHeader http.Header
	// Observer, if set, is told about every frame sent or received.
	Observer func(dir Direction, frameType string)
}

// Client keeps a single authenticated websocket open, reconnecting after
// failures until Close is called.
type Client struct {
	opts     Options
	logger   *zap.Logger
	dispatch *dispatcher

	mu          sync.Mutex
	state       State
	token       string
	conn        *websocket.Conn
	cancel      context.CancelFunc
	gen         uint64
	timer       *time.Timer
	intentional bool
	backoff     backoff.BackOff
}

// New creates a disconnected client.
func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = ConstantBackOff(defaultReconnect)
	}
	return &Client{
		opts:     opts,
		logger:   logger,
		dispatch: newDispatcher(logger),
		state:    Disconnected,
		backoff:  opts.NewBackOff(),
	}
}

// On registers fn for frames of frameType, or for EventConnected and
// EventDisconnected. Several handlers may share a type. Handlers run on the
// client's read goroutine and must not block for long.
func (c *Client) On(frameType string, fn Handler) (unsubscribe func()) {
	return c.dispatch.on(frameType, fn)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts connecting with token in the background. It is a no-op
// unless the client is disconnected; a pending reconnect is brought forward.
func (c *Client) Connect(token string) {
	c.mu.Lock()
	c.token = token
	c.intentional = false
	if c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	gen := c.beginLocked()
	c.mu.Unlock()

	go c.dial(gen)
}

// Close intentionally closes the connection: the pending reconnect is
// cancelled, the heartbeat stops and no reconnect follows.
func (c *Client) Close() {
	c.mu.Lock()
	c.intentional = true
	c.stopTimerLocked()
	prev := c.state
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.state = Disconnected
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
			c.logger.Debug("realtime close", zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
	}
	if prev != Disconnected {
		c.dispatch.emit(Frame{Type: EventDisconnected})
	}
}

// Send writes v as a JSON frame. It returns false, without queueing, when the
// client is not connected or the write fails.
func (c *Client) Send(v any) bool {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != Connected || conn == nil {
		return false
	}
	if err := c.write(conn, v); err != nil {
		c.logger.Warn("realtime send failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) beginLocked() uint64 {
	c.state = Connecting
	c.gen++
	return c.gen
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{HTTPHeader: c.opts.HTTPHeader})
	cancel()
	if err != nil {
		c.logger.Warn("realtime dial failed", zap.String("url", c.opts.URL), zap.Error(err))
		c.drop(gen, err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	connCtx, connCancel := context.WithCancel(context.Background())
	c.state = Authenticating
	c.conn = conn
	c.cancel = connCancel
	token := c.token
	c.mu.Unlock()

	if err := c.write(conn, NewAuthFrame(token)); err != nil {
		c.logger.Warn("realtime auth write failed", zap.Error(err))
		c.drop(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = Connected
	c.backoff.Reset()
	c.mu.Unlock()

	c.logger.Info("realtime connected", zap.String("url", c.opts.URL))
	c.dispatch.emit(Frame{Type: EventConnected})

	go c.heartbeat(connCtx, conn)
	go c.readLoop(connCtx, gen, conn)
}

// drop handles a failed dial or a broken connection of generation gen.
// Events from an older generation are ignored.
func (c *Client) drop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.state = Disconnected
	c.gen++
	if !c.intentional {
		c.scheduleLocked()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.CloseNow()
	}
	c.logger.Info("realtime disconnected", zap.Error(cause))
	c.dispatch.emit(Frame{Type: EventDisconnected})
}

func (c *Client) scheduleLocked() {
	wait := c.backoff.NextBackOff()
	if wait == backoff.Stop {
		c.logger.Warn("realtime reconnect given up")
		return
	}
	c.stopTimerLocked()
	c.timer = time.AfterFunc(wait, c.reconnect)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.intentional || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	gen := c.beginLocked()
	c.mu.Unlock()

	c.dial(gen)
}

func (c *Client) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.drop(gen, err)
			return
		}
		frame, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		c.observe(Inbound, frame.Type)
		c.dispatch.emit(frame)
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.write(conn, NewPingFrame()); err != nil {
				c.logger.Debug("heartbeat write failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return err
	}
	c.observe(Outbound, frameType(v))
	return nil
}

func (c *Client) observe(dir Direction, frameType string) {
	if c.opts.Observer != nil {
		c.opts.Observer(dir, frameType)
	}
}

func frameType(v any) string {
	switch f := v.(type) {
	case AuthFrame:
		return f.Type
	case PingFrame:
		return f.Type
	case MessageFrame:
		return f.Type
	case TypingFrame:
		return f.Type
	case JoinRoomFrame:
		return f.Type
	case FileFrame:
		return f.Type
	default:
		return "unknown"
	}
}
