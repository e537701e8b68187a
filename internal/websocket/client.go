package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sizeview/sizeview/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the peer to answer our close frame.
	closeGrace = 2 * time.Second

	// Maximum message size accepted from the server. Directory listings can be large.
	clientMaxMessageSize = 64 << 20

	// Outgoing messages queued before Send reports back-pressure.
	sendBufferSize = 256

	// Deliveries buffered per subscriber.
	subscriberBufferSize = 256
)

// Options configures a Client.
type Options struct {
	Endpoint    string
	DialTimeout time.Duration
	// PingPeriod enables keepalive pings; zero disables them.
	PingPeriod time.Duration
	Header     http.Header
}

// Client owns one persistent channel to the scan server. It delivers every
// inbound payload, decoded, to each subscriber in arrival order, and never
// reconnects once the channel has failed or closed.
type Client struct {
	id     string
	opts   Options
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu          sync.RWMutex
	status      Status
	started     bool
	subscribers []chan Delivery
	conn        *websocket.Conn

	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
	lifetime  context.Context
}

// NewClient creates a client in the connecting state. Nothing is dialed until Connect.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		logger: logger.With().Str("component", "websocket").Str("connectionId", id).Logger(),
		status: Status{State: StateConnecting},
		send:   make(chan []byte, sendBufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

// Subscribe registers a consumer of the receive stream. Register consumers
// before Connect; the channel is closed after the terminal status.
func (c *Client) Subscribe() <-chan Delivery {
	ch := make(chan Delivery, subscriberBufferSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Status returns the current lifecycle state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Done is closed once the client has reached a terminal state and every
// delivery has been handed to subscribers.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connect performs the handshake. ctx bounds both the dial and the lifetime
// of the connection: cancelling it closes the channel.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.status.State.Terminal() || c.closing() {
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", ErrChannelClosed)
	}
	c.started = true
	c.lifetime = ctx
	c.mu.Unlock()

	c.deliver(Delivery{Status: &Status{State: StateConnecting}})
	c.logger.Info().Str("endpoint", c.opts.Endpoint).Msg("Connecting")

	dialCtx := ctx
	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, c.opts.Endpoint, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		connErr := &ConnectionError{Endpoint: c.opts.Endpoint, Phase: "handshake", Err: err}
		c.logger.Error().Err(err).Msg("Handshake failed")
		c.finish(Status{State: StateError, Err: connErr})
		return connErr
	}

	conn.SetReadLimit(clientMaxMessageSize)

	c.mu.Lock()
	if c.closing() {
		// Close ran while the handshake was in flight
		c.mu.Unlock()
		conn.Close()
		c.finish(Status{State: StateClosed, Err: ErrChannelClosed})
		return fmt.Errorf("connect: %w", ErrChannelClosed)
	}
	c.conn = conn
	c.status = Status{State: StateOpen}
	c.mu.Unlock()

	c.deliver(Delivery{Status: &Status{State: StateOpen}})
	c.logger.Info().Msg("Connection open")

	go c.writePump(conn)
	go c.readPump(conn)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	return nil
}

// Send encodes msg and queues it for the write pump. It never blocks.
func (c *Client) Send(msg protocol.Control) error {
	if st := c.Status(); st.State != StateOpen {
		return fmt.Errorf("send %s: %w (state %s)", msg.Type(), ErrNotOpen, st.State)
	}

	data, err := protocol.EncodeControl(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.quit:
		return fmt.Errorf("send %s: %w", msg.Type(), ErrNotOpen)
	default:
	}

	select {
	case c.send <- data:
		c.logger.Debug().Str("type", msg.Type()).Msg("Queued control message")
		return nil
	default:
		return fmt.Errorf("send %s: %w", msg.Type(), ErrSendBufferFull)
	}
}

// Close starts a graceful close. The closed status is delivered once the
// server acknowledges or the grace period expires.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})

	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		c.finish(Status{State: StateClosed, Err: ErrChannelClosed})
	}
}

func (c *Client) closing() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// readPump pumps messages from the websocket connection to the subscribers.
func (c *Client) readPump(conn *websocket.Conn) {
	defer conn.Close()

	if c.opts.PingPeriod > 0 {
		pongWait := c.opts.PingPeriod * 10 / 9
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			c.finish(c.classify(err))
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn().Int("messageType", messageType).Msg("Ignoring non-text frame")
			continue
		}

		ev, err := protocol.DecodeEvent(message)
		if err != nil {
			c.deliver(Delivery{Err: err})
			continue
		}
		c.deliver(Delivery{Event: ev})
	}
}

// writePump pumps queued control messages to the websocket connection.
func (c *Client) writePump(conn *websocket.Conn) {
	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case message := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn().Err(err).Msg("Write failed")
				conn.Close()
				return
			}

		case <-tick:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-c.quit:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
			// readPump ends when the server echoes the close frame or the grace period expires
			conn.SetReadDeadline(time.Now().Add(closeGrace))
			return

		case <-c.done:
			return
		}
	}
}

func (c *Client) classify(err error) Status {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return Status{State: StateClosed, Err: ErrChannelClosed}
	}
	if c.closing() {
		return Status{State: StateClosed, Err: ErrChannelClosed}
	}
	return Status{
		State: StateError,
		Err:   &ConnectionError{Endpoint: c.opts.Endpoint, Phase: "transport", Err: err},
	}
}

// finish records the terminal status, delivers it and closes the stream.
func (c *Client) finish(st Status) {
	c.mu.Lock()
	if c.status.State.Terminal() {
		c.mu.Unlock()
		return
	}
	c.status = st
	c.mu.Unlock()

	if st.State == StateError {
		c.logger.Error().Err(st.Err).Msg("Connection failed")
	} else {
		c.logger.Info().Msg("Connection closed")
	}

	c.deliver(Delivery{Status: &st})

	c.mu.Lock()
	subs := c.subscribers
	c.subscribers = nil
	c.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
	c.doneOnce.Do(func() { close(c.done) })
}

// deliver hands d to every subscriber in order. It blocks while a
// subscriber's buffer is full, unless the connection lifetime has ended.
func (c *Client) deliver(d Delivery) {
	c.mu.RLock()
	subs := c.subscribers
	lifetime := c.lifetime
	c.mu.RUnlock()

	var cancelled <-chan struct{}
	if lifetime != nil {
		cancelled = lifetime.Done()
	}

	for _, ch := range subs {
		select {
		case ch <- d:
		case <-cancelled:
			// the consumer is gone; keep terminal deliveries if there is room
			select {
			case ch <- d:
			default:
			}
		}
	}
}
