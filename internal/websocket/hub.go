package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sizeview/sizeview/internal/protocol"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Control messages are small.
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// ControlHandler is called on the hub goroutine for every decoded control message.
type ControlHandler func(peer *Peer, msg protocol.Control)

// incomingMessage wraps a message from a peer.
type incomingMessage struct {
	peer    *Peer
	message []byte
}

// Hub is the server side of the protocol: it accepts websocket peers and
// serializes their control messages onto one goroutine.
type Hub struct {
	peers      map[*Peer]bool
	register   chan *Peer
	unregister chan *Peer
	incoming   chan incomingMessage
	stopped    chan struct{}
	mu         sync.RWMutex
	onControl  ControlHandler
	onLeave    func(peer *Peer)
	logger     zerolog.Logger
}

// Peer represents one connected client.
type Peer struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a new WebSocket hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		peers:      make(map[*Peer]bool),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		incoming:   make(chan incomingMessage, 256),
		stopped:    make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// SetControlHandler registers the handler for control messages.
func (h *Hub) SetControlHandler(handler ControlHandler) {
	h.onControl = handler
}

// SetLeaveHandler registers a callback for disconnected peers.
func (h *Hub) SetLeaveHandler(handler func(peer *Peer)) {
	h.onLeave = handler
}

// Run starts the hub's main loop. It returns when stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	defer close(h.stopped)

	for {
		select {
		case peer := <-h.register:
			h.mu.Lock()
			h.peers[peer] = true
			h.mu.Unlock()

		case peer := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.peers[peer]; ok {
				delete(h.peers, peer)
				close(peer.send)
			}
			h.mu.Unlock()
			if h.onLeave != nil {
				h.onLeave(peer)
			}

		case incoming := <-h.incoming:
			h.handleIncoming(incoming)

		case <-stop:
			h.mu.Lock()
			for peer := range h.peers {
				delete(h.peers, peer)
				close(peer.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// handleIncoming decodes a control message and hands it to the handler.
func (h *Hub) handleIncoming(incoming incomingMessage) {
	msg, err := protocol.DecodeControl(incoming.message)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Dropping malformed control message")
		return
	}
	if h.onControl != nil {
		h.onControl(incoming.peer, msg)
	}
}

// Send queues an event for one peer. It reports false when the peer is gone
// or too slow to keep up.
func (p *Peer) Send(ev protocol.Event) bool {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		p.hub.logger.Error().Err(err).Str("type", ev.Type()).Msg("Failed to encode event")
		return false
	}

	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()
	if !p.hub.peers[p] {
		return false
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// HandleWebSocket handles WebSocket connection upgrade.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	peer := &Peer{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 1024),
	}

	select {
	case h.register <- peer:
	case <-h.stopped:
		conn.Close()
		return nil
	}

	go peer.writePump()
	go peer.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (p *Peer) readPump() {
	defer func() {
		select {
		case p.hub.unregister <- p:
		case <-p.hub.stopped:
		}
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	p.conn.SetPingHandler(func(data string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return p.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.hub.logger.Debug().Err(err).Msg("Peer connection dropped")
			}
			break
		}

		select {
		case p.hub.incoming <- incomingMessage{peer: p, message: message}:
		case <-p.hub.stopped:
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// Each message is a separate frame; the client decodes one event per frame
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
