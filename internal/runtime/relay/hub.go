package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drblury/hermes/internal/runtime/ids"
	"github.com/drblury/hermes/internal/runtime/logging"
	"github.com/drblury/hermes/internal/runtime/metrics"
)

const (
	// DefaultPeerQueueSize is the number of frames buffered per peer before
	// new frames for that peer are dropped.
	DefaultPeerQueueSize = 256

	writeWait = 10 * time.Second
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithPeerQueueSize sets the per-peer outbound buffer.
func WithPeerQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithCheckOrigin replaces the same-origin handshake check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// WithHubMetrics attaches hub collectors.
func WithHubMetrics(m *metrics.HubMetrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// Hub accepts relay peers and forwards every frame a peer sends to all other
// peers, unmodified. It never interprets frames.
type Hub struct {
	upgrader  websocket.Upgrader
	logger    logging.ServiceLogger
	metrics   *metrics.HubMetrics
	queueSize int

	mu     sync.RWMutex
	peers  map[*peer]struct{}
	closed bool
}

type frame struct {
	kind int
	data []byte
}

type peer struct {
	id   string
	conn *websocket.Conn
	send chan frame
}

func NewHub(logger logging.ServiceLogger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	h := &Hub{
		logger:    logger.With(logging.LogFields{"component": "relay_hub"}),
		queueSize: DefaultPeerQueueSize,
		peers:     make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Relay handshake rejected", logging.LogFields{"error": err.Error(), "remote": r.RemoteAddr})
		return
	}

	p := &peer{id: ids.NewContextID(), conn: conn, send: make(chan frame, h.queueSize)}
	if !h.join(p) {
		_ = conn.Close()
		return
	}
	log := h.logger.With(logging.LogFields{"peer": p.id, "remote": r.RemoteAddr})
	log.Info("Peer joined", nil)

	go h.writeLoop(p, log)
	h.readLoop(p)

	h.leave(p)
	log.Info("Peer left", nil)
}

func (h *Hub) join(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p] = struct{}{}
	h.metrics.PeerJoined()
	return true
}

func (h *Hub) leave(p *peer) {
	h.mu.Lock()
	if _, ok := h.peers[p]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p)
	close(p.send)
	h.mu.Unlock()
	h.metrics.PeerLeft()
}

func (h *Hub) readLoop(p *peer) {
	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Error("Peer connection lost", err, logging.LogFields{"peer": p.id})
			}
			return
		}
		h.forward(p, frame{kind: kind, data: data})
	}
}

// forward queues f for every peer except the sender. A peer whose queue is
// full misses the frame.
func (h *Hub) forward(from *peer, f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		if p == from {
			continue
		}
		select {
		case p.send <- f:
			h.metrics.Forwarded()
		default:
			h.metrics.Dropped()
			h.logger.Warn("Peer queue full, dropping frame", logging.LogFields{"peer": p.id})
		}
	}
}

func (h *Hub) writeLoop(p *peer, log logging.ServiceLogger) {
	defer p.conn.Close()
	for f := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(f.kind, f.data); err != nil {
			log.Debug("Peer write failed", logging.LogFields{"error": err.Error()})
			return
		}
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Peers returns the number of connected peers.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every peer and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.peers))
	for p := range h.peers {
		conns = append(conns, p.conn)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
