// Package ws streams request progress to WebSocket clients. A client follows
// exactly one request and the connection closes after its terminal event.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 512

	// sendBufferSize is the channel buffer for outgoing frames per client.
	sendBufferSize = 64
)

// Frame encodings selected with the encoding query parameter.
const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS and auth middleware.
		return true
	},
}

// ReportSource looks up finished requests so late subscribers still get
// their events. *service.TradeService implements it.
type ReportSource interface {
	Get(ctx context.Context, requestID string) (domain.TradeReport, error)
}

// ChannelFunc maps a request id to its bus channel.
type ChannelFunc func(requestID string) string

// frame is one outgoing WebSocket message.
type frame struct {
	kind int
	data []byte
}

// client represents a single WebSocket connection.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan frame
	requestID string
	encoding  string
	cancel    context.CancelFunc
}

// Hub tracks connected clients and bridges the progress bus to them.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.ProgressBus
	reports    ReportSource
	channel    ChannelFunc
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub. reports may be nil.
func NewHub(bus domain.ProgressBus, reports ReportSource, channel ChannelFunc, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		reports:    reports,
		channel:    channel,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Run starts the hub's main event loop. It returns when ctx is cancelled,
// after closing every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			close(h.done)
			for c := range h.clients {
				c.cancel()
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.String("request_id", c.requestID),
				slog.String("encoding", c.encoding),
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				c.cancel()
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.String("request_id", c.requestID),
				slog.Int("total_clients", h.clientCount()),
			)
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection that follows
// one request's progress.
// GET /ws?request_id=<id>&encoding=json|proto
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		http.Error(w, `{"error":"request_id query parameter required"}`, http.StatusBadRequest)
		return
	}
	encoding := r.URL.Query().Get("encoding")
	if encoding == "" {
		encoding = EncodingJSON
	}
	if encoding != EncodingJSON && encoding != EncodingProto {
		http.Error(w, `{"error":"encoding must be json or proto"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan frame, sendBufferSize),
		requestID: requestID,
		encoding:  encoding,
		cancel:    cancel,
	}

	select {
	case h.register <- c:
	case <-h.done:
		cancel()
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
	go c.follow(ctx)
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver queues f for c unless c is gone. It reports whether the frame was
// queued.
func (h *Hub) deliver(c *client, f frame) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		h.logger.Warn("ws: dropping frame for slow client", slog.String("request_id", c.requestID))
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// follow subscribes before checking for a finished report so no event
// published in between is lost.
func (c *client) follow(ctx context.Context) {
	defer c.hub.leave(c)

	msgs, err := c.hub.bus.Subscribe(ctx, c.hub.channel(c.requestID))
	if err != nil {
		c.hub.logger.Error("ws: subscribe failed",
			slog.String("request_id", c.requestID),
			slog.String("error", err.Error()),
		)
		return
	}

	if c.hub.reports != nil {
		if report, err := c.hub.reports.Get(ctx, c.requestID); err == nil {
			for _, ev := range report.Progress {
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				c.forward(payload)
			}
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			if !c.forward(payload) {
				return
			}
			var ev domain.ProgressEvent
			if json.Unmarshal(payload, &ev) == nil && ev.Stage == domain.StageDone {
				return
			}
		}
	}
}

// forward encodes a JSON progress payload for the client and queues it.
func (c *client) forward(payload []byte) bool {
	f, err := encodeFrame(c.encoding, payload)
	if err != nil {
		c.hub.logger.Warn("ws: encode frame failed",
			slog.String("request_id", c.requestID),
			slog.String("error", err.Error()),
		)
		return true
	}
	return c.hub.deliver(c, f)
}

// encodeFrame turns a JSON payload into a text frame, or for proto clients
// into a binary google.protobuf.Struct.
func encodeFrame(encoding string, payload []byte) (frame, error) {
	if encoding != EncodingProto {
		return frame{kind: websocket.TextMessage, data: payload}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return frame{}, fmt.Errorf("ws: decode payload: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return frame{}, fmt.Errorf("ws: build struct: %w", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return frame{}, fmt.Errorf("ws: marshal struct: %w", err)
	}
	return frame{kind: websocket.BinaryMessage, data: data}, nil
}

// readPump drains the connection so control frames are processed, and
// unregisters the client when the peer goes away.
func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("request_id", c.requestID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// writePump pumps frames from the hub to the connection and sends periodic
// pings. A closed send channel ends the stream with a normal close.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
