package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/smoothstream/internal/chunks"
	"github.com/dohr-michael/smoothstream/internal/events"
	"github.com/dohr-michael/smoothstream/internal/smooth"
)

// Client represents a connected WebSocket client. Each client owns one
// smoothing stage fed by its push requests.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	transform *smooth.Transform

	mu         sync.RWMutex
	subscribed bool
	sessionID  string
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	factory     smooth.Factory
	unsubscribe func()
}

// NewHub creates a new WebSocket hub connected to an event bus.
func NewHub(bus *events.Bus, factory smooth.Factory) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		factory: factory,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.SessionID, e)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(e.SessionID, data)
	}, events.EventAssistantSmooth)

	return h
}

// broadcast sends data to every client subscribed to sessionID.
func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(sessionID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slog.Debug("ws client too slow, event skipped", "session_id", sessionID)
		}
	}
}

// SetFactory changes the smoothing stage of connections accepted from now on.
func (h *Hub) SetFactory(f smooth.Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factory = f
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	h.mu.RLock()
	factory := h.factory
	h.mu.RUnlock()

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
		transform: factory(),
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

func (c *Client) wants(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed && (c.sessionID == "" || c.sessionID == sessionID)
}

// readPump reads frames from the WS connection and dispatches them. Frames
// are handled one at a time, so a push waits for the previous one to drain.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		if frame.Type != FrameTypeRequest {
			slog.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(ctx, frame)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch frame.Method {
	case MethodPush:
		chunk, err := chunks.Unmarshal(frame.Params)
		if err != nil {
			c.sendError(ctx, frame.ID, "invalid params: "+err.Error())
			return
		}
		if err := c.transform.Process(ctx, chunk, c.emitChunk(ctx)); err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]int{"buffered": len(c.transform.Buffered())})

	case MethodFlush:
		if err := c.transform.Flush(c.emitChunk(ctx)); err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]int{"buffered": 0})

	case MethodPublish:
		var params events.AssistantStreamPayload
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(ctx, frame.ID, "invalid params")
			return
		}
		e := events.NewTypedEventWithSession(events.SourceWS, params, frame.SessionID)
		if err := c.hub.bus.PublishAsync(ctx, e); err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]string{"status": "published"})

	case MethodSubscribe:
		c.mu.Lock()
		c.subscribed = true
		c.sessionID = frame.SessionID
		c.mu.Unlock()
		c.sendOK(ctx, frame.ID, map[string]string{"session_id": frame.SessionID})

	default:
		c.sendError(ctx, frame.ID, "unknown method: "+string(frame.Method))
	}
}

// emitChunk returns an emitter that queues smoothed chunks for the client.
// It blocks rather than drop, so the client sees every piece.
func (c *Client) emitChunk(ctx context.Context) smooth.EmitFunc {
	return func(chunk chunks.Chunk) error {
		f, err := NewChunkFrame(chunk)
		if err != nil {
			return err
		}
		data, err := MarshalFrame(f)
		if err != nil {
			return err
		}
		return c.enqueue(ctx, data)
	}
}

func (c *Client) enqueue(ctx context.Context, data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(ctx context.Context, id string, payload any) {
	c.respond(ctx, id, true, payload, "")
}

func (c *Client) sendError(ctx context.Context, id string, errMsg string) {
	c.respond(ctx, id, false, nil, errMsg)
}

func (c *Client) respond(ctx context.Context, id string, ok bool, payload any, errMsg string) {
	f, err := NewResponseFrame(id, ok, payload, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	if err := c.enqueue(ctx, data); err != nil {
		slog.Debug("ws response dropped", "id", id, "error", err)
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
