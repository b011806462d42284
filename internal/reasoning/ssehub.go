package reasoning

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const heartbeatInterval = 15 * time.Second

// SSEEvent is the wire shape of one server-sent event payload.
type SSEEvent struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// SSEClient receives framed events for one connection. The channel is closed
// by the hub when the session terminates or the client is dropped.
type SSEClient struct {
	ch chan []byte
}

func (c *SSEClient) Events() <-chan []byte {
	return c.ch
}

type sessionClients struct {
	clients map[*SSEClient]bool
	stopHB  chan struct{}
}

// SSEHub fans events out to the clients subscribed to each session. Events
// for a single session are delivered in the order the hub accepts them. A
// per-session heartbeat fires every 15 seconds.
type SSEHub struct {
	mu       sync.Mutex
	sessions map[string]*sessionClients
	logger   *zap.Logger

	now func() time.Time
}

func NewSSEHub(logger *zap.Logger) *SSEHub {
	return &SSEHub{
		sessions: make(map[string]*sessionClients),
		logger:   logger,
		now:      time.Now,
	}
}

func (h *SSEHub) SetClock(now func() time.Time) {
	h.now = now
}

// Subscribe registers a client for the session, starting the heartbeat on
// first subscription.
func (h *SSEHub) Subscribe(sessionID string) *SSEClient {
	client := &SSEClient{ch: make(chan []byte, 64)}

	h.mu.Lock()
	sc, ok := h.sessions[sessionID]
	if !ok {
		sc = &sessionClients{
			clients: make(map[*SSEClient]bool),
			stopHB:  make(chan struct{}),
		}
		h.sessions[sessionID] = sc
		go h.heartbeat(sessionID, sc.stopHB)
	}
	sc.clients[client] = true
	h.mu.Unlock()

	return client
}

// Unsubscribe drops one client. The last client leaving stops the heartbeat.
func (h *SSEHub) Unsubscribe(sessionID string, client *SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropClient(sessionID, client)
}

// dropClient must be called with the lock held.
func (h *SSEHub) dropClient(sessionID string, client *SSEClient) {
	sc, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if sc.clients[client] {
		delete(sc.clients, client)
		close(client.ch)
	}
	if len(sc.clients) == 0 {
		close(sc.stopHB)
		delete(h.sessions, sessionID)
	}
}

// Broadcast frames the event as "data: <json>\n\n" and writes it to every
// client of the session. A client whose buffer is full is dropped.
func (h *SSEHub) Broadcast(sessionID, eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["sessionId"] = sessionID
	event := SSEEvent{
		Type:      eventType,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to marshal sse event", zap.String("type", eventType), zap.Error(err))
		return
	}
	frame := append(append([]byte("data: "), payload...), '\n', '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	sc, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	for client := range sc.clients {
		select {
		case client.ch <- frame:
		default:
			h.dropClient(sessionID, client)
		}
	}
}

// CloseSession sends the terminal event and closes every client.
func (h *SSEHub) CloseSession(sessionID, terminalEvent string, data map[string]any) {
	h.Broadcast(sessionID, terminalEvent, data)

	h.mu.Lock()
	defer h.mu.Unlock()

	sc, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	for client := range sc.clients {
		delete(sc.clients, client)
		close(client.ch)
	}
	close(sc.stopHB)
	delete(h.sessions, sessionID)
}

func (h *SSEHub) heartbeat(sessionID string, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.Broadcast(sessionID, EventHeartbeat, map[string]any{})
		}
	}
}
