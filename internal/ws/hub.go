// Package ws streams application events to connected reviewer consoles.
// Clients subscribe to the console feed or individual application
// channels and can resume from the last acknowledged sequence.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/pubsub"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub fans events out to subscribed connections.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*Conn]bool
	subs    map[string]map[*Conn]bool // channel -> connections
	publish chan event
	streams *pubsub.Streams
	log     *zap.Logger
}

// Conn is one reviewer console connection.
type Conn struct {
	ws       *websocket.Conn
	send     chan []byte
	hub      *Hub
	clientID string
	subs     map[string]bool
}

type event struct {
	channel string
	message map[string]interface{}
}

func NewHub(streams *pubsub.Streams, log *zap.Logger) *Hub {
	return &Hub{
		conns:   make(map[*Conn]bool),
		subs:    make(map[string]map[*Conn]bool),
		publish: make(chan event, 256),
		streams: streams,
		log:     log,
	}
}

// Run drains the publish queue. Call it once from main.
func (h *Hub) Run() {
	for ev := range h.publish {
		h.mu.RLock()
		conns := h.subs[ev.channel]
		h.mu.RUnlock()

		if len(conns) == 0 {
			continue
		}
		msg, _ := json.Marshal(ev.message)
		for conn := range conns {
			select {
			case conn.send <- msg:
			default:
				h.unregister(conn)
			}
		}
	}
}

// Broadcast queues an event for every subscriber of channel. It never
// blocks the publisher; a full queue drops the event (clients resume
// from the stream).
func (h *Hub) Broadcast(channel string, message map[string]interface{}) {
	select {
	case h.publish <- event{channel: channel, message: message}:
	default:
		h.log.Warn("Hub queue full, dropping event", zap.String("channel", channel))
	}
}

func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(conn.send)
		for channel := range conn.subs {
			if subs := h.subs[channel]; subs != nil {
				delete(subs, conn)
				if len(subs) == 0 {
					delete(h.subs, channel)
				}
			}
		}
	}
}

func (h *Hub) subscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Conn]bool)
	}
	h.subs[channel][conn] = true
	conn.subs[channel] = true
}

func (h *Hub) unsubscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.subs[channel]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
	delete(conn.subs, channel)
}

func NewConn(ws *websocket.Conn, hub *Hub, clientID string) *Conn {
	return &Conn{
		ws:       ws,
		send:     make(chan []byte, 256),
		hub:      hub,
		clientID: clientID,
		subs:     make(map[string]bool),
	}
}

// ReadPump consumes client messages until the connection drops.
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Warn("Failed to parse message", zap.Error(err))
			continue
		}
		c.handleMessage(msg)
	}
}

// WritePump flushes queued messages and keeps the connection pinged.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleMessage(msg map[string]interface{}) {
	msgType, _ := msg["type"].(string)
	channel, _ := msg["channel"].(string)

	switch msgType {
	case "subscribe":
		if channel != "" {
			c.hub.subscribe(c, channel)
			c.sendAck("subscribed", channel)
		}
	case "unsubscribe":
		if channel != "" {
			c.hub.unsubscribe(c, channel)
			c.sendAck("unsubscribed", channel)
		}
	case "ack":
		seq, _ := msg["seq"].(float64)
		if channel != "" && seq > 0 {
			if err := c.hub.streams.Ack(channel, c.clientID, int64(seq)); err != nil {
				c.hub.log.Warn("Failed to record ack", zap.String("channel", channel), zap.Error(err))
			}
		}
	case "resume":
		if channel == "" {
			return
		}
		// Without an explicit since, pick up from the last sequence this
		// client acknowledged on the channel.
		if since, ok := msg["since"].(float64); ok && since >= 0 {
			c.resume(channel, int64(since))
			return
		}
		acked, err := c.hub.streams.LastAck(channel, c.clientID)
		if err != nil {
			c.hub.log.Warn("Failed to read last ack", zap.String("channel", channel), zap.Error(err))
			return
		}
		c.resume(channel, acked)
	case "ping":
		c.sendAck("pong", "")
	default:
		c.hub.log.Warn("Unknown message type", zap.String("type", msgType))
	}
}

func (c *Conn) resume(channel string, sinceSeq int64) {
	events, err := c.hub.streams.Replay(channel, sinceSeq, 100)
	if err != nil {
		c.hub.log.Error("Failed to replay events",
			zap.String("channel", channel), zap.Int64("since", sinceSeq), zap.Error(err))
		return
	}

	for _, ev := range events {
		msg, _ := json.Marshal(map[string]interface{}{
			"type":    "event",
			"channel": ev.Channel,
			"seq":     ev.Sequence,
			"data":    ev.Event,
		})
		select {
		case c.send <- msg:
		default:
			c.hub.log.Warn("Connection buffer full during resume")
			return
		}
	}
}

func (c *Conn) sendAck(msgType, channel string) {
	ack := map[string]interface{}{"type": "ack", "ack": msgType}
	if channel != "" {
		ack["channel"] = channel
	}
	msg, _ := json.Marshal(ack)
	select {
	case c.send <- msg:
	default:
	}
}
