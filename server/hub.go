package server

import (
	"encoding/json"
	"sync"
	"time"

	"DeckPilot/logger"
	"DeckPilot/model"

	"github.com/gorilla/websocket"
)

// MessageType tags a websocket message.
type MessageType string

const (
	MsgTypeStatus MessageType = "status" // session snapshot
	MsgTypePing   MessageType = "ping"   // heartbeat
	MsgTypePong   MessageType = "pong"   // heartbeat reply
	MsgTypeError  MessageType = "error"
)

// WSMessage is the websocket envelope.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Client is one status subscriber.
type Client struct {
	hub  *StatusHub
	conn *websocket.Conn
	send chan []byte
}

// StatusHub fans session snapshots out to WebSocket subscribers. It
// implements orchestrator.Observer.
type StatusHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once

	mu   sync.RWMutex
	last []byte // latest status message, sent to new subscribers
}

// NewStatusHub creates a hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop.
func (h *StatusHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.mu.RLock()
			last := h.last
			h.mu.RUnlock()
			if last != nil {
				c.send <- last
			}
			logger.Debug("status subscriber registered", logger.Int("subscribers", len(h.clients)))

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// send buffer full, drop the client
					h.remove(c)
				}
			}

		case <-h.done:
			for c := range h.clients {
				h.remove(c)
			}
			return
		}
	}
}

func (h *StatusHub) remove(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Stop ends the hub loop.
func (h *StatusHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish broadcasts a snapshot. It never blocks; when the hub is backed up
// the snapshot is dropped, the next one supersedes it anyway.
func (h *StatusHub) Publish(snap model.SessionSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		logger.Warn("marshal status snapshot failed", logger.ErrorField(err))
		return
	}
	msg, err := json.Marshal(&WSMessage{Type: MsgTypeStatus, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	h.mu.Lock()
	h.last = msg
	h.mu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		logger.Debug("status broadcast dropped")
	}
}

// Serve attaches conn as a subscriber and blocks until it disconnects.
func (h *StatusHub) Serve(conn *websocket.Conn) {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// readPump only handles heartbeats; subscribers cannot command the session
// over the socket.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err))
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type != MsgTypePing {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		pong, _ := json.Marshal(&WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		select {
		case c.send <- pong:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
