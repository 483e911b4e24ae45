package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"checkout-flow/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// ClientMessage is what a browser sends to manage its subscriptions.
type ClientMessage struct {
	Action string `json:"action"` // join | leave
	Scope  string `json:"scope"`  // order | tenant
	ID     int64  `json:"id"`
}

// ServerMessage carries either a control reply or a payment event.
type ServerMessage struct {
	Type       string               `json:"type"`
	Topic      string               `json:"topic,omitempty"`
	Error      string               `json:"error,omitempty"`
	OrderID    int64                `json:"orderId,omitempty"`
	TenantID   int64                `json:"tenantId,omitempty"`
	Approved   *bool                `json:"approved,omitempty"`
	Status     domain.OrderStatus   `json:"status,omitempty"`
	Source     domain.PaymentSource `json:"source,omitempty"`
	OccurredAt *time.Time           `json:"occurredAt,omitempty"`
}

func eventMessage(topic string, ev domain.PaymentEvent) ServerMessage {
	approved := ev.Approved
	at := ev.OccurredAt
	return ServerMessage{
		Type:       "payment",
		Topic:      topic,
		OrderID:    ev.OrderID,
		TenantID:   ev.TenantID,
		Approved:   &approved,
		Status:     ev.Status,
		Source:     ev.Source,
		OccurredAt: &at,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WSHandler struct {
	hub    *Hub
	logger *zap.Logger
}

func NewWSHandler(hub *Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{hub: hub, logger: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}

	c := &wsClient{
		hub:    h.hub,
		conn:   conn,
		logger: h.logger,
		send:   make(chan ServerMessage, sendBuffer),
		slow:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger
	send   chan ServerMessage

	slow     chan struct{}
	slowOnce sync.Once
	done     chan struct{}
}

// Deliver drops the event when the client cannot keep up and marks the
// client for disconnection.
func (c *wsClient) Deliver(topic string, ev domain.PaymentEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- eventMessage(topic, ev):
		return true
	default:
		c.slowOnce.Do(func() { close(c.slow) })
		return false
	}
}

func (c *wsClient) reply(msg ServerMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.LeaveAll(c)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("ws_read_failed", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(ServerMessage{Type: "error", Error: "malformed message"})
			continue
		}
		topic, ok := topicFor(msg)
		if !ok {
			c.reply(ServerMessage{Type: "error", Error: "unknown scope or id"})
			continue
		}

		switch msg.Action {
		case "join":
			c.hub.Join(topic, c)
			c.reply(ServerMessage{Type: "joined", Topic: topic})
		case "leave":
			c.hub.Leave(topic, c)
			c.reply(ServerMessage{Type: "left", Topic: topic})
		default:
			c.reply(ServerMessage{Type: "error", Error: "unknown action"})
		}
	}
}

func topicFor(msg ClientMessage) (string, bool) {
	if msg.ID <= 0 {
		return "", false
	}
	switch msg.Scope {
	case "order":
		return OrderTopic(msg.ID), true
	case "tenant":
		return TenantTopic(msg.ID), true
	}
	return "", false
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.slow:
			c.logger.Info("ws_slow_client_disconnected")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
				time.Now().Add(writeWait))
			return
		case <-c.done:
			return
		}
	}
}
