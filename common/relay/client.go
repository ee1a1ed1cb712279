package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum message size allowed from peer (clients only send pongs, not data)
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Event stream is read-only; origin checks add nothing here.
		return true
	},
}

// Client represents a WebSocket connection bound to one subscription
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	sub    *Subscription
	logger Logger
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, sub *Subscription, logger Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		sub:    sub,
		logger: logger,
	}
}

// ServeWS upgrades the connection and streams events over WebSocket.
// An execution_id query parameter narrows the stream to one execution;
// without it the client receives every event.
func ServeWS(hub *Hub, logger Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		executionID := c.QueryParam("execution_id")

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "error", err)
			return nil // Upgrade already wrote the error response
		}

		client := NewClient(hub, conn, hub.Subscribe(executionID), logger)
		logger.Debug("websocket connected",
			"execution_id", executionID,
			"remote", c.Request().RemoteAddr)

		go client.writePump()
		go client.readPump()
		return nil
	}
}

// readPump pumps messages from the WebSocket connection to the hub
// We don't expect messages from clients (server-push only), but we need this
// to handle ping/pong and detect disconnects
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			break
		}
		// Inbound messages are ignored (server-push only)
	}
}

// writePump pumps messages from the subscription to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sub.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped the subscription
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Send each event as its own frame so clients can parse each
			// JSON object individually.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush any queued events as separate frames too.
			n := len(c.sub.send)
			for i := 0; i < n; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.sub.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
