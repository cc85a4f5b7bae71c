package inspector

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return isAllowedOrigin(r.Header.Get("Origin"))
	},
}

// wsClient is one connected dashboard subscribed to the sample feed,
// optionally filtered to a single pid via ?pid=.
type wsClient struct {
	conn        *websocket.Conn
	send        chan Event
	subscription *Subscription
	broadcaster *Broadcaster
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Debug("inspector: websocket upgrade failed")
		return
	}

	pid := 0
	if raw := r.URL.Query().Get("pid"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			pid = p
		}
	}

	client := &wsClient{
		conn:        conn,
		send:        make(chan Event, 64),
		broadcaster: s.broadcaster,
	}
	client.subscription = s.broadcaster.Subscribe(pid)

	go client.writePump()
	go client.readPump()
	go client.forwardEvents()
}

func (c *wsClient) readPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) forwardEvents() {
	for event := range c.subscription.Channel {
		select {
		case c.send <- event:
		default:
			// client too slow, drop the event
		}
	}
}

func (c *wsClient) cleanup() {
	if c.subscription != nil {
		c.broadcaster.Unsubscribe(c.subscription)
	}
	_ = c.conn.Close()
}
