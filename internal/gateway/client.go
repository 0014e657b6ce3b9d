package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"telecom-signaling/internal/accounts"

	"github.com/gorilla/websocket"
)

var (
	ErrClientClosed = errors.New("gateway: client closed")
	ErrSlowConsumer = errors.New("gateway: client send buffer full")
)

const sendBuffer = 64

// closeSuperseded is sent to a connection replaced by a newer one for the
// same identity.
const closeSuperseded = 4000

// client is one admitted websocket connection. Only writePump writes to conn.
type client struct {
	id     string
	ns     Namespace
	userID string
	conn   *websocket.Conn
	log    *slog.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeCode int
	closeText string
	mu        sync.Mutex
}

func newClient(id string, ns Namespace, userID string, conn *websocket.Conn, log *slog.Logger) *client {
	return &client{
		id:     id,
		ns:     ns,
		userID: userID,
		conn:   conn,
		log:    log,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *client) role() accounts.Role { return c.ns.Role }

// enqueue never blocks; a client that cannot keep up is dropped.
func (c *client) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.close(websocket.ClosePolicyViolation, "send buffer full")
		return ErrSlowConsumer
	}
}

// close asks writePump to send a close frame and shut the connection.
func (c *client) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeText = code, text
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *client) readPump(timing Timing, onFrame func([]byte)) {
	c.conn.SetReadLimit(timing.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(timing.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(timing.PongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("websocket read failed", "err", err)
			}
			return
		}
		onFrame(msg)
	}
}

func (c *client) writePump(timing Timing) {
	ticker := time.NewTicker(timing.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timing.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timing.WriteWait)); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.mu.Lock()
			code, text := c.closeCode, c.closeText
			c.mu.Unlock()
			if code != websocket.CloseAbnormalClosure {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(timing.WriteWait))
			}
			return
		}
	}
}
