package peer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	frameHello = "hello"
	frameOpen  = "open"
)

// frame is a handshake message exchanged before a connection is adopted.
type frame struct {
	Type    string `json:"hs"`
	Session string `json:"session,omitempty"`
	Token   string `json:"token,omitempty"`
}

// conn is one candidate websocket between the peers. Only the adopted conn
// carries sync traffic.
type conn struct {
	id       string
	ws       *websocket.Conn
	outbound bool
	cfg      Config
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	// verified is guarded by the transport's mutex.
	verified bool
}

func newConn(id string, ws *websocket.Conn, outbound bool, cfg Config) *conn {
	return &conn{
		id:       id,
		ws:       ws,
		outbound: outbound,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue hands data to the write pump without blocking.
func (c *conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		log.Warn().Str("conn", c.id).Msg("peer send buffer full, closing connection")
		c.close()
		return false
	}
}

func (c *conn) enqueueFrame(f frame) bool {
	b, err := json.Marshal(f)
	if err != nil {
		return false
	}
	return c.enqueue(b)
}

// close stops both pumps. The write pump closes the socket on its way out.
func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("peer write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("peer ping failed")
				return
			}
		}
	}
}

// readPump delivers every inbound text frame to fn until the socket fails,
// then calls closed.
func (c *conn) readPump(fn func(c *conn, data []byte), closed func(c *conn)) {
	defer func() {
		c.close()
		closed(c)
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn", c.id).Msg("unexpected peer close")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		fn(c, data)
	}
}
