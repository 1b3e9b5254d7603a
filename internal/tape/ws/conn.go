package ws

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"marketpulse.com/internal/tape/hub"
	"marketpulse.com/internal/tape/tapemetrics"
)

// Conn：一条订阅者连接。
// send 是有界队列：Offer 非阻塞，队列满直接丢（at-most-once，慢客户端自己承担）。
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	closed atomic.Bool
}

func newConn(ws *websocket.Conn, sendBuf int) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuf),
	}
}

// Offer 实现 hub.Listener
func (c *Conn) Offer(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		tapemetrics.WsDroppedTotal.WithLabelValues("send_full").Inc()
		return false
	}
}

func (c *Conn) markClosed() {
	c.closed.Store(true)
}

var _ hub.Listener = (*Conn)(nil)
