package ws

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"marketpulse.com/internal/tape/hub"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/internal/tape/tapemetrics"
	"marketpulse.com/pkg/logger"
)

// Server：订阅者侧的 ws 端点。协议见 proto.go：
// 入站 {action, source, market}，出站 ack/error + trade 推送。
type Server struct {
	Hub      *hub.Hub
	Upgrader websocket.Upgrader
	ctx      context.Context

	SendBuf    int
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(ctx context.Context, h *hub.Hub) *Server {
	return &Server{
		Hub: h,
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // 生产要校验 Origin
		},
		SendBuf:    256,
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 12,
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConn(wsConn, s.SendBuf)
	tapemetrics.OnWsOpen()
	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *Conn) {
	defer func() {
		c.markClosed()
		s.Hub.RemoveListener(c)
		_ = c.ws.Close()
		tapemetrics.OnWsClose()
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})
	c.ws.SetCloseHandler(func(code int, text string) error {
		_ = c.ws.SetReadDeadline(time.Now()) // 让 ReadMessage 立刻返回
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Debug(s.ctx, "ws read timeout", zap.String("conn", c.id))
			}
			return
		}
		s.handleClientMsg(c, b)
	}
}

// handleClientMsg：坏请求回 error ack，好请求登记订阅并 ack。
// 解析失败只影响这一条消息，连接继续活着。
func (s *Server) handleClientMsg(c *Conn, b []byte) {
	var msg ClientMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		c.Offer(encodeAck(AckMsg{Type: "error", Msg: "malformed request"}))
		return
	}

	src, ok := model.ParseSource(msg.Source)
	if !ok {
		c.Offer(encodeAck(AckMsg{Type: "error", Action: msg.Action, Msg: "unknown source: " + msg.Source}))
		return
	}
	if msg.Market == "" {
		c.Offer(encodeAck(AckMsg{Type: "error", Action: msg.Action, Source: msg.Source, Msg: "market required"}))
		return
	}

	switch msg.Action {
	case "subscribe":
		s.Hub.Subscribe(c, src, msg.Market)
		tapemetrics.WsSubOpsTotal.WithLabelValues("subscribe").Inc()
	case "unsubscribe":
		s.Hub.Unsubscribe(c, src, msg.Market)
		tapemetrics.WsSubOpsTotal.WithLabelValues("unsubscribe").Inc()
	default:
		c.Offer(encodeAck(AckMsg{Type: "error", Action: msg.Action, Msg: "unknown action"}))
		return
	}

	c.Offer(encodeAck(AckMsg{Type: "ack", Action: msg.Action, Source: msg.Source, Market: msg.Market}))
}

func (s *Server) writePump(c *Conn) {
	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		c.markClosed()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				tapemetrics.WsWriteErrorsTotal.Inc()
				return
			}
			tapemetrics.WsMsgsOutTotal.Inc()
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.WriteWait)); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
