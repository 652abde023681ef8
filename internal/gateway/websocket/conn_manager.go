// Package websocket upgrades /socket requests and pumps frames between
// the browser and the relay.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"astro_chat_server/internal/config"
	"astro_chat_server/internal/service/relay"
)

const writeWait = 10 * time.Second

var (
	errConnClosed = errors.New("websocket: connection closed")
	errSendFull   = errors.New("websocket: send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	// browsers connect from the web app's own origin, which differs per deployment
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway creates a UserConn per upgraded request.
type Gateway struct {
	handler FrameHandler
	conf    config.RelayConfig
}

func NewGateway(handler FrameHandler, conf config.RelayConfig) *Gateway {
	if conf.SendBufferSize <= 0 {
		conf.SendBufferSize = 256
	}
	if conf.PingInterval <= 0 {
		conf.PingInterval = 25
	}
	if conf.MaxMessageSize <= 0 {
		conf.MaxMessageSize = 64 << 10
	}
	return &Gateway{handler: handler, conf: conf}
}

// UserConn is one browser connection. It implements relay.Conn.
type UserConn struct {
	id       string
	conn     *websocket.Conn
	sendBack chan []byte // to the browser
	done     chan struct{}
	once     sync.Once
}

func (u *UserConn) ID() string { return u.id }

// Send queues f without blocking. A connection that cannot keep up is closed.
func (u *UserConn) Send(f relay.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-u.done:
		return errConnClosed
	default:
	}
	select {
	case u.sendBack <- b:
		return nil
	case <-u.done:
		return errConnClosed
	default:
		zap.L().Warn("ws send buffer full, closing", zap.String("conn", u.id), zap.String("event", f.Event))
		_ = u.Close()
		return errSendFull
	}
}

// Close stops both pumps. Frames already queued are still flushed.
// Safe to call more than once.
func (u *UserConn) Close() error {
	u.once.Do(func() {
		close(u.done)
	})
	return nil
}

// ServeWS upgrades the request and blocks until the connection ends.
// A non-empty joinID is joined before any client frame is read.
func (g *Gateway) ServeWS(c *gin.Context, joinID string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the http error
		zap.L().Warn("ws upgrade failed", zap.Error(err))
		return
	}

	u := &UserConn{
		id:       uuid.NewString(),
		conn:     conn,
		sendBack: make(chan []byte, g.conf.SendBufferSize),
		done:     make(chan struct{}),
	}
	g.handler.Connect(u)
	zap.L().Info("ws connected", zap.String("conn", u.id), zap.String("remote", c.ClientIP()))

	go g.write(u)

	if joinID != "" {
		if f, err := relay.NewFrame(relay.EventJoinRoom, joinID); err == nil {
			_ = g.handler.Dispatch(context.Background(), u, f)
		}
	}

	g.read(u)

	g.handler.Disconnect(context.Background(), u)
	_ = u.Close()
	zap.L().Info("ws disconnected", zap.String("conn", u.id))
}

// read hands every text message to the relay until the peer goes away.
func (g *Gateway) read(u *UserConn) {
	pongWait := time.Duration(g.conf.PingInterval) * time.Second * 2
	u.conn.SetReadLimit(g.conf.MaxMessageSize)
	_ = u.conn.SetReadDeadline(time.Now().Add(pongWait))
	u.conn.SetPongHandler(func(string) error {
		return u.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := u.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zap.L().Debug("ws read", zap.String("conn", u.id), zap.Error(err))
			}
			return
		}
		_ = u.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		// rejected frames are answered with an "error" frame, the loop goes on
		_ = g.handler.HandleMessage(context.Background(), u, data)
	}
}

// write drains sendBack and keeps the connection alive with pings.
// It owns the socket teardown, which also ends read.
func (g *Gateway) write(u *UserConn) {
	ticker := time.NewTicker(time.Duration(g.conf.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		_ = u.Close()
		_ = u.conn.Close()
	}()

	for {
		select {
		case msg := <-u.sendBack:
			if err := u.writeText(msg); err != nil {
				zap.L().Debug("ws write", zap.String("conn", u.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := u.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			g.touch(u)
		case <-u.done:
			u.flush()
			return
		}
	}
}

func (g *Gateway) touch(u *UserConn) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := g.handler.Touch(ctx, u); err != nil {
		zap.L().Warn("refresh presence", zap.String("conn", u.id), zap.Error(err))
	}
}

func (u *UserConn) writeText(msg []byte) error {
	_ = u.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return u.conn.WriteMessage(websocket.TextMessage, msg)
}

// flush writes what is still queued, then says goodbye.
func (u *UserConn) flush() {
	for {
		select {
		case msg := <-u.sendBack:
			if err := u.writeText(msg); err != nil {
				return
			}
		default:
			_ = u.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}
