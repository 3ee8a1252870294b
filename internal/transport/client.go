package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voip-exchange/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// wsClient binds one websocket connection to one signaling session. Outbound
// signals go through a buffered channel drained by a single writer goroutine;
// a slow or dead client drops signals rather than blocking the session.
type wsClient struct {
	conn *websocket.Conn
	log  *slog.Logger

	out       chan []byte
	closeOnce sync.Once
}

var _ signaling.ClientSignaler = (*wsClient)(nil)

func newWSClient(conn *websocket.Conn, log *slog.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		log:  log,
		out:  make(chan []byte, sendBuffer),
	}
}

func (c *wsClient) signal(event string, args ...any) {
	frame, err := encodeFrame(event, args...)
	if err != nil {
		c.log.Error("encode frame", "event", event, "err", err)
		return
	}
	select {
	case c.out <- frame:
	default:
		c.log.Warn("dropping signal, client send buffer full", "event", event)
	}
}

func (c *wsClient) CallRequest(from string)       { c.signal(EventCallRequest, from) }
func (c *wsClient) CalleeRinging()                { c.signal(EventCalleeRinging) }
func (c *wsClient) CallConnected()                { c.signal(EventCallConnected) }
func (c *wsClient) CallCancelled()                { c.signal(EventCallCancelled) }
func (c *wsClient) CallNotPossible(reason string) { c.signal(EventCallNotPossible, reason) }
func (c *wsClient) CallEnded()                    { c.signal(EventCallEnded) }
func (c *wsClient) IncomingTalk(msg string)       { c.signal(EventTalk, msg) }
func (c *wsClient) Error(reason string)           { c.signal(EventError, reason) }

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.out) })
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// readLoop dispatches inbound frames to the session until the connection
// drops, then runs the session's disconnect handling.
func (c *wsClient) readLoop(ctx context.Context, sess *signaling.Session) {
	defer func() {
		sess.Disconnect(ctx)
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("websocket closed unexpectedly", "number", sess.Number(), "err", err)
			}
			return
		}
		event, args, err := decodeFrame(data)
		if err != nil {
			c.log.Warn("bad client frame", "number", sess.Number(), "err", err)
			continue
		}
		c.dispatch(ctx, sess, event, args)
	}
}

func (c *wsClient) dispatch(ctx context.Context, sess *signaling.Session, event string, args []string) {
	switch event {
	case EventMakeCall:
		sess.MakeCall(ctx, frameArg(args, 0))
	case EventCallAcknowledged:
		sess.AcknowledgeCall(ctx, frameArg(args, 0))
	case EventCallAccepted:
		sess.AcceptCall(ctx)
	case EventCallRefused:
		sess.RefuseCall(ctx, frameArg(args, 0), frameArg(args, 1))
	case EventHangUp:
		sess.HangUp(ctx)
	case EventTalk:
		sess.SendTalk(frameArg(args, 0))
	default:
		c.log.Warn("unknown client event", "number", sess.Number(), "event", event)
	}
}
