package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

type wsUpgrader struct {
	websocket.Upgrader
}

func newUpgrader(origin string) wsUpgrader {
	return wsUpgrader{websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if origin == "*" {
				return true
			}
			o := r.Header.Get("Origin")
			return o == "" || o == origin
		},
	}}
}

// inboxSize bounds text frames read ahead of the chat loop.
const inboxSize = 8

// wsConn adapts a gorilla connection to chat.Conn. One goroutine owns all
// reads so a peer that goes away is noticed even in the middle of a reply;
// it then cancels the session context, which stops the upstream stream.
// A close frame from the peer reads as io.EOF.
type wsConn struct {
	c      *websocket.Conn
	inbox  chan string
	closed chan struct{}
	err    error // set before closed is closed
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{c: c, inbox: make(chan string, inboxSize), closed: make(chan struct{})}
}

// readLoop pumps text frames into the inbox until the connection fails, then
// calls gone.
func (w *wsConn) readLoop(ctx context.Context, gone context.CancelFunc) {
	defer gone()
	for {
		typ, data, err := w.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				err = io.EOF
			}
			w.err = err
			close(w.closed)
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		select {
		case w.inbox <- string(data):
		case <-ctx.Done():
			return
		}
	}
}

func (w *wsConn) ReadMessage(ctx context.Context) (string, error) {
	select {
	case text := <-w.inbox:
		return text, nil
	case <-w.closed:
		return "", w.err
	case <-ctx.Done():
		select {
		case <-w.closed:
			return "", w.err
		default:
			return "", ctx.Err()
		}
	}
}

func (w *wsConn) WriteMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(websocket.TextMessage, []byte(text))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		s.logger.Warn("websocket upgrade failed", "issue_id", id, "err", err)
		return
	}
	defer c.Close()
	c.SetReadLimit(maxMessageSize)

	// net/http does not cancel r.Context() for hijacked connections.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn := newWSConn(c)
	go conn.readLoop(ctx, cancel)
	// Closing the connection unblocks the read loop once the session ends.
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	err = s.deps.Chat.Serve(ctx, id, conn)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("chat session ended with error", "issue_id", id, "err", err)
	}
	c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
