// Package signal binds inbound signaling messages to the authenticator,
// session state machine and media engine, and replies with acks, errors and
// room broadcasts.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/app"
	"github.com/hiccup-im/media-signal/internal/auth"
	"github.com/hiccup-im/media-signal/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Auth     *auth.Authenticator
	Engine   core.MediaEngine
	Groups   *app.Groups
	Cache    *core.ReconnectCache
	Notifier *core.RoomNotifier

	validate *validator.Validate
}

func NewController(a *auth.Authenticator, engine core.MediaEngine, groups *app.Groups, cache *core.ReconnectCache, notifier *core.RoomNotifier) *Controller {
	return &Controller{
		Auth:     a,
		Engine:   engine,
		Groups:   groups,
		Cache:    cache,
		Notifier: notifier,
		validate: validator.New(),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection, resolves the session (fresh or
// reclaimed from the reconnect cache) and starts the pumps. The first frame
// the client sees is required_authorize.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	recovered := c.Query("recovered") == "true"
	log.Info().Str("module", "signal").Str("sid", string(sid)).Bool("recovered", recovered).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	sess := ctl.resolveSession(sid, recovered)
	ctl.Groups.Bind(sid, conn)
	if sess.Authenticated() {
		// Recovered mid-call: restore group membership from the claims.
		claims := sess.Claims()
		ctl.Groups.Join(sid, string(claims.ServerID))
		ctl.Groups.Join(sid, string(claims.RoomID))
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, sess, conn)

	ctl.sendJSON(conn, map[string]any{"type": "required_authorize"})
}

func (ctl *Controller) resolveSession(sid core.SessionID, recovered bool) *core.Session {
	if recovered {
		if sess, ok := ctl.Cache.Reclaim(sid); ok {
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("session recovered")
			return sess
		}
	}
	return core.NewSession(sid)
}

// onDisconnect parks authenticated sessions for recovery and destroys the
// rest immediately.
func (ctl *Controller) onDisconnect(sid core.SessionID, sess *core.Session) {
	ctl.Groups.Unbind(sid)
	if sess.Authenticated() {
		ctl.Cache.Park(sid, sess)
		return
	}
	sess.Destroy()
}
