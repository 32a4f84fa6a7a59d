package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Presence/internal/app/orch"
	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const sendBuffer = 32

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *MeetingRateLimiter

	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		Limiter:    NewMeetingRateLimiter(cfg.MeetingRateLimit, cfg.MeetingRateInterval),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		pongWait:   cfg.PongWait,
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
		return ErrConnClosed
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

// HandleSignal upgrades the request and serves it until either pump stops
// or the session is kicked. Each connection gets its own session id; the
// device token only tags the logs.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	device := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("device", device).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}
	sess := core.NewPresenceSession(sid, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sess, cancel)

	go ctl.serve(ctx, cancel, sid, conn)
}

func (ctl *SignalWSController) serve(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, conn *WsSignalConn) {
	defer func() {
		cancel()
		ctl.Orch.OnDisconnect(sid)
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("session closed")
	}()

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, conn) })
	wg.Go(func() { ctl.readPump(ctx, sid, conn) })
	if r := wg.WaitAndRecover(); r != nil {
		conn.Close()
		log.Error().Str("module", "signal").Str("sid", string(sid)).Str("panic", r.String()).Msg("pump panicked")
	}
}
