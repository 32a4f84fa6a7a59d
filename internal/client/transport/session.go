// Package transport owns the client's single connection to the signaling
// server and the event loop every piece of client state is mutated on.
//
// Inbound frames, dial results, reconnect timer firings and user actions are
// all posted to one mailbox and run in order on the loop goroutine, so code
// running inside Post callbacks needs no locking.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Option func(*Session)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithRand makes reconnect jitter deterministic.
func WithRand(rng *rand.Rand) Option {
	return func(s *Session) { s.rng = rng }
}

type Session struct {
	cfg      config.ClientConfig
	identity domain.Identity
	dialer   *websocket.Dialer
	rng      *rand.Rand
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mailbox
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}

	state atomic.Int32

	lmu         sync.Mutex
	onConnected []func()
	onMessage   []func([]byte)
	onState     []func(State)

	// loop-owned
	conn       *wsConn
	gen        uint64
	dialCancel context.CancelFunc
	timer      *time.Timer
	immediate  bool
}

func New(cfg config.ClientConfig, identity domain.Identity, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		identity: identity,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.With().Str("module", "client.transport").Str("user", string(identity.ID)).Logger()
	go s.run()
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) IsConnected() bool { return s.State() == Connected }

// OnConnected callbacks run on the loop each time a connection is
// established, before any inbound frame of that connection.
func (s *Session) OnConnected(fn func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.onConnected = append(s.onConnected, fn)
}

// OnMessage callbacks receive every inbound frame, on the loop.
func (s *Session) OnMessage(fn func([]byte)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.onMessage = append(s.onMessage, fn)
}

func (s *Session) OnStateChange(fn func(State)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.onState = append(s.onState, fn)
}

// Post schedules fn on the loop. It reports false once the session is torn down.
func (s *Session) Post(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Connect starts connecting. It returns immediately; the outcome is
// observable through state changes.
func (s *Session) Connect() bool {
	return s.Post(s.connect)
}

// Send marshals v and queues it on the live connection. Loop only.
func (s *Session) Send(v any) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.State() != Connected || s.conn == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := s.conn.TrySend(b); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Teardown releases the connection, the reconnect timer and every listener.
// It is idempotent and waits for the loop to exit, including any callback
// still running on it. It must not be called from a loop callback; loop code
// calls it from a fresh goroutine.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.lmu.Lock()
	s.onConnected = nil
	s.onMessage = nil
	s.onState = nil
	s.lmu.Unlock()

	s.cancel()
	<-s.done
	s.logger.Info().Msg("session torn down")
}

// Done is closed once the loop has exited and resources are released.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	defer s.shutdown()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			fn := s.pop()
			if fn == nil {
				break
			}
			fn()
			if s.ctx.Err() != nil {
				return
			}
		}
	}
}

func (s *Session) pop() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil
	}
	fn := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return fn
}

func (s *Session) shutdown() {
	s.stopTimer()
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.gen++
	if s.conn != nil {
		s.conn.Close(s.cfg.WriteTimeout)
		s.conn = nil
	}
	s.state.Store(int32(Closed))
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.logger.Info().Str("from", prev.String()).Str("to", next.String()).Msg("state change")
	s.lmu.Lock()
	fns := append([]func(State){}, s.onState...)
	s.lmu.Unlock()
	for _, fn := range fns {
		if s.isClosed() {
			return
		}
		fn(next)
	}
}

func (s *Session) connect() {
	switch s.State() {
	case Connected:
		s.logger.Debug().Msg("connect: already connected")
		return
	case Connecting:
		return
	}
	s.stopTimer()
	if s.conn != nil {
		s.logger.Info().Msg("connect: dropping stale connection")
		s.conn.Close(s.cfg.WriteTimeout)
		s.conn = nil
	}
	s.dial()
}

func (s *Session) header() http.Header {
	h := http.Header{}
	if s.identity.Token != "" {
		h.Set("Authorization", "Bearer "+s.identity.Token)
	}
	return h
}

func (s *Session) dial() {
	s.gen++
	gen := s.gen
	s.setState(Connecting)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	s.dialCancel = cancel
	url := s.cfg.ServerURL
	header := s.header()

	go func() {
		defer cancel()
		ws, _, err := s.dialer.DialContext(ctx, url, header)
		posted := s.Post(func() { s.onDialed(gen, ws, err) })
		if !posted && ws != nil {
			_ = ws.Close()
		}
	}()
}

func (s *Session) onDialed(gen uint64, ws *websocket.Conn, err error) {
	if gen != s.gen {
		if ws != nil {
			_ = ws.Close()
		}
		return
	}
	s.dialCancel = nil
	if err != nil {
		s.logger.Warn().Err(err).Str("url", s.cfg.ServerURL).Msg("dial failed")
		s.setState(Disconnected)
		s.scheduleReconnect(s.nextDelay())
		return
	}

	c := newWSConn(ws, gen, s.cfg.SendBuffer)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	s.conn = c
	s.setState(Connected)

	s.lmu.Lock()
	fns := append([]func(){}, s.onConnected...)
	s.lmu.Unlock()
	for _, fn := range fns {
		if s.isClosed() {
			return
		}
		fn()
	}

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Session) readPump(c *wsConn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			s.Post(func() { s.onDropped(c, err) })
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.Post(func() { s.onFrame(c, data) })
	}
}

func (s *Session) writePump(c *wsConn) {
	for data := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			s.logger.Error().Err(err).Msg("writePump set deadline")
			_ = c.ws.Close()
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Error().Err(err).Msg("writePump write error")
			_ = c.ws.Close()
			return
		}
	}
}

func (s *Session) onFrame(c *wsConn, data []byte) {
	if c.gen != s.gen || s.conn != c {
		return
	}
	s.immediate = false
	s.lmu.Lock()
	fns := append([]func([]byte){}, s.onMessage...)
	s.lmu.Unlock()
	for _, fn := range fns {
		if s.isClosed() {
			return
		}
		fn(data)
	}
}

func (s *Session) onDropped(c *wsConn, err error) {
	if c.gen != s.gen || s.conn != c {
		return
	}
	c.Close(s.cfg.WriteTimeout)
	s.conn = nil
	s.setState(Disconnected)

	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure && !s.immediate {
		// server hung up on us: come straight back
		s.logger.Info().Int("code", ce.Code).Msg("server closed connection, reconnecting now")
		s.immediate = true
		s.dial()
		return
	}
	s.logger.Warn().Err(err).Msg("connection lost")
	s.scheduleReconnect(s.nextDelay())
}

func (s *Session) nextDelay() time.Duration {
	return ReconnectDelay(s.cfg.ReconnectDelay, s.cfg.ReconnectDelayMax, s.rng)
}

func (s *Session) scheduleReconnect(d time.Duration) {
	s.stopTimer()
	gen := s.gen
	s.logger.Info().Dur("delay", d).Msg("reconnect scheduled")
	s.timer = time.AfterFunc(d, func() {
		s.Post(func() {
			s.timer = nil
			if gen != s.gen || s.State() != Disconnected {
				return
			}
			s.dial()
		})
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
