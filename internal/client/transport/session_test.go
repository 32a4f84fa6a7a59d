package transport

import (
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/gorilla/websocket"
)

type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn

	mu  sync.Mutex
	all []*websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.all = append(ts.all, ws)
		ts.mu.Unlock()
		ts.conns <- ws
	}))
	t.Cleanup(func() {
		ts.mu.Lock()
		for _, c := range ts.all {
			_ = c.Close()
		}
		ts.mu.Unlock()
		ts.Close()
	})
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client connection")
	}
	return nil
}

func testConfig(url string) config.ClientConfig {
	c := config.DefaultClientConfig()
	c.ServerURL = url
	c.DialTimeout = 2 * time.Second
	c.ReconnectDelay = 10 * time.Second
	c.ReconnectDelayMax = 10 * time.Second
	return c
}

func testIdentity() domain.Identity {
	return domain.Identity{User: domain.User{ID: "u1", Name: "Alice"}}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// onLoop runs fn on the session loop and waits for it.
func onLoop(t *testing.T, s *Session, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if !s.Post(func() { fn(); close(done) }) {
		t.Fatal("session rejected work")
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not run posted work")
	}
}

func TestConnectSendAndReceive(t *testing.T) {
	srv := newTestServer(t)
	s := New(testConfig(srv.wsURL()), testIdentity())
	t.Cleanup(s.Teardown)

	msgs := make(chan string, 8)
	s.OnConnected(func() {
		if err := s.Send(map[string]string{"type": "hello"}); err != nil {
			t.Errorf("send on connect: %v", err)
		}
	})
	s.OnMessage(func(b []byte) { msgs <- string(b) })
	s.Connect()

	c := srv.accept(t)
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(data) != `{"type":"hello"}` {
		t.Fatalf("server got %s", data)
	}
	if !s.IsConnected() {
		t.Fatalf("state = %s, want connected", s.State())
	}

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case m := <-msgs:
		if m != `{"type":"pong"}` {
			t.Fatalf("client got %s", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client did not receive frame")
	}
}

func TestConnectWhenConnectedIsNoop(t *testing.T) {
	srv := newTestServer(t)
	s := New(testConfig(srv.wsURL()), testIdentity())
	t.Cleanup(s.Teardown)

	s.Connect()
	srv.accept(t)
	eventually(t, s.IsConnected, "connected")

	s.Connect()
	onLoop(t, s, func() {})
	select {
	case <-srv.conns:
		t.Fatal("second Connect opened a new connection")
	case <-time.After(100 * time.Millisecond):
	}
	if !s.IsConnected() {
		t.Fatalf("state = %s, want connected", s.State())
	}
}

func TestServerCloseReconnectsImmediately(t *testing.T) {
	srv := newTestServer(t)
	s := New(testConfig(srv.wsURL()), testIdentity())
	t.Cleanup(s.Teardown)

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	s.OnConnected(func() { record("connected") })
	s.OnMessage(func(b []byte) { record(string(b)) })
	s.Connect()

	first := srv.accept(t)
	_ = first.WriteMessage(websocket.TextMessage, []byte("one"))
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, "first frame")

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := first.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reconnect delay is 10s, so only the immediate path can get here in time
	second := srv.accept(t)
	_ = second.WriteMessage(websocket.TextMessage, []byte("two"))
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 4
	}, "second frame")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"connected", "one", "connected", "two"}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestTransportDropSchedulesReconnect(t *testing.T) {
	srv := newTestServer(t)
	cfg := testConfig(srv.wsURL())
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.ReconnectDelayMax = 40 * time.Millisecond
	s := New(cfg, testIdentity())
	t.Cleanup(s.Teardown)

	var states []State
	var mu sync.Mutex
	s.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})
	s.Connect()

	first := srv.accept(t)
	eventually(t, s.IsConnected, "connected")
	_ = first.UnderlyingConn().Close()

	srv.accept(t)
	eventually(t, s.IsConnected, "reconnected")

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Connected, Disconnected, Connecting, Connected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestSendWhenNotConnected(t *testing.T) {
	s := New(testConfig("ws://127.0.0.1:1/none"), testIdentity())
	t.Cleanup(s.Teardown)

	var err error
	onLoop(t, s, func() { err = s.Send(map[string]string{"type": "x"}) })
	if err != ErrNotConnected {
		t.Fatalf("err = %v, want %v", err, ErrNotConnected)
	}
}

func TestTeardownIsIdempotentAndStopsTimer(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	s := New(testConfig(url), testIdentity())
	fired := false
	s.OnMessage(func([]byte) { fired = true })
	s.Connect()
	eventually(t, func() bool { return s.State() == Disconnected }, "disconnected after failed dial")

	var armed bool
	onLoop(t, s, func() { armed = s.timer != nil })
	if !armed {
		t.Fatal("expected a reconnect timer after a failed dial")
	}

	s.Teardown()
	s.Teardown()

	if s.State() != Closed {
		t.Fatalf("state = %s, want closed", s.State())
	}
	if s.timer != nil {
		t.Fatal("reconnect timer still armed after teardown")
	}
	if s.Post(func() {}) {
		t.Fatal("Post accepted work after teardown")
	}
	if s.Connect() {
		t.Fatal("Connect accepted after teardown")
	}
	if fired {
		t.Fatal("message callback fired")
	}
}

func TestTeardownDropsLateFrames(t *testing.T) {
	srv := newTestServer(t)
	s := New(testConfig(srv.wsURL()), testIdentity())

	var mu sync.Mutex
	got := 0
	s.OnMessage(func([]byte) {
		mu.Lock()
		got++
		mu.Unlock()
	})
	s.Connect()
	c := srv.accept(t)
	eventually(t, s.IsConnected, "connected")

	s.Teardown()
	_ = c.WriteMessage(websocket.TextMessage, []byte("late"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got != 0 {
		t.Fatalf("late frame delivered %d times after teardown", got)
	}
}

func TestReconnectDelayWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		d := ReconnectDelay(time.Second, 5*time.Second, rng)
		if d < time.Second || d > 5*time.Second {
			t.Fatalf("delay %v outside [1s,5s]", d)
		}
	}
	if got := ReconnectDelay(time.Second, 5*time.Second, nil); got != 3*time.Second {
		t.Fatalf("no-rng delay = %v, want 3s", got)
	}
	if got := ReconnectDelay(2*time.Second, time.Second, rng); got != 2*time.Second {
		t.Fatalf("inverted window delay = %v, want 2s", got)
	}
}

func TestStateString(t *testing.T) {
	if Connected.String() != "connected" || State(42).String() != "state(42)" {
		t.Fatal("unexpected state names")
	}
}

func TestTeardownWaitsForRunningCallback(t *testing.T) {
	srv := newTestServer(t)
	s := New(testConfig(srv.wsURL()), testIdentity())
	s.Connect()
	srv.accept(t)
	eventually(t, s.IsConnected, "connected")

	started := make(chan struct{})
	release := make(chan struct{})
	s.Post(func() {
		close(started)
		<-release
	})
	<-started

	returned := make(chan struct{})
	go func() {
		s.Teardown()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatalf("Teardown returned while a loop callback was running, state=%s", s.State())
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(3 * time.Second):
		t.Fatal("Teardown did not return after the callback finished")
	}
	if s.State() != Closed {
		t.Fatalf("state = %s, want closed", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("loop still running after Teardown returned")
	}
}
