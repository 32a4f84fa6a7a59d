package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/app/orch"
	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/dkeye/Presence/internal/protocol"
	"github.com/gorilla/websocket"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:                "test",
		Port:                8080,
		ReadLimit:           32768,
		PingPeriod:          5 * time.Second,
		PongWait:            10 * time.Second,
		Secret:              "test-secret",
		LogLevel:            "error",
		MeetingRateLimit:    2,
		MeetingRateInterval: time.Minute,
		Client:              config.DefaultClientConfig(),
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Collabs:  app.NewCollabStore(),
		Policy:   app.SimplePolicy{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, testConfig(), o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &wsClient{t: t, ws: ws}
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	if err := c.ws.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// expect reads frames until one of type typ arrives, skipping the rest.
func (c *wsClient) expect(typ string, v any) {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		got, err := protocol.PeekType(data)
		if err != nil || got != typ {
			continue
		}
		if err := json.Unmarshal(data, v); err != nil {
			c.t.Fatalf("decode %s: %v", typ, err)
		}
		return
	}
}

func (c *wsClient) announce(id, name string) {
	c.t.Helper()
	c.send(protocol.UserOnline{Type: protocol.TypeUserOnline, UserID: domain.UserID(id), Name: name})
	var msg protocol.OnlineUsers
	c.expect(protocol.TypeOnlineUsersUpdated, &msg)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(resp.Cookies()) == 0 {
		t.Fatal("no session cookie issued")
	}
}

func TestPresenceOverWebSocket(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	a.announce("u1", "Alice")
	b := dial(t, srv)
	b.announce("u2", "Bob")

	var upd protocol.OnlineUsers
	a.expect(protocol.TypeOnlineUsersUpdated, &upd)
	if len(upd.Users) != 2 {
		t.Fatalf("u1 saw %v, want two users", upd.Users)
	}

	b.send(protocol.GetOnlineUsers{Type: protocol.TypeGetOnlineUsers})
	var list protocol.OnlineUsers
	b.expect(protocol.TypeOnlineUsersList, &list)
	if len(list.Users) != 2 || list.Users[0].ID != "u1" || list.Users[1].ID != "u2" {
		t.Fatalf("online_users_list = %v", list.Users)
	}

	resp, err := http.Get(srv.URL + "/api/online")
	if err != nil {
		t.Fatalf("GET /api/online: %v", err)
	}
	defer resp.Body.Close()
	var online OnlineResponse
	if err := json.NewDecoder(resp.Body).Decode(&online); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if online.Count != 2 {
		t.Fatalf("/api/online count = %d, want 2", online.Count)
	}

	_ = b.ws.Close()
	a.expect(protocol.TypeOnlineUsersUpdated, &upd)
	if len(upd.Users) != 1 || upd.Users[0].ID != "u1" {
		t.Fatalf("after u2 left: %v", upd.Users)
	}
}

func TestMeetingRequestFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	a.announce("u1", "Alice")
	b := dial(t, srv)
	b.announce("u2", "Bob")

	a.send(protocol.SendMeetingRequest{
		Type: protocol.TypeSendMeetingRequest, SenderID: "u1", SenderName: "Alice",
		ReceiverID: "u2", MeetLink: "https://meet/x", Message: "sync?",
	})
	var ack protocol.MeetingRequestSent
	a.expect(protocol.TypeMeetingRequestSent, &ack)
	if !ack.Success || ack.CollaborationID == "" {
		t.Fatalf("ack = %+v", ack)
	}
	var in protocol.MeetingRequestReceived
	b.expect(protocol.TypeMeetingRequestReceived, &in)
	if in.CollaborationID != ack.CollaborationID || in.SenderName != "Alice" || in.MeetLink != "https://meet/x" {
		t.Fatalf("incoming = %+v", in)
	}

	b.send(protocol.MeetingDecision{
		Type: protocol.TypeAcceptMeetingRequest, CollaborationID: in.CollaborationID, ResponderID: "u2", ResponderName: "Bob",
	})
	var sent protocol.ResponseSent
	b.expect(protocol.TypeResponseSent, &sent)
	if !sent.Success || sent.Status != domain.StatusAccepted || sent.MeetLink != "https://meet/x" {
		t.Fatalf("response_sent = %+v", sent)
	}
	var resp protocol.MeetingRequestResponse
	a.expect(protocol.TypeMeetingRequestResponse, &resp)
	if resp.Status != domain.StatusAccepted || resp.ResponderName != "Bob" {
		t.Fatalf("meeting_request_response = %+v", resp)
	}

	// answering twice fails and does not reach the sender again
	b.send(protocol.MeetingDecision{Type: protocol.TypeDeclineMeetingRequest, CollaborationID: in.CollaborationID, ResponderID: "u2"})
	b.expect(protocol.TypeResponseSent, &sent)
	if sent.Success {
		t.Fatalf("second decision succeeded: %+v", sent)
	}

	httpResp, err := http.Get(srv.URL + "/api/collaborations?user_id=u1")
	if err != nil {
		t.Fatalf("GET /api/collaborations: %v", err)
	}
	defer httpResp.Body.Close()
	var hist CollaborationsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist.Collaborations) != 1 || hist.Collaborations[0].Status != domain.StatusAccepted {
		t.Fatalf("history = %+v", hist.Collaborations)
	}
}

func TestMeetingRequestRejections(t *testing.T) {
	srv, _ := newTestServer(t)
	anon := dial(t, srv)
	anon.send(protocol.SendMeetingRequest{Type: protocol.TypeSendMeetingRequest, ReceiverID: "u2", MeetLink: "https://meet/x"})
	var ack protocol.MeetingRequestSent
	anon.expect(protocol.TypeMeetingRequestSent, &ack)
	if ack.Success {
		t.Fatal("unannounced sender succeeded")
	}

	a := dial(t, srv)
	a.announce("u1", "Alice")
	a.send(protocol.SendMeetingRequest{Type: protocol.TypeSendMeetingRequest, ReceiverID: "ghost", MeetLink: "https://meet/x"})
	a.expect(protocol.TypeMeetingRequestSent, &ack)
	if ack.Success || ack.Message != orch.ErrReceiverOffline.Error() {
		t.Fatalf("offline receiver ack = %+v", ack)
	}

	b := dial(t, srv)
	b.announce("u2", "Bob")
	// rate limit is 2 per minute; the offline attempt above counted
	a.send(protocol.SendMeetingRequest{Type: protocol.TypeSendMeetingRequest, ReceiverID: "u2", MeetLink: "https://meet/x"})
	a.expect(protocol.TypeMeetingRequestSent, &ack)
	if !ack.Success {
		t.Fatalf("second request failed: %+v", ack)
	}
	a.send(protocol.SendMeetingRequest{Type: protocol.TypeSendMeetingRequest, ReceiverID: "u2", MeetLink: "https://meet/x"})
	a.expect(protocol.TypeMeetingRequestSent, &ack)
	if ack.Success {
		t.Fatal("third request inside the window succeeded")
	}
}

func TestCollaborationsRequiresUser(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/collaborations")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPingAndUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)

	c.send(protocol.Envelope{Type: protocol.TypePing})
	var pong protocol.Envelope
	c.expect(protocol.TypePong, &pong)

	c.send(protocol.Envelope{Type: "bogus"})
	var e protocol.Error
	c.expect(protocol.TypeError, &e)
	if e.Error != "unknown_type" {
		t.Fatalf("error = %q", e.Error)
	}
}
