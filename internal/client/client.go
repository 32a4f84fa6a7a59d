// Package client assembles the presence and signaling core for one process:
// the app-scoped event bus and notification sink, plus a transport session
// and protocol handler bound to the current identity.
package client

import (
	"sync"

	"github.com/dkeye/Presence/internal/client/eventbus"
	"github.com/dkeye/Presence/internal/client/notify"
	"github.com/dkeye/Presence/internal/client/presence"
	"github.com/dkeye/Presence/internal/client/signaling"
	"github.com/dkeye/Presence/internal/client/transport"
	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

type Client struct {
	cfg  config.ClientConfig
	bus  *eventbus.Bus
	sink *notify.Sink
	opts []transport.Option

	mu       sync.Mutex
	identity *domain.Identity
	session  *transport.Session
	handler  *signaling.Handler
}

// New builds a client with no identity. The bus and sink outlive every
// session the client creates.
func New(cfg config.ClientConfig, bus *eventbus.Bus, sink *notify.Sink, opts ...transport.Option) *Client {
	if bus == nil {
		bus = eventbus.New()
	}
	if sink == nil {
		sink = notify.NewSink()
	}
	return &Client{cfg: cfg, bus: bus, sink: sink, opts: opts}
}

func (c *Client) Bus() *eventbus.Bus { return c.bus }

func (c *Client) Sink() *notify.Sink { return c.sink }

// SetIdentity follows the identity provider. nil tears the session down; a
// different identity replaces it; the same identity only makes sure a
// connection attempt is under way. It waits for the old session's loop, so
// bus subscribers must not call it synchronously.
func (c *Client) SetIdentity(id *domain.Identity) error {
	if id != nil {
		if err := id.Validate(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if id != nil && c.session != nil && c.identity.SameAs(id) {
		s := c.session
		c.mu.Unlock()
		s.Connect()
		return nil
	}

	old, oldID := c.session, c.identity
	c.session, c.handler, c.identity = nil, nil, nil

	var next *transport.Session
	if id != nil {
		ident := *id
		next = transport.New(c.cfg, ident, c.opts...)
		next.OnStateChange(func(st transport.State) {
			c.bus.Publish(eventbus.ConnectionState, st)
		})
		h := signaling.New(ident, next, presence.NewTracker(ident.ID), c.sink, c.bus)
		c.identity, c.session, c.handler = &ident, next, h
	}
	c.mu.Unlock()

	// Teardown waits for the loop; c.mu must not be held across it
	if old != nil {
		log.Info().Str("module", "client").Str("user", string(oldID.ID)).Msg("identity changed, tearing down")
		old.Teardown()
		c.bus.Publish(eventbus.ConnectionState, transport.Closed)
	}
	if next != nil {
		log.Info().Str("module", "client").Str("user", string(id.ID)).Str("server", c.cfg.ServerURL).Msg("identity set, connecting")
		next.Connect()
	}
	return nil
}

// Close drops the identity and releases the session.
func (c *Client) Close() {
	_ = c.SetIdentity(nil)
}

func (c *Client) current() (*transport.Session, *signaling.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.handler
}

func (c *Client) State() transport.State {
	s, _ := c.current()
	if s == nil {
		return transport.Idle
	}
	return s.State()
}

func (c *Client) Online() []domain.PeerPresence {
	if _, h := c.current(); h != nil {
		return h.Tracker().Online()
	}
	return nil
}

func (c *Client) Incoming() []domain.MeetingRequest {
	if _, h := c.current(); h != nil {
		return h.Incoming()
	}
	return nil
}

func (c *Client) Outgoing() []domain.MeetingRequest {
	if _, h := c.current(); h != nil {
		return h.Outgoing()
	}
	return nil
}

func (c *Client) RefreshPresence() {
	if _, h := c.current(); h != nil {
		h.RefreshPresence()
	}
}

func (c *Client) SendMeetingRequest(receiverID domain.UserID, meetLink, message string) {
	if _, h := c.current(); h != nil {
		h.SendMeetingRequest(receiverID, meetLink, message)
		return
	}
	c.signedOut("Meeting request not sent")
}

func (c *Client) Accept(id domain.CollaborationID) {
	if _, h := c.current(); h != nil {
		h.Accept(id)
		return
	}
	c.signedOut("Could not accept meeting request")
}

func (c *Client) Decline(id domain.CollaborationID) {
	if _, h := c.current(); h != nil {
		h.Decline(id)
		return
	}
	c.signedOut("Could not decline meeting request")
}

func (c *Client) signedOut(prefix string) {
	c.sink.Push(domain.NewNotification(domain.KindError, "", prefix+": not signed in", nil))
}
