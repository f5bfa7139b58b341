package signal

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/domain"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// DisconnectAware is implemented by handlers that want to be told when the
// transport drops without Close having been called. There is no automatic
// reconnect; the owner decides whether to dial again.
type DisconnectAware interface {
	OnDisconnect(err error)
}

// Client is a signaling channel: one websocket connection to the relay,
// scoped to call signaling. It carries envelopes only, never media.
type Client struct {
	serverURL string
	selfID    string
	handler   domain.SignalHandler

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a signaling client. Nothing is dialed until Connect.
func NewClient(serverURL, selfID string, handler domain.SignalHandler) *Client {
	return &Client{
		serverURL: serverURL,
		selfID:    selfID,
		handler:   handler,
		closed:    make(chan struct{}),
	}
}

// Connect dials the relay and starts the read loop. Calling Connect on an
// already-connected client is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("%w: parse relay url: %v", domain.ErrSignalingUnavailable, err)
	}

	log.Debug().Str("module", "signal").Str("url", u.String()).Msg("connecting to relay")

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrSignalingUnavailable, u.String(), err)
	}
	c.conn = conn

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

// JoinCall announces intent to participate in a call's signaling room. It must
// precede sending or expecting offer/answer/candidate traffic for that id.
func (c *Client) JoinCall(callID string) {
	c.send(domain.Envelope{Kind: domain.KindJoinCall, CallID: callID, From: c.selfID})
}

// JoinUser joins the personal room that carries push invitations for a user.
func (c *Client) JoinUser(userID string) {
	c.send(domain.Envelope{Kind: domain.KindJoinCall, Room: domain.UserRoom(userID), From: c.selfID})
}

// SendOffer transmits a session-description offer for a call.
func (c *Client) SendOffer(callID string, sdp domain.SDPPayload) {
	c.send(domain.Envelope{Kind: domain.KindOffer, CallID: callID, From: c.selfID, Offer: &sdp})
}

// SendAnswer transmits a session-description answer for a call.
func (c *Client) SendAnswer(callID string, sdp domain.SDPPayload) {
	c.send(domain.Envelope{Kind: domain.KindAnswer, CallID: callID, From: c.selfID, Answer: &sdp})
}

// SendCandidate transmits a locally-gathered ICE candidate.
func (c *Client) SendCandidate(callID string, cand domain.ICECandidatePayload) {
	c.send(domain.Envelope{Kind: domain.KindCandidate, CallID: callID, From: c.selfID, Candidate: &cand})
}

// SendEndCall tells the other room member the call is over.
func (c *Client) SendEndCall(callID string) {
	c.send(domain.Envelope{Kind: domain.KindEndCall, CallID: callID, From: c.selfID})
}

// SendInvite pushes an incoming-call event to a user's personal room.
func (c *Client) SendInvite(toUser, callID string, invite domain.InvitePayload) {
	c.send(domain.Envelope{
		Kind:   domain.KindIncomingCall,
		CallID: callID,
		Room:   domain.UserRoom(toUser),
		From:   c.selfID,
		Invite: &invite,
	})
}

// Close tears down the connection. Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}

func (c *Client) send(env domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		log.Warn().Str("module", "signal").Str("kind", string(env.Kind)).Msg("send before connect, dropped")
		return
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("set write deadline")
		return
	}
	if err := c.conn.WriteJSON(env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("kind", string(env.Kind)).Msg("write error")
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-c.closed:
			default:
				log.Warn().Err(err).Str("module", "signal").Msg("read error, channel down")
				if da, ok := c.handler.(DisconnectAware); ok {
					da.OnDisconnect(err)
				}
			}
			return
		}
		c.dispatch(env)
	}
}

// dispatch routes one envelope by kind. The kind set is closed; anything else
// is logged and dropped.
func (c *Client) dispatch(env domain.Envelope) {
	switch env.Kind {
	case domain.KindOffer:
		if env.Offer == nil {
			log.Warn().Str("module", "signal").Str("callId", env.CallID).Msg("offer envelope without payload")
			return
		}
		c.handler.OnOffer(env.CallID, *env.Offer)

	case domain.KindAnswer:
		if env.Answer == nil {
			log.Warn().Str("module", "signal").Str("callId", env.CallID).Msg("answer envelope without payload")
			return
		}
		c.handler.OnAnswer(env.CallID, *env.Answer)

	case domain.KindCandidate:
		if env.Candidate == nil {
			log.Warn().Str("module", "signal").Str("callId", env.CallID).Msg("candidate envelope without payload")
			return
		}
		c.handler.OnCandidate(env.CallID, *env.Candidate)

	case domain.KindEndCall:
		c.handler.OnEndCall(env.CallID)

	case domain.KindPeerLeft:
		c.handler.OnPeerLeft(env.CallID)

	case domain.KindIncomingCall:
		if env.Invite == nil {
			log.Warn().Str("module", "signal").Str("callId", env.CallID).Msg("invite envelope without payload")
			return
		}
		c.handler.OnIncomingCall(domain.IncomingInvitation{
			CallID: env.CallID,
			From:   env.Invite.From,
			Kind:   env.Invite.Kind,
		})

	case domain.KindJoinCall:
		// join-call is consumed by the relay; clients never receive it.

	default:
		log.Warn().Str("module", "signal").Str("kind", string(env.Kind)).Msg("unhandled envelope kind")
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					log.Warn().Err(err).Str("module", "signal").Msg("ping error")
				}
				return
			}
		}
	}
}
