package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/domain"
)

const reconnectDelay = 5 * time.Second

// PushWatcher holds a persistent signaling connection joined to the user's
// personal room and turns pushed incoming-call events into invitations. It
// redials on transport loss; the poll Watcher remains the fallback path.
type PushWatcher struct {
	newSignaler func(domain.SignalHandler) domain.Signaler
	selfID      string
	sink        domain.InvitationSink
	tracker     *Tracker
}

// NewPushWatcher creates a push watcher. tracker may be shared with a poll
// Watcher so the two paths deliver each invitation once.
func NewPushWatcher(newSignaler func(domain.SignalHandler) domain.Signaler, selfID string, sink domain.InvitationSink, tracker *Tracker) *PushWatcher {
	return &PushWatcher{newSignaler: newSignaler, selfID: selfID, sink: sink, tracker: tracker}
}

// Run keeps the subscription alive until the context is cancelled.
func (p *PushWatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		h := &pushHandler{watcher: p, down: make(chan struct{})}
		client := p.newSignaler(h)
		if err := client.Connect(); err != nil {
			log.Warn().Err(err).Str("module", "notify").Msg("push subscription connect failed")
			if !sleep(ctx, reconnectDelay) {
				return
			}
			continue
		}
		client.JoinUser(p.selfID)
		log.Debug().Str("module", "notify").Str("user", p.selfID).Msg("push subscription up")

		select {
		case <-ctx.Done():
			client.Close()
			return
		case <-h.down:
			client.Close()
			if !sleep(ctx, reconnectDelay) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// pushHandler is the SignalHandler for the subscription connection. Only
// incoming-call matters; a user room never carries call negotiation traffic.
type pushHandler struct {
	watcher  *PushWatcher
	downOnce sync.Once
	down     chan struct{}
}

func (h *pushHandler) OnIncomingCall(inv domain.IncomingInvitation) {
	if h.watcher.tracker.Surfaced(inv.CallID) {
		return
	}
	if h.watcher.sink.InvitationReceived(inv) {
		h.watcher.tracker.Add(inv.CallID)
	}
}

func (h *pushHandler) OnDisconnect(err error) {
	h.downOnce.Do(func() { close(h.down) })
}

func (h *pushHandler) OnOffer(callID string, _ domain.SDPPayload) { h.unexpected("offer", callID) }
func (h *pushHandler) OnAnswer(callID string, _ domain.SDPPayload) {
	h.unexpected("answer", callID)
}
func (h *pushHandler) OnCandidate(callID string, _ domain.ICECandidatePayload) {
	h.unexpected("candidate", callID)
}
func (h *pushHandler) OnEndCall(callID string)  { h.unexpected("end-call", callID) }
func (h *pushHandler) OnPeerLeft(callID string) {}

func (h *pushHandler) unexpected(kind, callID string) {
	log.Debug().Str("module", "notify").Str("kind", kind).Str("callId", callID).Msg("ignoring call traffic on subscription channel")
}
