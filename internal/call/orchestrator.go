// Package call drives the lifecycle of a single peer call, from invitation
// through negotiation to teardown, for both the caller and callee roles. The
// orchestrator is the only component the UI layer talks to: it owns at most
// one call session at a time and is the sole authority on whether a failure
// is recoverable or ends the call.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/domain"
)

// Deps are the orchestrator's collaborators. Signaler and Peer are built
// fresh per call through factories; the signaling connection is not pooled
// across calls.
type Deps struct {
	SelfID   string
	API      domain.CallAPI
	Acquirer domain.Acquirer

	NewSignaler func(handler domain.SignalHandler) domain.Signaler
	NewPeer     func() (domain.Peer, error)

	// RingTimeout auto-rejects an unanswered invitation. Zero disables it.
	RingTimeout time.Duration
	// NegotiationTimeout bounds the negotiating state. Zero disables it.
	NegotiationTimeout time.Duration
}

// Orchestrator is the call state machine. All transitions are serialized by
// one mutex; slow operations (REST, media acquisition, SDP creation) run with
// the processing flag set and re-check the session generation before applying
// their results, so work finishing after a teardown is a no-op.
type Orchestrator struct {
	deps Deps

	mu         sync.Mutex
	state      domain.CallState
	session    *domain.CallSession
	gen        uint64
	processing bool
	lastErr    error

	signaler domain.Signaler
	peer     domain.Peer
	media    *domain.MediaHandle

	pendingOffer      *domain.SDPPayload
	pendingCandidates []domain.ICECandidatePayload

	ringTimer *time.Timer
	negTimer  *time.Timer

	onState  func(domain.CallState)
	onRemote func(*domain.RemoteStream)
	onInvite func(domain.IncomingInvitation)

	// state events are delivered in transition order on one goroutine, so
	// observers may call back into the orchestrator without deadlocking.
	events chan domain.CallState
}

// New creates an idle orchestrator.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		deps:   deps,
		state:  domain.StateIdle,
		events: make(chan domain.CallState, 64),
	}
	go o.dispatchEvents()
	return o
}

func (o *Orchestrator) dispatchEvents() {
	for s := range o.events {
		o.mu.Lock()
		fn := o.onState
		o.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	}
}

// SetOnStateChange registers the state observer for the UI layer.
func (o *Orchestrator) SetOnStateChange(fn func(domain.CallState)) {
	o.mu.Lock()
	o.onState = fn
	o.mu.Unlock()
}

// SetOnRemoteStream registers the remote-stream observer.
func (o *Orchestrator) SetOnRemoteStream(fn func(*domain.RemoteStream)) {
	o.mu.Lock()
	o.onRemote = fn
	o.mu.Unlock()
}

// SetOnInvitation registers the observer surfaced when a new invitation
// starts ringing.
func (o *Orchestrator) SetOnInvitation(fn func(domain.IncomingInvitation)) {
	o.mu.Lock()
	o.onInvite = fn
	o.mu.Unlock()
}

// State returns the current call state.
func (o *Orchestrator) State() domain.CallState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the most recent call error, if any.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Session returns a snapshot of the current call session, or nil.
func (o *Orchestrator) Session() *domain.CallSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	s := *o.session
	return &s
}

// Busy reports whether a call session is in a non-terminal state. The
// invitation watcher uses this single-in-flight invariant.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

// StartCall places an outbound call: creates the call record, acquires local
// media, opens signaling, and sends the offer. A recoverable media error
// leaves the call in initiating with Retry available and nothing sent on the
// signaling channel.
func (o *Orchestrator) StartCall(ctx context.Context, recipient string, kind domain.MediaKind) error {
	o.mu.Lock()
	if o.session != nil || o.processing {
		o.mu.Unlock()
		return domain.ErrCallInProgress
	}
	o.gen++
	gen := o.gen
	o.processing = true
	o.lastErr = nil
	o.session = &domain.CallSession{Role: domain.RoleCaller, Kind: kind, Remote: recipient}
	o.setStateLocked(domain.StateInitiating)
	o.mu.Unlock()

	log.Info().Str("module", "call").Str("recipient", recipient).Str("kind", string(kind)).Msg("starting call")

	record, err := o.deps.API.CreateCall(ctx, recipient, kind)
	if err != nil {
		return o.fatal(gen, err)
	}

	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		return nil
	}
	o.session.ID = record.ID
	o.mu.Unlock()

	return o.continueCaller(ctx, gen)
}

// InvitationReceived surfaces an incoming invitation and moves to ringing.
// It reports false — and does nothing — while another call is in flight,
// preserving the drop-don't-queue collision policy. No signaling or media
// resources are allocated until Accept.
func (o *Orchestrator) InvitationReceived(inv domain.IncomingInvitation) bool {
	o.mu.Lock()
	if o.session != nil || o.processing {
		o.mu.Unlock()
		log.Debug().Str("module", "call").Str("callId", inv.CallID).Msg("invitation dropped, call in flight")
		return false
	}
	o.gen++
	gen := o.gen
	o.lastErr = nil
	o.session = &domain.CallSession{
		ID:     inv.CallID,
		Role:   domain.RoleCallee,
		Kind:   inv.Kind,
		Remote: inv.From,
	}
	o.setStateLocked(domain.StateRinging)
	if o.deps.RingTimeout > 0 {
		o.ringTimer = time.AfterFunc(o.deps.RingTimeout, func() { o.expireInvitation(gen) })
	}
	fn := o.onInvite
	o.mu.Unlock()

	log.Info().Str("module", "call").Str("callId", inv.CallID).Str("from", inv.From).Msg("ringing")
	if fn != nil {
		fn(inv)
	}
	return true
}

// Accept answers the ringing invitation: marks the record accepted, acquires
// media, joins the signaling room, and answers the offer once it arrives.
func (o *Orchestrator) Accept(ctx context.Context) error {
	o.mu.Lock()
	if o.state != domain.StateRinging || o.session == nil {
		o.mu.Unlock()
		return domain.ErrNoPendingInvitation
	}
	if o.processing {
		o.mu.Unlock()
		return domain.ErrCallInProgress
	}
	gen := o.gen
	callID := o.session.ID
	o.processing = true
	o.stopTimersLocked()
	o.setStateLocked(domain.StateNegotiating)
	o.mu.Unlock()

	if err := o.deps.API.AcceptCall(ctx, callID); err != nil {
		return o.fatal(gen, err)
	}
	return o.continueCallee(ctx, gen)
}

// Reject declines the ringing invitation. No signaling or media resources
// were ever allocated for it.
func (o *Orchestrator) Reject(ctx context.Context) error {
	o.mu.Lock()
	if o.state != domain.StateRinging || o.session == nil {
		o.mu.Unlock()
		return domain.ErrNoPendingInvitation
	}
	if o.processing {
		o.mu.Unlock()
		return domain.ErrCallInProgress
	}
	callID := o.session.ID
	td := o.finishLocked(nil, false, false)
	o.mu.Unlock()

	o.execTeardown(td)
	if err := o.deps.API.RejectCall(ctx, callID); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("callId", callID).Msg("reject call record")
	}
	return nil
}

// Retry re-attempts media acquisition after a recoverable error (permission
// denied, device missing or busy) without leaving the current state.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	if o.session == nil || o.processing {
		o.mu.Unlock()
		return domain.ErrNoPendingInvitation
	}
	if o.state != domain.StateInitiating && o.state != domain.StateNegotiating {
		o.mu.Unlock()
		return domain.ErrNoPendingInvitation
	}
	if o.media != nil {
		// Media already acquired; nothing to retry.
		o.mu.Unlock()
		return nil
	}
	gen := o.gen
	role := o.session.Role
	o.processing = true
	o.lastErr = nil
	o.mu.Unlock()

	if role == domain.RoleCaller {
		return o.continueCaller(ctx, gen)
	}
	return o.continueCallee(ctx, gen)
}

// Hangup ends the current call: tells the remote peer, tears down the peer
// session and signaling channel, and notifies the call-record service.
// Idempotent — a second hangup neither errors nor emits another ended event.
func (o *Orchestrator) Hangup(ctx context.Context) error {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return nil
	}
	callID := o.session.ID
	td := o.finishLocked(nil, true, callID != "")
	o.mu.Unlock()

	log.Info().Str("module", "call").Str("callId", callID).Msg("hangup")
	o.execTeardown(td)
	return nil
}

// current reports whether gen still names the live session. Callers must hold
// the mutex.
func (o *Orchestrator) current(gen uint64) bool {
	return o.gen == gen && o.session != nil
}

func (o *Orchestrator) setStateLocked(s domain.CallState) {
	if o.state == s {
		return
	}
	o.state = s
	select {
	case o.events <- s:
	default:
		log.Warn().Str("module", "call").Str("callState", s.String()).Msg("state event queue full, dropped")
	}
}

func (o *Orchestrator) stopTimersLocked() {
	if o.ringTimer != nil {
		o.ringTimer.Stop()
		o.ringTimer = nil
	}
	if o.negTimer != nil {
		o.negTimer.Stop()
		o.negTimer = nil
	}
}

// expireInvitation fires when a ringing invitation was never answered. It
// rejects exactly once: a raced Accept/Reject bumps the generation or flips
// the state first and wins.
func (o *Orchestrator) expireInvitation(gen uint64) {
	o.mu.Lock()
	if !o.current(gen) || o.state != domain.StateRinging || o.processing {
		o.mu.Unlock()
		return
	}
	callID := o.session.ID
	td := o.finishLocked(nil, false, false)
	o.mu.Unlock()

	log.Info().Str("module", "call").Str("callId", callID).Msg("invitation expired, auto-rejecting")
	o.execTeardown(td)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.API.RejectCall(ctx, callID); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("callId", callID).Msg("reject expired invitation")
	}
}
