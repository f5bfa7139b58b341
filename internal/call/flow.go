package call

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/domain"
)

// continueCaller runs the caller flow from media acquisition onward: the call
// record already exists. Retry re-enters here after a recoverable media error.
func (o *Orchestrator) continueCaller(ctx context.Context, gen uint64) error {
	handle, err := o.acquire(ctx, gen)
	if handle == nil {
		return err
	}

	sig, callID, ok := o.openSignaling(gen, handle)
	if !ok {
		return o.lastErrorFor(gen)
	}

	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		return nil
	}
	remote := o.session.Remote
	kind := o.session.Kind
	o.mu.Unlock()

	// Push the invitation to the recipient's personal room; the notification
	// feed remains the fallback delivery path.
	sig.SendInvite(remote, callID, domain.InvitePayload{From: o.deps.SelfID, Kind: kind})

	peer, ok := o.buildPeer(gen, sig, callID, handle)
	if !ok {
		return o.lastErrorFor(gen)
	}

	offer, err := peer.CreateOffer()
	if err != nil {
		return o.fatal(gen, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err))
	}
	sig.SendOffer(callID, offer)

	o.mu.Lock()
	if o.current(gen) {
		o.processing = false
		o.setStateLocked(domain.StateNegotiating)
		o.armNegotiationTimerLocked(gen)
	}
	o.mu.Unlock()
	return nil
}

// continueCallee runs the callee flow from media acquisition onward: the
// invitation was accepted and the record updated. If the offer arrived while
// media was still being acquired it is answered immediately.
func (o *Orchestrator) continueCallee(ctx context.Context, gen uint64) error {
	handle, err := o.acquire(ctx, gen)
	if handle == nil {
		return err
	}

	sig, callID, ok := o.openSignaling(gen, handle)
	if !ok {
		return o.lastErrorFor(gen)
	}

	_, ok = o.buildPeer(gen, sig, callID, handle)
	if !ok {
		return o.lastErrorFor(gen)
	}

	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		return nil
	}
	o.processing = false
	o.armNegotiationTimerLocked(gen)
	pending := o.pendingOffer
	o.pendingOffer = nil
	o.mu.Unlock()

	if pending != nil {
		return o.answerOffer(gen, *pending)
	}
	return nil
}

// acquire obtains local media for the current session. On a recoverable
// failure (permission, missing or busy device) the call stays in its current
// state with the error recorded and Retry available; nil handle plus the
// classified error is returned either way.
func (o *Orchestrator) acquire(ctx context.Context, gen uint64) (*domain.MediaHandle, error) {
	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		return nil, nil
	}
	wantVideo := o.session.Kind == domain.MediaVideo
	o.mu.Unlock()

	handle, err := o.deps.Acquirer.Acquire(ctx, wantVideo)
	if err != nil {
		if domain.Recoverable(err) {
			o.mu.Lock()
			if o.current(gen) {
				o.lastErr = err
				o.processing = false
			}
			o.mu.Unlock()
			log.Warn().Err(err).Str("module", "call").Msg("media acquisition failed, retry available")
			return nil, err
		}
		return nil, o.fatal(gen, err)
	}

	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		handle.Close()
		return nil, nil
	}
	o.media = handle
	if handle.Degraded {
		o.session.Degraded = true
		log.Info().Str("module", "call").Str("callId", o.session.ID).Msg("video unavailable, call degraded to audio")
	}
	o.mu.Unlock()
	return handle, nil
}

// openSignaling builds a fresh channel for this call and joins its room.
// Returns ok=false after driving the session to ended on failure.
func (o *Orchestrator) openSignaling(gen uint64, handle *domain.MediaHandle) (domain.Signaler, string, bool) {
	sig := o.deps.NewSignaler(o)

	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		sig.Close()
		handle.Close()
		return nil, "", false
	}
	o.signaler = sig
	callID := o.session.ID
	o.mu.Unlock()

	if err := sig.Connect(); err != nil {
		o.fatal(gen, err)
		return nil, "", false
	}
	sig.JoinCall(callID)
	return sig, callID, true
}

// buildPeer creates and wires the peer session and attaches local tracks,
// flushing any candidates that arrived before it existed.
func (o *Orchestrator) buildPeer(gen uint64, sig domain.Signaler, callID string, handle *domain.MediaHandle) (domain.Peer, bool) {
	peer, err := o.deps.NewPeer()
	if err != nil {
		o.fatal(gen, err)
		return nil, false
	}

	peer.SetOnCandidate(func(c domain.ICECandidatePayload) {
		sig.SendCandidate(callID, c)
	})
	peer.SetOnRemoteStream(func(rs *domain.RemoteStream) {
		o.handleRemoteStream(gen, rs)
	})
	peer.SetOnStateChange(func(ps domain.PeerState) {
		o.handlePeerState(gen, ps)
	})

	if err := peer.AttachLocalTracks(handle); err != nil {
		peer.Close()
		o.fatal(gen, err)
		return nil, false
	}

	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		peer.Close()
		return nil, false
	}
	o.peer = peer
	flush := o.pendingCandidates
	o.pendingCandidates = nil
	o.mu.Unlock()

	for _, c := range flush {
		if err := peer.AddRemoteCandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("apply buffered candidate")
		}
	}
	return peer, true
}

func (o *Orchestrator) answerOffer(gen uint64, sdp domain.SDPPayload) error {
	o.mu.Lock()
	if !o.current(gen) || o.peer == nil || o.signaler == nil {
		o.mu.Unlock()
		return nil
	}
	peer := o.peer
	sig := o.signaler
	callID := o.session.ID
	o.mu.Unlock()

	answer, err := peer.CreateAnswer(sdp)
	if err != nil {
		return o.fatal(gen, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err))
	}
	sig.SendAnswer(callID, answer)
	return nil
}

func (o *Orchestrator) handleRemoteStream(gen uint64, rs *domain.RemoteStream) {
	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		return
	}
	if o.state == domain.StateInitiating || o.state == domain.StateNegotiating {
		if o.negTimer != nil {
			o.negTimer.Stop()
			o.negTimer = nil
		}
		o.setStateLocked(domain.StateActive)
	}
	fn := o.onRemote
	o.mu.Unlock()

	if fn != nil {
		fn(rs)
	}
}

func (o *Orchestrator) handlePeerState(gen uint64, ps domain.PeerState) {
	switch ps {
	case domain.PeerFailed:
		// Terminal: ICE gave up. disconnected, by contrast, can recover.
		o.fatal(gen, domain.ErrNegotiationFailed)
	case domain.PeerDisconnected:
		log.Warn().Str("module", "call").Msg("peer connection disconnected, waiting for recovery")
	default:
		log.Debug().Str("module", "call").Str("peerState", ps.String()).Msg("peer state")
	}
}

func (o *Orchestrator) armNegotiationTimerLocked(gen uint64) {
	if o.deps.NegotiationTimeout <= 0 {
		return
	}
	if o.negTimer != nil {
		o.negTimer.Stop()
	}
	timeout := o.deps.NegotiationTimeout
	o.negTimer = time.AfterFunc(timeout, func() {
		o.mu.Lock()
		fire := o.current(gen) && o.state == domain.StateNegotiating
		o.mu.Unlock()
		if fire {
			o.fatal(gen, fmt.Errorf("%w: no connection after %s", domain.ErrNegotiationFailed, timeout))
		}
	})
}

// fatal drives the session through error to ended, tearing everything down
// and notifying the call-record service. Stale generations are ignored.
func (o *Orchestrator) fatal(gen uint64, err error) error {
	o.mu.Lock()
	if !o.current(gen) {
		o.mu.Unlock()
		return err
	}
	callID := o.session.ID
	td := o.finishLocked(err, true, callID != "")
	o.mu.Unlock()

	log.Error().Err(err).Str("module", "call").Str("callId", callID).Msg("call failed")
	o.execTeardown(td)
	return err
}

// lastErrorFor returns the error recorded when gen's session failed, or nil
// when the session simply went away underneath the flow.
func (o *Orchestrator) lastErrorFor(gen uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen == gen {
		return nil
	}
	return o.lastErr
}

type teardown struct {
	signaler  domain.Signaler
	peer      domain.Peer
	media     *domain.MediaHandle
	callID    string
	sendEnd   bool
	notifyAPI bool
}

// finishLocked moves the state machine to ended (through error when reason is
// set), invalidates outstanding async work, and strips the session's
// resources. The returned teardown must be executed after unlocking.
func (o *Orchestrator) finishLocked(reason error, sendEnd, notifyAPI bool) teardown {
	o.gen++
	o.stopTimersLocked()
	if reason != nil {
		o.lastErr = reason
		o.setStateLocked(domain.StateError)
	}

	td := teardown{
		signaler:  o.signaler,
		peer:      o.peer,
		media:     o.media,
		sendEnd:   sendEnd,
		notifyAPI: notifyAPI,
	}
	if o.session != nil {
		td.callID = o.session.ID
	}

	o.signaler = nil
	o.peer = nil
	o.media = nil
	o.session = nil
	o.pendingOffer = nil
	o.pendingCandidates = nil
	o.processing = false
	o.setStateLocked(domain.StateEnded)
	return td
}

func (o *Orchestrator) execTeardown(td teardown) {
	if td.sendEnd && td.signaler != nil && td.callID != "" {
		td.signaler.SendEndCall(td.callID)
	}
	if td.peer != nil {
		td.peer.Close()
	}
	if td.media != nil {
		td.media.Close()
	}
	if td.signaler != nil {
		td.signaler.Close()
	}
	if td.notifyAPI && td.callID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.deps.API.EndCall(ctx, td.callID); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("callId", td.callID).Msg("end call record")
		}
	}
}

// remoteEnded handles an end-call message or room departure from the other
// side: a normal call end, not an error.
func (o *Orchestrator) remoteEnded(callID, how string) {
	o.mu.Lock()
	if o.session == nil || o.session.ID != callID {
		o.mu.Unlock()
		return
	}
	td := o.finishLocked(nil, false, true)
	o.mu.Unlock()

	log.Info().Str("module", "call").Str("callId", callID).Str("via", how).Msg("remote peer ended the call")
	o.execTeardown(td)
}

// OnOffer implements domain.SignalHandler. An offer that lands before the
// peer session exists (media still being acquired) is buffered and answered
// as soon as setup completes.
func (o *Orchestrator) OnOffer(callID string, sdp domain.SDPPayload) {
	o.mu.Lock()
	if o.session == nil || o.session.ID != callID {
		o.mu.Unlock()
		return
	}
	gen := o.gen
	if o.peer == nil || o.processing {
		buffered := sdp
		o.pendingOffer = &buffered
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	_ = o.answerOffer(gen, sdp)
}

// OnAnswer implements domain.SignalHandler.
func (o *Orchestrator) OnAnswer(callID string, sdp domain.SDPPayload) {
	o.mu.Lock()
	if o.session == nil || o.session.ID != callID || o.peer == nil {
		o.mu.Unlock()
		return
	}
	gen := o.gen
	peer := o.peer
	o.mu.Unlock()

	if err := peer.SetRemoteDescription(sdp); err != nil {
		o.fatal(gen, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err))
	}
}

// OnCandidate implements domain.SignalHandler. Candidates arriving before the
// peer session exists are buffered; the peer session itself buffers candidates
// that precede the remote description.
func (o *Orchestrator) OnCandidate(callID string, c domain.ICECandidatePayload) {
	o.mu.Lock()
	if o.session == nil || o.session.ID != callID {
		o.mu.Unlock()
		return
	}
	if o.peer == nil {
		o.pendingCandidates = append(o.pendingCandidates, c)
		o.mu.Unlock()
		return
	}
	peer := o.peer
	o.mu.Unlock()

	if err := peer.AddRemoteCandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("callId", callID).Msg("add remote candidate")
	}
}

// OnEndCall implements domain.SignalHandler.
func (o *Orchestrator) OnEndCall(callID string) {
	o.remoteEnded(callID, "end-call")
}

// OnPeerLeft implements domain.SignalHandler.
func (o *Orchestrator) OnPeerLeft(callID string) {
	o.remoteEnded(callID, "peer-left")
}

// OnIncomingCall implements domain.SignalHandler. Per-call channels normally
// never see invitations (those arrive via the watcher), but the kind is part
// of the closed set, so route it the same way.
func (o *Orchestrator) OnIncomingCall(inv domain.IncomingInvitation) {
	o.InvitationReceived(inv)
}

// OnDisconnect implements signal.DisconnectAware: losing the signaling
// transport mid-call is fatal to the attempt.
func (o *Orchestrator) OnDisconnect(err error) {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return
	}
	gen := o.gen
	o.mu.Unlock()

	o.fatal(gen, fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, err))
}
