package rtc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/domain"
)

// Session owns the peer connection for one call: local track attachment,
// offer/answer negotiation, ICE candidate flow, and connection-state
// reporting. Remote candidates that arrive before the remote description are
// buffered and flushed once it is set.
type Session struct {
	pc *webrtc.PeerConnection

	mu            sync.Mutex
	remoteDescSet bool
	pending       []domain.ICECandidatePayload
	local         *domain.MediaHandle
	remote        *domain.RemoteStream

	onCandidate    func(domain.ICECandidatePayload)
	onRemoteStream func(*domain.RemoteStream)
	onState        func(domain.PeerState)

	closeOnce sync.Once
}

// NewSession creates the underlying peer connection. Only STUN servers are
// configured — peers behind symmetric NATs may fail to connect, which is a
// known limitation rather than an error here. A nil codec selector falls back
// to pion's default codecs (useful for tests and receive-only sessions).
func NewSession(stunURLs []string, codec *mediadevices.CodecSelector) (*Session, error) {
	me := &webrtc.MediaEngine{}
	if codec != nil {
		codec.Populate(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Lenient ICE timeouts: the default 5 s disconnectedTimeout turns a brief
	// network blip into a dropped call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	cfg := webrtc.Configuration{}
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	s := &Session{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			log.Debug().Str("module", "rtc").Msg("ICE gathering complete")
			return
		}
		j := c.ToJSON()
		if isLoopback(j.Candidate) {
			return
		}
		payload := domain.ICECandidatePayload{Candidate: j.Candidate}
		if j.SDPMid != nil {
			payload.SDPMid = *j.SDPMid
		}
		if j.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*j.SDPMLineIndex)
		}

		s.mu.Lock()
		fn := s.onCandidate
		s.mu.Unlock()
		if fn != nil {
			fn(payload)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Msg("remote track")

		s.mu.Lock()
		first := s.remote == nil
		if first {
			s.remote = &domain.RemoteStream{}
		}
		s.remote.Add(track)
		stream, fn := s.remote, s.onRemoteStream
		s.mu.Unlock()

		// Keep reading so the interceptor chain stays fed.
		go drainTrack(track)

		if first && fn != nil {
			fn(stream)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtc").Str("state", state.String()).Msg("connection state")
		s.mu.Lock()
		fn := s.onState
		s.mu.Unlock()
		if fn != nil {
			fn(mapState(state))
		}
	})

	return s, nil
}

// SetOnCandidate registers the callback for locally gathered ICE candidates.
func (s *Session) SetOnCandidate(fn func(domain.ICECandidatePayload)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

// SetOnRemoteStream registers the callback fired once, when the first remote
// track arrives. Later tracks join the same stream handle.
func (s *Session) SetOnRemoteStream(fn func(*domain.RemoteStream)) {
	s.mu.Lock()
	s.onRemoteStream = fn
	s.mu.Unlock()
}

// SetOnStateChange registers the connection-state callback.
func (s *Session) SetOnStateChange(fn func(domain.PeerState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// AttachLocalTracks adds the handle's tracks to the connection. Must precede
// CreateOffer/CreateAnswer. A degraded handle (video call that fell back to
// audio) still gets a recvonly video transceiver so the remote side may send
// video one-way.
func (s *Session) AttachLocalTracks(h *domain.MediaHandle) error {
	for _, t := range h.Tracks {
		if _, err := s.pc.AddTrack(t); err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
	}
	if h.Degraded {
		_, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add recvonly video transceiver: %w", err)
		}
	}

	s.mu.Lock()
	s.local = h
	s.mu.Unlock()
	return nil
}

// AddRecvOnlyTransceivers prepares a session that sends no media, so the SDP
// still carries audio/video m-lines.
func (s *Session) AddRecvOnlyTransceivers() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		_, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add recvonly %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// CreateOffer creates an offer and installs it as the local description.
func (s *Session) CreateOffer() (domain.SDPPayload, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: "offer", SDP: offer.SDP}, nil
}

// CreateAnswer applies the remote offer and produces the local answer.
func (s *Session) CreateAnswer(remote domain.SDPPayload) (domain.SDPPayload, error) {
	if err := s.SetRemoteDescription(remote); err != nil {
		return domain.SDPPayload{}, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: "answer", SDP: answer.SDP}, nil
}

// SetRemoteDescription applies a remote offer or answer, then flushes any
// ICE candidates that arrived early.
func (s *Session) SetRemoteDescription(sdp domain.SDPPayload) error {
	sdpType := webrtc.SDPTypeAnswer
	if sdp.Type == "offer" {
		sdpType = webrtc.SDPTypeOffer
	}
	desc := webrtc.SessionDescription{Type: sdpType, SDP: sdp.SDP}

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	s.mu.Lock()
	s.remoteDescSet = true
	flush := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range flush {
		if err := s.addCandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("flush buffered candidate")
		}
	}
	return nil
}

// AddRemoteCandidate applies a remote ICE candidate, buffering it when the
// remote description has not been set yet. Both orderings reach the same
// connected state.
func (s *Session) AddRemoteCandidate(c domain.ICECandidatePayload) error {
	s.mu.Lock()
	if !s.remoteDescSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.addCandidate(c)
}

// BufferedCandidates reports how many remote candidates await the remote
// description.
func (s *Session) BufferedCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) addCandidate(c domain.ICECandidatePayload) error {
	mid := c.SDPMid
	idx := uint16(c.SDPMLineIndex)
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Close stops local tracks and closes the connection. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		local := s.local
		s.mu.Unlock()
		if local != nil {
			local.Close()
		}
		if err := s.pc.Close(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("close peer connection")
		}
	})
}

func mapState(state webrtc.PeerConnectionState) domain.PeerState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.PeerNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerFailed
	default:
		return domain.PeerClosed
	}
}

func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
