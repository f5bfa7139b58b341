package domain

import "context"

// Signaler is the per-call signaling channel. It carries session descriptions
// and ICE candidates through the relay; it never carries media.
type Signaler interface {
	Connect() error
	JoinCall(callID string)
	JoinUser(userID string)
	SendOffer(callID string, sdp SDPPayload)
	SendAnswer(callID string, sdp SDPPayload)
	SendCandidate(callID string, c ICECandidatePayload)
	SendEndCall(callID string)
	SendInvite(toUser, callID string, invite InvitePayload)
	Close()
}

// SignalHandler receives dispatched signaling messages, one method per
// envelope kind the relay can deliver.
type SignalHandler interface {
	OnOffer(callID string, sdp SDPPayload)
	OnAnswer(callID string, sdp SDPPayload)
	OnCandidate(callID string, c ICECandidatePayload)
	OnEndCall(callID string)
	OnPeerLeft(callID string)
	OnIncomingCall(inv IncomingInvitation)
}

// Peer owns the WebRTC peer connection for one call session.
type Peer interface {
	AttachLocalTracks(h *MediaHandle) error
	CreateOffer() (SDPPayload, error)
	CreateAnswer(remote SDPPayload) (SDPPayload, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddRemoteCandidate(c ICECandidatePayload) error
	SetOnCandidate(fn func(ICECandidatePayload))
	SetOnRemoteStream(fn func(*RemoteStream))
	SetOnStateChange(fn func(PeerState))
	Close()
}

// Acquirer obtains local media tracks.
type Acquirer interface {
	Acquire(ctx context.Context, wantVideo bool) (*MediaHandle, error)
}

// CallAPI is the platform's call-record service.
type CallAPI interface {
	CreateCall(ctx context.Context, recipient string, kind MediaKind) (*CallRecord, error)
	AcceptCall(ctx context.Context, callID string) error
	RejectCall(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string) error
}

// NotificationFeed is the platform's notification service.
type NotificationFeed interface {
	UnreadNotifications(ctx context.Context) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// InvitationSink receives surfaced invitations and reports whether the
// invitation was taken. A refused invitation must not be acknowledged
// upstream so the feed can offer it again later.
type InvitationSink interface {
	InvitationReceived(inv IncomingInvitation) bool
}
