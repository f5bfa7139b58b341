package domain

// Role says which side of a call this peer is on. The caller creates the
// offer; the callee answers it.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// MediaKind is the kind of call that was requested.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CallState is the orchestrator's call lifecycle state.
type CallState int

const (
	StateIdle CallState = iota
	StateInitiating
	StateRinging
	StateNegotiating
	StateActive
	StateError
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitiating:
		return "initiating"
	case StateRinging:
		return "ringing"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// PeerState mirrors the underlying peer-connection state.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CallSession identifies one call attempt. It is owned exclusively by the
// orchestrator that created it and is never shared across calls.
type CallSession struct {
	ID       string
	Role     Role
	Kind     MediaKind
	Remote   string
	Degraded bool
}

// CallRecord is the call-record service's representation of a call.
type CallRecord struct {
	ID        string    `json:"id"`
	Caller    string    `json:"caller"`
	Recipient string    `json:"recipient"`
	Kind      MediaKind `json:"mediaKind"`
	Status    string    `json:"status"`
}

// NotificationIncomingCall is the feed entry type that carries a call invitation.
const NotificationIncomingCall = "incoming_call"

// Notification is one entry from the platform notification feed.
type Notification struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	CallID string    `json:"callId"`
	From   string    `json:"from"`
	Kind   MediaKind `json:"mediaKind"`
	Read   bool      `json:"read"`
}

// IncomingInvitation is an ephemeral call invitation surfaced to the user.
// NotificationID is empty when the invitation arrived over the signaling
// channel instead of the notification feed.
type IncomingInvitation struct {
	CallID         string
	From           string
	Kind           MediaKind
	NotificationID string
}
