package domain

// Kind tags a signaling envelope. The set is closed: receivers dispatch with
// an exhaustive switch and drop anything else.
type Kind string

const (
	KindJoinCall     Kind = "join-call"
	KindOffer        Kind = "webrtc-offer"
	KindAnswer       Kind = "webrtc-answer"
	KindCandidate    Kind = "webrtc-ice-candidate"
	KindEndCall      Kind = "end-call"
	KindPeerLeft     Kind = "peer-left"
	KindIncomingCall Kind = "incoming-call"
)

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// InvitePayload rides an incoming-call envelope pushed to a user room.
type InvitePayload struct {
	From string    `json:"from"`
	Kind MediaKind `json:"mediaKind"`
}

// Envelope is the single message shape carried over the signaling relay.
// Exactly one payload pointer matches Kind; the rest stay nil.
type Envelope struct {
	Kind      Kind                 `json:"kind"`
	CallID    string               `json:"callId,omitempty"`
	Room      string               `json:"room,omitempty"`
	From      string               `json:"from,omitempty"`
	Offer     *SDPPayload          `json:"offer,omitempty"`
	Answer    *SDPPayload          `json:"answer,omitempty"`
	Candidate *ICECandidatePayload `json:"candidate,omitempty"`
	Invite    *InvitePayload       `json:"invite,omitempty"`
}

// RoomID is the relay room an envelope belongs to. Call signaling uses the
// call id as the room; invitation pushes address an explicit user room.
func (e *Envelope) RoomID() string {
	if e.Room != "" {
		return e.Room
	}
	return e.CallID
}

// UserRoom is the personal relay room that carries push invitations for a user.
func UserRoom(userID string) string {
	return "user:" + userID
}
