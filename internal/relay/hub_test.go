package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peakfit/callkit/internal/domain"
)

func startHub(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(NewHub().Router())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func joinRoom(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	if err := conn.WriteJSON(domain.Envelope{Kind: domain.KindJoinCall, CallID: room}); err != nil {
		t.Fatalf("join %s: %v", room, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env domain.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestForwardsToOtherRoomMembers(t *testing.T) {
	url := startHub(t)
	a := dialHub(t, url)
	b := dialHub(t, url)
	joinRoom(t, a, "call-1")
	joinRoom(t, b, "call-1")

	offer := domain.Envelope{
		Kind:   domain.KindOffer,
		CallID: "call-1",
		From:   "alice",
		Offer:  &domain.SDPPayload{Type: "offer", SDP: "v=0"},
	}
	// Give the hub a moment to process both joins before sending.
	time.Sleep(50 * time.Millisecond)
	if err := a.WriteJSON(offer); err != nil {
		t.Fatalf("send offer: %v", err)
	}

	got := readEnvelope(t, b)
	if got.Kind != domain.KindOffer || got.CallID != "call-1" {
		t.Fatalf("got kind=%s callId=%s, want offer call-1", got.Kind, got.CallID)
	}
	if got.Offer == nil || got.Offer.SDP != "v=0" {
		t.Fatalf("offer payload not forwarded: %+v", got.Offer)
	}

	// The sender must not hear its own message back.
	a.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var echo domain.Envelope
	if err := a.ReadJSON(&echo); err == nil {
		t.Fatalf("sender received echo: %+v", echo)
	}
}

func TestStoreAndForwardToLateJoiner(t *testing.T) {
	url := startHub(t)
	a := dialHub(t, url)
	joinRoom(t, a, "call-2")
	time.Sleep(50 * time.Millisecond)

	offer := domain.Envelope{
		Kind:   domain.KindOffer,
		CallID: "call-2",
		Offer:  &domain.SDPPayload{Type: "offer", SDP: "early"},
	}
	if err := a.WriteJSON(offer); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	b := dialHub(t, url)
	joinRoom(t, b, "call-2")

	got := readEnvelope(t, b)
	if got.Kind != domain.KindOffer || got.Offer == nil || got.Offer.SDP != "early" {
		t.Fatalf("late joiner did not get the queued offer: %+v", got)
	}
}

func TestPeerLeftOnDisconnect(t *testing.T) {
	url := startHub(t)
	a := dialHub(t, url)
	b := dialHub(t, url)
	joinRoom(t, a, "call-3")
	joinRoom(t, b, "call-3")
	time.Sleep(50 * time.Millisecond)

	a.Close()

	got := readEnvelope(t, b)
	if got.Kind != domain.KindPeerLeft || got.CallID != "call-3" {
		t.Fatalf("got kind=%s callId=%s, want peer-left call-3", got.Kind, got.CallID)
	}
}

func TestCandidatesFlowBothDirections(t *testing.T) {
	url := startHub(t)
	a := dialHub(t, url)
	b := dialHub(t, url)
	joinRoom(t, a, "call-4")
	joinRoom(t, b, "call-4")
	time.Sleep(50 * time.Millisecond)

	cand := domain.Envelope{
		Kind:      domain.KindCandidate,
		CallID:    "call-4",
		Candidate: &domain.ICECandidatePayload{SDPMid: "0", Candidate: "candidate:x"},
	}
	if err := b.WriteJSON(cand); err != nil {
		t.Fatalf("send candidate: %v", err)
	}

	got := readEnvelope(t, a)
	if got.Kind != domain.KindCandidate || got.Candidate == nil || got.Candidate.Candidate != "candidate:x" {
		t.Fatalf("candidate not forwarded: %+v", got)
	}
}
