package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/peakfit/callkit/internal/domain"
)

type fakeFeed struct {
	mu     sync.Mutex
	notifs []domain.Notification
	read   []string
}

func (f *fakeFeed) UnreadNotifications(context.Context) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var unread []domain.Notification
	for _, n := range f.notifs {
		if !n.Read {
			unread = append(unread, n)
		}
	}
	return unread, nil
}

func (f *fakeFeed) MarkNotificationRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	for i := range f.notifs {
		if f.notifs[i].ID == id {
			f.notifs[i].Read = true
		}
	}
	return nil
}

type fakeSink struct {
	accept bool
	got    []domain.IncomingInvitation
}

func (s *fakeSink) InvitationReceived(inv domain.IncomingInvitation) bool {
	s.got = append(s.got, inv)
	return s.accept
}

func callNotification(id, callID string) domain.Notification {
	return domain.Notification{
		ID:     id,
		Type:   domain.NotificationIncomingCall,
		CallID: callID,
		From:   "bob",
		Kind:   domain.MediaAudio,
	}
}

func TestPollSurfacesFirstUnreadCall(t *testing.T) {
	feed := &fakeFeed{notifs: []domain.Notification{callNotification("n1", "call-1")}}
	sink := &fakeSink{accept: true}
	w := NewWatcher(feed, sink, NewTracker(), 0)

	w.Poll(context.Background())

	if len(sink.got) != 1 || sink.got[0].CallID != "call-1" || sink.got[0].NotificationID != "n1" {
		t.Fatalf("sink got %+v", sink.got)
	}
	if len(feed.read) != 1 || feed.read[0] != "n1" {
		t.Fatalf("read = %v, want [n1]", feed.read)
	}
}

func TestRefusedInvitationStaysUnread(t *testing.T) {
	feed := &fakeFeed{notifs: []domain.Notification{callNotification("n1", "call-1")}}
	sink := &fakeSink{accept: false}
	w := NewWatcher(feed, sink, NewTracker(), 0)

	w.Poll(context.Background())
	if len(feed.read) != 0 {
		t.Fatalf("refused invitation was acknowledged: %v", feed.read)
	}

	// The busy spell ends; the same notification comes back on the next poll.
	sink.accept = true
	w.Poll(context.Background())
	if len(sink.got) != 2 {
		t.Fatalf("sink calls = %d, want redelivery", len(sink.got))
	}
	if len(feed.read) != 1 || feed.read[0] != "n1" {
		t.Fatalf("read = %v, want [n1]", feed.read)
	}
}

func TestPushDeliveredCallOnlyAcknowledged(t *testing.T) {
	feed := &fakeFeed{notifs: []domain.Notification{callNotification("n1", "call-1")}}
	sink := &fakeSink{accept: true}
	tracker := NewTracker()
	tracker.Add("call-1") // push path got there first

	NewWatcher(feed, sink, tracker, 0).Poll(context.Background())

	if len(sink.got) != 0 {
		t.Fatalf("already-surfaced call delivered again: %+v", sink.got)
	}
	if len(feed.read) != 1 || feed.read[0] != "n1" {
		t.Fatalf("read = %v, want [n1]", feed.read)
	}
}

func TestNonCallNotificationsSkipped(t *testing.T) {
	feed := &fakeFeed{notifs: []domain.Notification{
		{ID: "n1", Type: "message", From: "bob"},
		callNotification("n2", "call-2"),
	}}
	sink := &fakeSink{accept: true}
	w := NewWatcher(feed, sink, NewTracker(), 0)

	w.Poll(context.Background())

	if len(sink.got) != 1 || sink.got[0].CallID != "call-2" {
		t.Fatalf("sink got %+v, want only call-2", sink.got)
	}
	if len(feed.read) != 1 || feed.read[0] != "n2" {
		t.Fatalf("read = %v, want [n2]", feed.read)
	}
}

func TestOneInvitationPerPoll(t *testing.T) {
	feed := &fakeFeed{notifs: []domain.Notification{
		callNotification("n1", "call-1"),
		callNotification("n2", "call-2"),
	}}
	sink := &fakeSink{accept: true}
	w := NewWatcher(feed, sink, NewTracker(), 0)

	w.Poll(context.Background())
	if len(sink.got) != 1 {
		t.Fatalf("sink got %d invitations in one poll, want 1", len(sink.got))
	}

	w.Poll(context.Background())
	if len(sink.got) != 2 || sink.got[1].CallID != "call-2" {
		t.Fatalf("second poll did not surface the next call: %+v", sink.got)
	}
}

func TestTrackerDeduplicates(t *testing.T) {
	tr := NewTracker()
	if tr.Surfaced("call-1") {
		t.Fatal("empty tracker reported call as surfaced")
	}
	tr.Add("call-1")
	if !tr.Surfaced("call-1") {
		t.Fatal("tracked call not reported")
	}
	if tr.Surfaced("call-2") {
		t.Fatal("untracked call reported as surfaced")
	}
}

func TestPushHandlerHonorsTracker(t *testing.T) {
	sink := &fakeSink{accept: true}
	tracker := NewTracker()
	p := NewPushWatcher(nil, "alice", sink, tracker)
	h := &pushHandler{watcher: p, down: make(chan struct{})}

	inv := domain.IncomingInvitation{CallID: "call-1", From: "bob"}
	h.OnIncomingCall(inv)
	if len(sink.got) != 1 {
		t.Fatalf("sink got %d, want 1", len(sink.got))
	}
	if !tracker.Surfaced("call-1") {
		t.Fatal("taken invitation not tracked")
	}

	h.OnIncomingCall(inv)
	if len(sink.got) != 1 {
		t.Fatalf("duplicate push delivered: %d", len(sink.got))
	}
}

func TestPushHandlerBusySinkNotTracked(t *testing.T) {
	sink := &fakeSink{accept: false}
	tracker := NewTracker()
	p := NewPushWatcher(nil, "alice", sink, tracker)
	h := &pushHandler{watcher: p, down: make(chan struct{})}

	h.OnIncomingCall(domain.IncomingInvitation{CallID: "call-1"})
	if tracker.Surfaced("call-1") {
		t.Fatal("refused invitation must not be tracked, the poll path retries it")
	}
}
