// Package notify delivers incoming-call invitations to the orchestrator,
// either by polling the platform notification feed or by listening for pushed
// incoming-call events on a persistent signaling connection. At most one
// invitation is surfaced while one is pending: the sink refuses extras and a
// refused notification stays unread for a later poll.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/domain"
)

// trackerTTL is how long a surfaced call id is remembered so the poll path
// can acknowledge a notification the push path already delivered.
const trackerTTL = 10 * time.Minute

// Tracker remembers which call ids were already surfaced, deduplicating the
// push and poll delivery paths. Share one Tracker between both watchers.
type Tracker struct {
	mu sync.Mutex
	m  map[string]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{m: make(map[string]time.Time)}
}

// Add records a surfaced call id.
func (t *Tracker) Add(callID string) {
	now := time.Now()
	t.mu.Lock()
	for id, at := range t.m {
		if now.Sub(at) > trackerTTL {
			delete(t.m, id)
		}
	}
	t.m[callID] = now
	t.mu.Unlock()
}

// Surfaced reports whether a call id was already surfaced recently.
func (t *Tracker) Surfaced(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.m[callID]
	return ok && time.Since(at) <= trackerTTL
}

// Watcher polls the notification feed for unread call invitations.
type Watcher struct {
	feed     domain.NotificationFeed
	sink     domain.InvitationSink
	tracker  *Tracker
	interval time.Duration
}

// NewWatcher creates a poll watcher. tracker may be shared with a PushWatcher.
func NewWatcher(feed domain.NotificationFeed, sink domain.InvitationSink, tracker *Tracker, interval time.Duration) *Watcher {
	return &Watcher{feed: feed, sink: sink, tracker: tracker, interval: interval}
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one feed check. It surfaces at most one invitation and only marks
// a notification read once its invitation was actually taken (or was already
// delivered via push).
func (w *Watcher) Poll(ctx context.Context) {
	notifs, err := w.feed.UnreadNotifications(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "notify").Msg("poll notifications")
		return
	}

	for _, n := range notifs {
		if n.Type != domain.NotificationIncomingCall {
			continue
		}

		if w.tracker.Surfaced(n.CallID) {
			// Already delivered over the push path; just acknowledge.
			w.markRead(ctx, n.ID)
			continue
		}

		inv := domain.IncomingInvitation{
			CallID:         n.CallID,
			From:           n.From,
			Kind:           n.Kind,
			NotificationID: n.ID,
		}
		if w.sink.InvitationReceived(inv) {
			w.tracker.Add(n.CallID)
			w.markRead(ctx, n.ID)
		}
		// One invitation per tick, taken or not. A refused one stays unread
		// and comes back on a later poll.
		return
	}
}

func (w *Watcher) markRead(ctx context.Context, id string) {
	if err := w.feed.MarkNotificationRead(ctx, id); err != nil {
		log.Warn().Err(err).Str("module", "notify").Str("notification", id).Msg("mark read")
	}
}
