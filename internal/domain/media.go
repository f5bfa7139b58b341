package domain

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is a local capture track that can be attached to a peer
// connection and stopped when the call ends. pion/mediadevices tracks
// satisfy this.
type LocalTrack interface {
	webrtc.TrackLocal
	Close() error
}

// MediaHandle owns the local track set for one call session. At most one
// exists per session; ownership moves from the acquirer to the peer session.
type MediaHandle struct {
	Tracks []LocalTrack

	// Kind is the effective kind after any degradation. A video request that
	// fell back to audio-only has Kind MediaAudio and Degraded true.
	Kind     MediaKind
	Degraded bool

	closeOnce sync.Once
}

// HasVideo reports whether the handle carries at least one video track.
func (h *MediaHandle) HasVideo() bool {
	for _, t := range h.Tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}

// HasAudio reports whether the handle carries at least one audio track.
func (h *MediaHandle) HasAudio() bool {
	for _, t := range h.Tracks {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			return true
		}
	}
	return false
}

// Close stops every track. Safe to call multiple times.
func (h *MediaHandle) Close() {
	h.closeOnce.Do(func() {
		for _, t := range h.Tracks {
			t.Close()
		}
	})
}

// RemoteStream collects the remote track set for one call. It is created by
// the peer session when the first remote track arrives and grows as further
// tracks land on the same connection.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

// Add appends a remote track.
func (s *RemoteStream) Add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Tracks returns a snapshot of the remote track set.
func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}
