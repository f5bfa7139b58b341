package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/domain"
)

type getUserMediaFunc func(mediadevices.MediaStreamConstraints) ([]domain.LocalTrack, error)

// getUserMedia adapts mediadevices.GetUserMedia to the track surface the rest
// of the engine uses.
func getUserMedia(c mediadevices.MediaStreamConstraints) ([]domain.LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(c)
	if err != nil {
		return nil, err
	}
	var tracks []domain.LocalTrack
	for _, track := range stream.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", track.ID()).Msg("local track ended")
			}
		})
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// Acquirer obtains local camera/microphone tracks with the narrowest
// constraints that still succeed. Acquisition walks a descending ladder:
// ideal constraints, then minimal boolean constraints, then — for video
// requests — audio only. A video request that lands on the last tier returns
// a handle marked Degraded.
type Acquirer struct {
	codec *mediadevices.CodecSelector

	// seam for tests; defaults to mediadevices.GetUserMedia
	getUserMedia getUserMediaFunc
}

// NewAcquirer creates an acquirer using the given codec selector.
func NewAcquirer(codec *mediadevices.CodecSelector) *Acquirer {
	return &Acquirer{codec: codec, getUserMedia: getUserMedia}
}

type tier struct {
	label string
	video bool
	ideal bool
}

// Acquire runs the constraint ladder. On success the handle carries at least
// one live audio track, plus a video track unless the request degraded.
// Failures are always one of the domain taxonomy errors.
func (a *Acquirer) Acquire(ctx context.Context, wantVideo bool) (*domain.MediaHandle, error) {
	var tiers []tier
	if wantVideo {
		tiers = []tier{
			{"ideal video+audio", true, true},
			{"basic video+audio", true, false},
			{"audio fallback", false, false},
		}
	} else {
		tiers = []tier{
			{"ideal audio", false, true},
			{"basic audio", false, false},
		}
	}

	var lastErr error
	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAcquisitionFailed, err)
		}

		tracks, err := a.getUserMedia(a.constraints(t))
		if err != nil {
			log.Debug().Err(err).Str("module", "media").Str("tier", t.label).Msg("getUserMedia failed")
			lastErr = err
			continue
		}

		handle := newHandle(tracks, wantVideo)
		if !handle.HasAudio() {
			// A stream without audio is unusable for a call.
			handle.Close()
			lastErr = fmt.Errorf("tier %s produced no audio track", t.label)
			continue
		}

		log.Info().Str("module", "media").Str("tier", t.label).
			Bool("degraded", handle.Degraded).Int("tracks", len(handle.Tracks)).
			Msg("local media acquired")
		return handle, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no acquisition tier attempted")
	}
	return nil, classify(lastErr)
}

func (a *Acquirer) constraints(t tier) mediadevices.MediaStreamConstraints {
	c := mediadevices.MediaStreamConstraints{Codec: a.codec}

	if t.video {
		if t.ideal {
			c.Video = func(mc *mediadevices.MediaTrackConstraints) {
				// Raw formats only: an MJPEG camera node can poison the VP8
				// encoder with malformed frames.
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mc.Width = prop.IntRanged{Ideal: 1280, Max: 1280}
				mc.Height = prop.IntRanged{Ideal: 720, Max: 720}
				mc.FrameRate = prop.FloatRanged{Ideal: 30, Max: 30}
			}
		} else {
			c.Video = func(*mediadevices.MediaTrackConstraints) {}
		}
	}

	if t.ideal {
		c.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			mc.SampleRate = prop.IntRanged{Ideal: 48000}
			mc.ChannelCount = prop.IntRanged{Ideal: 1}
		}
	} else {
		c.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	return c
}

func newHandle(tracks []domain.LocalTrack, wantVideo bool) *domain.MediaHandle {
	h := &domain.MediaHandle{Kind: domain.MediaAudio, Tracks: tracks}
	if h.HasVideo() {
		h.Kind = domain.MediaVideo
	} else if wantVideo {
		h.Degraded = true
	}
	return h
}

// classify maps a platform/device error onto the fixed taxonomy. Raw errors
// never leave this package uncategorized.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") ||
		strings.Contains(msg, "not allowed") ||
		strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no such") ||
		strings.Contains(msg, "failed to find") ||
		strings.Contains(msg, "no device"):
		return fmt.Errorf("%w: %v", domain.ErrDeviceNotFound, err)
	case strings.Contains(msg, "busy") ||
		strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", domain.ErrDeviceBusy, err)
	case strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "overconstrained") ||
		strings.Contains(msg, "unsupported"):
		return fmt.Errorf("%w: %v", domain.ErrConstraintsUnsupported, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrAcquisitionFailed, err)
	}
}
