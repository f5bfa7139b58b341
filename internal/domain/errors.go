package domain

import "errors"

// Media acquisition failures. Raw device errors never cross the media
// package boundary; they are classified into one of these.
var (
	ErrPermissionDenied       = errors.New("media permission denied")
	ErrDeviceNotFound         = errors.New("media device not found")
	ErrDeviceBusy             = errors.New("media device busy")
	ErrConstraintsUnsupported = errors.New("media constraints unsupported")
	ErrAcquisitionFailed      = errors.New("media acquisition failed")
)

// Call failures.
var (
	ErrSignalingUnavailable = errors.New("signaling unavailable")
	ErrNegotiationFailed    = errors.New("negotiation failed")
	ErrCallInProgress       = errors.New("another call is in progress")
	ErrNoPendingInvitation  = errors.New("no pending invitation")
)

// Recoverable reports whether an acquisition error should keep the in-flight
// call open with a retry affordance instead of ending it.
func Recoverable(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrDeviceBusy)
}
