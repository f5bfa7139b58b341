//go:build linux

package media

// V4L2 camera and malgo microphone drivers register themselves on import.
import (
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)
