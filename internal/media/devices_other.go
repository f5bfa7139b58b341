//go:build !linux

package media

// No capture drivers are registered on this platform; every acquisition tier
// fails and Acquire reports DeviceNotFound.
