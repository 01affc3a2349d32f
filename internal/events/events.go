// Package events defines the topics and payloads exchanged over a session's
// EventBus.
package events

import "github.com/asaskevich/EventBus"

// AppBus carries application-level coordination between main and the
// command tree. Device traffic never goes through it; each session owns its
// own bus (see New).
var AppBus EventBus.Bus = EventBus.New()

// New returns a fresh bus for one session.
func New() EventBus.Bus {
	return EventBus.New()
}

const (
	// Application events, payload: reason string.
	EventShutdownRequested = "app:shutdown:requested"

	// Device events, payload: Device.
	EventDeviceConnected    = "device:connected"
	EventDeviceDisconnected = "device:disconnected"

	// Process events, payloads: ProcessStarted, ProcessLine, ProcessEnded.
	EventProcessStarted = "process:started"
	EventProcessLine    = "process:line"
	EventProcessEnded   = "process:ended"

	// Transfer events, payload: transfer.Progress.
	EventTransferProgress = "transfer:progress"

	// Browser events, payload: Listed.
	EventBrowserListed = "browser:listed"
)

// Device describes a connectivity change. Reason is empty for a user
// initiated change.
type Device struct {
	DeviceID string
	Reason   string
}

type ProcessStarted struct {
	Role    string
	Command string
}

type ProcessLine struct {
	Role   string
	Stream string
	Line   string
}

// ProcessEnded carries the terminal error; Err is nil on clean EOF or stop.
type ProcessEnded struct {
	Role string
	Err  error
}

type Listed struct {
	Path    string
	Entries int
}
