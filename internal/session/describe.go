package session

import (
	"errors"

	"devlink/internal/gateway"
	"devlink/internal/process"
	"devlink/internal/transport"
)

// Describe turns an operation error into a message a user can act on.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, transport.ErrDeviceBusy):
		return "The device interface is already in use by another program. Close the other client and try again."
	case errors.Is(err, transport.ErrAuth):
		return "Authentication failed. Check private_key / password in devlink.yaml."
	case errors.Is(err, transport.ErrDeviceUnavailable):
		return "Device unreachable. Is it plugged in and is the SSH server running?"
	case errors.Is(err, ErrNotConnected):
		return "Not connected. Connect to the device first."
	case errors.Is(err, process.ErrAlreadyRunning):
		return "Already running. Stop it first."
	case errors.Is(err, transport.ErrPathNotFound):
		return "No such file or directory: " + err.Error()
	case errors.Is(err, transport.ErrPermission):
		return "Permission denied: " + err.Error()
	case errors.Is(err, gateway.ErrGatewayClosed):
		return "The connection is closing."
	default:
		return err.Error()
	}
}
