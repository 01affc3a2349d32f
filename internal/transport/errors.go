package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
)

var (
	ErrAuth              = errors.New("authentication failed")
	ErrDeviceBusy        = errors.New("device interface is in use by another client")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrPathNotFound      = errors.New("path not found")
	ErrPermission        = errors.New("permission denied")
	ErrChannelIO         = errors.New("sync channel i/o failure")
)

var busyRe = regexp.MustCompile(`(?i)busy|in use`)

// IsBusyMessage reports whether an authentication failure message means the
// device interface is claimed by someone else.
func IsBusyMessage(msg string) bool {
	return busyRe.MatchString(msg)
}

// Classify maps a raw sync channel error onto the taxonomy. Errors already
// classified are returned unchanged; cancellation keeps its own identity.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrPathNotFound), errors.Is(err, ErrPermission), errors.Is(err, ErrChannelIO):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w", op, path, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, path, ErrPathNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s: %w", op, path, ErrPermission)
	default:
		return fmt.Errorf("%s %s: %w: %v", op, path, ErrChannelIO, err)
	}
}
