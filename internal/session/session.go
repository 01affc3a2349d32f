// Package session ties one device connection to its process controller,
// sync gateway and file browser, and owns the order in which they are torn
// down.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"devlink/internal/browser"
	"devlink/internal/events"
	"devlink/internal/gateway"
	"devlink/internal/process"
	"devlink/internal/transport"
	"devlink/internal/util"
)

var ErrNotConnected = errors.New("not connected to a device")

// Connection is the authenticated transport of one device.
type Connection struct {
	DeviceID  string
	transport transport.Transport

	closeOnce sync.Once
	closeErr  error
}

// Open authenticates deviceID through auth.
func Open(ctx context.Context, auth transport.Authenticator, deviceID string) (*Connection, error) {
	tr, err := auth.Authenticate(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return &Connection{DeviceID: deviceID, transport: tr}, nil
}

func (c *Connection) Transport() transport.Transport { return c.transport }

// Close is idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// DefaultOneShotGrace bounds how long Disconnect waits for preset commands
// still running in the background.
const DefaultOneShotGrace = 10 * time.Second

// Options configures a Session.
type Options struct {
	DeviceID  string
	StartPath string
	// OneShotGrace defaults to DefaultOneShotGrace.
	OneShotGrace time.Duration
}

// Session is the single live device context of the program.
type Session struct {
	ID   string
	auth transport.Authenticator
	opts Options
	log  zerolog.Logger
	bus  EventBus.Bus

	mu         sync.Mutex
	conn       *Connection
	controller *process.Controller
	gateway    *gateway.Gateway
	browser    *browser.Browser
	watchStop  chan struct{}
	oneShots   sync.WaitGroup
}

func New(auth transport.Authenticator, opts Options, log zerolog.Logger) *Session {
	if opts.StartPath == "" {
		opts.StartPath = "/"
	}
	if opts.OneShotGrace <= 0 {
		opts.OneShotGrace = DefaultOneShotGrace
	}
	id := uuid.NewString()
	return &Session{
		ID:   id,
		auth: auth,
		opts: opts,
		log:  log.With().Str("session", id[:8]).Logger(),
		bus:  events.New(),
	}
}

// DeviceID names the device this session connects to.
func (s *Session) DeviceID() string { return s.opts.DeviceID }

// Bus is the event bus carrying this session's events. Handlers run on the
// publishing goroutine, sometimes while the session lock is held, so they
// must not call back into the Session.
func (s *Session) Bus() EventBus.Bus { return s.bus }

// Connected reports whether a connection is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connect opens the device connection. Connecting twice is a no-op. A failed
// connect leaves the session disconnected and clean.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	conn, err := Open(ctx, s.auth, s.opts.DeviceID)
	if err != nil {
		s.log.Warn().Err(err).Str("device", s.opts.DeviceID).Msg("connect failed")
		s.teardownLocked(ctx, "")
		return fmt.Errorf("connect %s: %w", s.opts.DeviceID, err)
	}

	tr := conn.Transport()
	s.conn = conn
	s.controller = process.NewController(tr, &busObserver{bus: s.bus}, s.log)
	s.gateway = gateway.New(tr.OpenSync, s.log)
	s.browser = browser.New(s.gateway, s.opts.StartPath)
	s.browser.OnListed(func(dir string, entries []gateway.FsEntry) {
		s.bus.Publish(events.EventBrowserListed, events.Listed{Path: dir, Entries: len(entries)})
	})
	s.watchStop = make(chan struct{})
	go s.watch(conn, tr.Done(), s.watchStop)

	s.log.Info().Str("device", s.opts.DeviceID).Msg("connected")
	s.bus.Publish(events.EventDeviceConnected, events.Device{DeviceID: s.opts.DeviceID})
	return nil
}

// watch forces a disconnect when the transport of conn dies on its own. A
// later connection of the same session is left alone.
func (s *Session) watch(conn *Connection, done <-chan struct{}, stop <-chan struct{}) {
	select {
	case <-done:
	case <-stop:
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	s.log.Warn().Msg("transport lost")
	_ = s.teardownLocked(context.Background(), "connection lost")
}

// Disconnect stops every process, closes the gateway and then the transport.
// It is safe to call when not connected.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.disconnect(ctx, "")
}

func (s *Session) disconnect(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.awaitOneShotsLocked(ctx)
	return s.teardownLocked(ctx, reason)
}

// awaitOneShotsLocked gives preset commands still running in the background
// a bounded chance to finish before the transport goes away.
func (s *Session) awaitOneShotsLocked(ctx context.Context) {
	finished := make(chan struct{})
	go func() {
		s.oneShots.Wait()
		close(finished)
	}()
	timer := time.NewTimer(s.opts.OneShotGrace)
	defer timer.Stop()
	select {
	case <-finished:
	case <-ctx.Done():
		s.log.Warn().Msg("disconnecting with preset commands still running")
	case <-timer.C:
		s.log.Warn().Dur("grace", s.opts.OneShotGrace).Msg("disconnecting with preset commands still running")
	}
}

func (s *Session) teardownLocked(ctx context.Context, reason string) error {
	var errs []error
	if s.watchStop != nil {
		close(s.watchStop)
		s.watchStop = nil
	}
	if s.controller != nil {
		if err := s.controller.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.gateway != nil {
		if err := s.gateway.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	wasConnected := s.conn != nil
	if s.conn != nil {
		util.Attempt(s.log, "close transport", s.conn.Close)
	}
	s.conn = nil
	s.controller = nil
	s.gateway = nil
	s.browser = nil

	if wasConnected {
		s.log.Info().Str("device", s.opts.DeviceID).Str("reason", reason).Msg("disconnected")
		s.bus.Publish(events.EventDeviceDisconnected, events.Device{DeviceID: s.opts.DeviceID, Reason: reason})
	}
	return errors.Join(errs...)
}

// Processes returns the live controller.
func (s *Session) Processes() (*process.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controller == nil {
		return nil, ErrNotConnected
	}
	return s.controller, nil
}

// Gateway returns the live sync gateway.
func (s *Session) Gateway() (*gateway.Gateway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gateway == nil {
		return nil, ErrNotConnected
	}
	return s.gateway, nil
}

// Browser returns the live file browser.
func (s *Session) Browser() (*browser.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil, ErrNotConnected
	}
	return s.browser, nil
}

// busObserver republishes process output on the session bus.
type busObserver struct {
	bus EventBus.Bus
}

func (o *busObserver) ProcessStarted(role process.Role, spec transport.CommandSpec) {
	o.bus.Publish(events.EventProcessStarted, events.ProcessStarted{Role: role.String(), Command: spec.Line()})
}

func (o *busObserver) ProcessLine(role process.Role, kind transport.StreamKind, line string) {
	o.bus.Publish(events.EventProcessLine, events.ProcessLine{Role: role.String(), Stream: kind.String(), Line: line})
}

func (o *busObserver) ProcessEnded(role process.Role, err error) {
	o.bus.Publish(events.EventProcessEnded, events.ProcessEnded{Role: role.String(), Err: err})
}
