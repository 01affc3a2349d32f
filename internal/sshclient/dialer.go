package sshclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"devlink/internal/transport"
)

// Options addresses one device.
type Options struct {
	Host    string
	Port    int
	User    string
	Keys    KeyStore
	Timeout time.Duration
}

// Dialer authenticates SSH connections and implements transport.Authenticator.
type Dialer struct {
	opts Options
	log  zerolog.Logger
}

func NewDialer(opts Options, log zerolog.Logger) *Dialer {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dialer{opts: opts, log: log.With().Str("component", "ssh").Logger()}
}

func (d *Dialer) Addr() string {
	return net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
}

func (d *Dialer) Authenticate(ctx context.Context, deviceID string) (transport.Transport, error) {
	auth, err := d.opts.Keys.AuthMethods()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrAuth, err)
	}
	hostKey, err := d.opts.Keys.HostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrAuth, err)
	}
	config := &ssh.ClientConfig{
		User:            d.opts.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         d.opts.Timeout,
	}

	addr := d.Addr()
	d.log.Debug().Str("device", deviceID).Str("addr", addr).Msg("dialing")

	nd := net.Dialer{Timeout: d.opts.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %v", addr, transport.ErrDeviceUnavailable, err)
	}

	deadline := time.Now().Add(d.opts.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		conn.Close()
		return nil, classifyHandshake(addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	d.log.Info().Str("device", deviceID).Str("addr", addr).Str("server", string(c.ServerVersion())).Msg("connected")
	return newClient(ssh.NewClient(c, chans, reqs), deviceID, d.log), nil
}

func classifyHandshake(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	msg := err.Error()
	switch {
	case transport.IsBusyMessage(msg):
		return fmt.Errorf("handshake %s: %w: %v", addr, transport.ErrDeviceBusy, err)
	case errors.As(err, &keyErr),
		strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return fmt.Errorf("handshake %s: %w: %v", addr, transport.ErrAuth, err)
	default:
		return fmt.Errorf("handshake %s: %w: %v", addr, transport.ErrDeviceUnavailable, err)
	}
}
