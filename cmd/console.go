package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"devlink/internal/config"
	"devlink/internal/events"
	"devlink/internal/process"
	"devlink/internal/session"
	"devlink/internal/sshclient"
	"devlink/internal/transfer"
	"devlink/internal/transport"
	"devlink/internal/util"
)

const stopTimeout = 5 * time.Second

var (
	stderrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = lipgloss.NewStyle().Faint(true)
	dirStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle   = lipgloss.NewStyle().Width(40)
)

func newSession(cfg *config.Config) *session.Session {
	dialer := sshclient.NewDialer(sshclient.Options{
		Host: cfg.Host,
		Port: cfg.Port,
		User: cfg.Username,
		Keys: sshclient.KeyStore{
			PrivateKeyPath: cfg.PrivateKey,
			Passphrase:     cfg.Passphrase,
			Password:       cfg.Password,
			KnownHostsPath: cfg.KnownHosts,
		},
		Timeout: cfg.Timeout(),
	}, appLog)
	return session.New(dialer, session.Options{DeviceID: cfg.DeviceID, StartPath: cfg.StartPath}, appLog)
}

// console prints session events and hands role endings to whoever waits.
type console struct {
	ended chan events.ProcessEnded
}

func attachConsole(s *session.Session) (*console, error) {
	c := &console{ended: make(chan events.ProcessEnded, 2*len(process.Roles))}
	bus := s.Bus()

	if err := bus.Subscribe(events.EventProcessLine, func(l events.ProcessLine) {
		if l.Stream == transport.StreamStderr.String() {
			out.Println(stderrStyle.Render(l.Line))
			return
		}
		out.Println(l.Line)
	}); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(events.EventProcessEnded, func(e events.ProcessEnded) {
		if e.Err != nil {
			out.Println(statusStyle.Render(fmt.Sprintf("%s failed: %s", statusName(e.Role), session.Describe(e.Err))))
		} else {
			out.Println(statusStyle.Render(statusName(e.Role) + " ended"))
		}
		// handlers run on the merge loop; never block it
		select {
		case c.ended <- e:
		default:
		}
	}); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(events.EventDeviceDisconnected, func(d events.Device) {
		if d.Reason != "" {
			out.Printf("⚠️  Disconnected from %s: %s\n", d.DeviceID, d.Reason)
		}
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func statusName(role string) string {
	if role == process.LogTail.String() {
		return "logread"
	}
	return role
}

// reset drops endings left over from an earlier run.
func (c *console) reset() {
	for {
		select {
		case <-c.ended:
		default:
			return
		}
	}
}

// wait blocks until role ends on its own, stop fires or ctx is cancelled.
// The last two stop the process first. An interrupt is a clean stop.
func (c *console) wait(ctx context.Context, s *session.Session, role process.Role, stop <-chan struct{}) error {
	for {
		select {
		case e := <-c.ended:
			if e.Role == role.String() {
				return e.Err
			}
		case <-stop:
			return stopRole(s, role)
		case <-ctx.Done():
			return stopRole(s, role)
		}
	}
}

func stopRole(s *session.Session, role process.Role) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return s.Stop(ctx, role)
}

// withSession connects, runs fn and always disconnects.
func withSession(ctx context.Context, fn func(ctx context.Context, s *session.Session, cfg *config.Config, con *console) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s := newSession(cfg)
	con, err := attachConsole(s)
	if err != nil {
		return err
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	defer util.Attempt(appLog, "disconnect", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return s.Disconnect(ctx)
	})
	return fn(ctx, s, cfg, con)
}

func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// progressView draws a bar on a terminal and stays silent otherwise. The
// bar is created on the first update, once the task is known.
func progressView() func(transfer.Progress) {
	if !stderrIsTerminal() {
		return nil
	}
	var bar *transfer.Bar
	return func(p transfer.Progress) {
		if p.Status == transfer.Failed {
			return
		}
		if bar == nil {
			bar = transfer.NewBar(os.Stderr, transfer.Task{
				ID:        p.TaskID,
				Direction: p.Direction,
				Path:      p.Path,
				Total:     p.Total,
			})
		}
		bar.Update(p)
	}
}
