package cmd

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"

	"github.com/manifoldco/promptui"

	"devlink/internal/config"
	"devlink/internal/process"
	"devlink/internal/session"
	"devlink/internal/transport"
	"devlink/internal/util"
)

const (
	menuConnect    = "Connect"
	menuDisconnect = "Disconnect"
	menuLogs       = "logs :: Tail device log"
	menuExec       = "exec :: Run a command"
	menuBrowse     = "browse :: Browse files"
	menuPush       = "push :: Upload a file"
	menuPull       = "pull :: Download a file"
	menuAction     = "action :: Run a preset"
	menuRestart    = "Restart"
	menuExit       = "Exit"
)

// runMenu is the interactive loop over one long-lived session.
func runMenu(ctx context.Context, cfg *config.Config) error {
	s := newSession(cfg)
	con, err := attachConsole(s)
	if err != nil {
		return err
	}
	defer util.Attempt(appLog, "disconnect", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return s.Disconnect(ctx)
	})

	for {
		if ctx.Err() != nil {
			out.Println("⏹ Cancelled")
			return nil
		}

		items := []string{menuConnect}
		if s.Connected() {
			items = []string{menuDisconnect, menuLogs, menuExec, menuBrowse, menuPush, menuPull, menuAction}
		}
		items = append(items, menuRestart, menuExit)

		prompt := promptui.Select{
			Label: cfg.DeviceID + " @ " + cfg.Host,
			Items: items,
			Size:  len(items),
		}
		_, choice, err := choose(&prompt)
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return err
		}

		switch choice {
		case menuExit:
			out.Println("Exiting...")
			return nil
		case menuRestart:
			out.Println("🔄 Reloading configuration...")
			newCfg, err := loadConfig()
			if err != nil {
				out.Printf("❌ Failed to reload configuration: %v\n", err)
				out.Println("💡 Continuing with current configuration")
				continue
			}
			util.Attempt(appLog, "disconnect", func() error { return s.Disconnect(ctx) })
			cfg = newCfg
			s = newSession(cfg)
			if con, err = attachConsole(s); err != nil {
				return err
			}
			out.Println("✅ Configuration reloaded successfully!")
			continue
		}

		if err := handleMenu(ctx, s, cfg, con, choice); err != nil {
			out.Printf("❌ %s\n", session.Describe(err))
		}
	}
}

func handleMenu(ctx context.Context, s *session.Session, cfg *config.Config, con *console, choice string) error {
	switch choice {
	case menuConnect:
		out.Printf("Connecting to %s...\n", cfg.Host)
		if err := s.Connect(ctx); err != nil {
			return err
		}
		out.Printf("✅ Connected to %s\n", cfg.DeviceID)
	case menuDisconnect:
		return s.Disconnect(ctx)
	case menuLogs:
		con.reset()
		if err := s.StartLogTail(ctx, cfg.LogSpec()); err != nil {
			return err
		}
		return foreground(ctx, s, con, process.LogTail)
	case menuExec:
		input, err := askLine(&promptui.Prompt{Label: "Command"})
		if err != nil || strings.TrimSpace(input) == "" {
			return nil
		}
		con.reset()
		if err := s.RunCommand(ctx, input, cfg.Output()); err != nil {
			return err
		}
		return foreground(ctx, s, con, process.AdHocCommand)
	case menuBrowse:
		return browse(ctx, s, cfg)
	case menuPush:
		local, err := askLine(&promptui.Prompt{Label: "Local file"})
		if err != nil || strings.TrimSpace(local) == "" {
			return nil
		}
		dir, err := askLine(&promptui.Prompt{Label: "Device directory", Default: cfg.PushDir})
		if err != nil {
			return nil
		}
		return pushFile(ctx, s, strings.TrimSpace(local), strings.TrimSpace(dir), 0)
	case menuPull:
		remote, fromHistory, err := pickRemote(s)
		if err != nil || strings.TrimSpace(remote) == "" {
			return nil
		}
		if fromHistory {
			return pullRecent(ctx, s, remote)
		}
		return pullFile(ctx, s, strings.TrimSpace(remote), "")
	case menuAction:
		if len(cfg.Actions) == 0 {
			out.Println("No actions configured.")
			return nil
		}
		var names []string
		for _, a := range cfg.Actions {
			names = append(names, a.Name)
		}
		idx, _, err := choose(&promptui.Select{Label: "Action", Items: names})
		if err != nil {
			return nil
		}
		return runAction(ctx, s, cfg.Actions[idx])
	}
	return nil
}

// foreground streams role output until it ends or the user presses Enter.
// After a natural end the same Enter returns to the menu.
func foreground(ctx context.Context, s *session.Session, con *console, role process.Role) error {
	out.Println(statusStyle.Render("Press Enter to stop."))
	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()

	err := con.wait(ctx, s, role, enter)
	select {
	case <-enter:
	default:
		out.Println(statusStyle.Render("Press Enter to return to the menu."))
		select {
		case <-enter:
		case <-ctx.Done():
		}
	}
	return err
}

const itemOtherPath = "[other path]"

// pickRemote offers recently used paths of the device, or a new one.
// fromHistory reports whether the path came from the recent list.
func pickRemote(s *session.Session) (remote string, fromHistory bool, err error) {
	paths := recent.Recent(s.DeviceID())
	if len(paths) == 0 {
		remote, err = askLine(&promptui.Prompt{Label: "Device file"})
		return remote, false, err
	}
	items := append(paths, itemOtherPath)
	prompt := promptui.Select{
		Label:    "Device file",
		Items:    items,
		Size:     10,
		Searcher: historySearcher(s.DeviceID(), items),
	}
	_, choice, err := choose(&prompt)
	if err != nil {
		return "", false, err
	}
	if choice == itemOtherPath {
		remote, err = askLine(&promptui.Prompt{Label: "Device file"})
		return remote, false, err
	}
	return choice, true, nil
}

// historySearcher filters items through the history search of device. The
// last item (the free-form entry) always stays visible.
func historySearcher(device string, items []string) func(input string, index int) bool {
	var query string
	var hits map[string]bool
	return func(input string, index int) bool {
		if index == len(items)-1 {
			return true
		}
		if hits == nil || input != query {
			query = input
			hits = make(map[string]bool)
			for _, p := range recent.Search(device, input) {
				hits[p] = true
			}
		}
		return hits[items[index]]
	}
}

// pullRecent pulls a path picked from history and forgets it when the device
// no longer has it.
func pullRecent(ctx context.Context, s *session.Session, remote string) error {
	err := pullFile(ctx, s, remote, "")
	if errors.Is(err, transport.ErrPathNotFound) {
		util.Attempt(appLog, "forget "+remote, func() error { return recent.Remove(s.DeviceID(), remote) })
	}
	return err
}

// prompting holds console output back while run owns the terminal.
func prompting(run func()) {
	out.Suspend()
	defer out.Resume()
	run()
}

func askLine(p *promptui.Prompt) (input string, err error) {
	prompting(func() { input, err = p.Run() })
	return input, err
}

func choose(p *promptui.Select) (idx int, choice string, err error) {
	prompting(func() { idx, choice, err = p.Run() })
	return idx, choice, err
}
