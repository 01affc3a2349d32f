package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"devlink/internal/browser"
	"devlink/internal/config"
	"devlink/internal/gateway"
	"devlink/internal/session"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory on the device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session, cfg *config.Config, _ *console) error {
			b, err := s.Browser()
			if err != nil {
				return err
			}
			dir := cfg.StartPath
			if len(args) == 1 {
				dir = args[0]
			}
			entries, err := b.Navigate(ctx, dir)
			if err != nil {
				return err
			}
			printListing(b.Cwd(), entries)
			return nil
		})
	},
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse the device filesystem interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session, cfg *config.Config, _ *console) error {
			return browse(ctx, s, cfg)
		})
	},
}

func printListing(dir string, entries []gateway.FsEntry) {
	var sb strings.Builder
	sb.WriteString(dirStyle.Render(dir) + "\n")
	for _, e := range entries {
		name := e.Name
		if e.IsDir() {
			name = dirStyle.Render(name + "/")
		}
		sb.WriteString(nameStyle.Render(name) + "  " + browser.Meta(e) + "\n")
	}
	if len(entries) == 0 {
		sb.WriteString(statusStyle.Render("(empty)") + "\n")
	}
	out.PrintBlock(sb.String(), false)
}

const (
	itemUp      = ".. (up)"
	itemRefresh = "[refresh]"
	itemExit    = "[exit]"
)

func entryLabel(e gateway.FsEntry) string {
	if e.IsDir() {
		return e.Name + "/"
	}
	return fmt.Sprintf("%s  (%s)", e.Name, browser.Meta(e))
}

// browse runs the promptui browser until the user exits.
func browse(ctx context.Context, s *session.Session, cfg *config.Config) error {
	b, err := s.Browser()
	if err != nil {
		return err
	}
	entries, err := b.Refresh(ctx)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		items := []string{itemUp}
		for _, e := range entries {
			items = append(items, entryLabel(e))
		}
		items = append(items, itemRefresh, itemExit)

		prompt := promptui.Select{
			Label: b.Cwd(),
			Items: items,
			Size:  15,
			Searcher: func(input string, index int) bool {
				return strings.Contains(strings.ToLower(items[index]), strings.ToLower(input))
			},
		}
		idx, result, err := choose(&prompt)
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return err
		}

		var next []gateway.FsEntry
		switch result {
		case itemExit:
			return nil
		case itemUp:
			next, err = b.UpDir(ctx)
		case itemRefresh:
			next, err = b.Refresh(ctx)
		default:
			e := entries[idx-1]
			if e.IsDir() {
				next, err = b.Enter(ctx, e.Name)
			} else {
				fileMenu(ctx, s, cfg, e)
				continue
			}
		}
		if err != nil {
			out.Printf("❌ %s\n", session.Describe(err))
			continue
		}
		entries = next
	}
}

func fileMenu(ctx context.Context, s *session.Session, cfg *config.Config, e gateway.FsEntry) {
	prompt := promptui.Select{
		Label: e.Path,
		Items: []string{"Preview", "Pull to current directory", "Back"},
	}
	_, choice, err := choose(&prompt)
	if err != nil {
		return
	}
	switch choice {
	case "Preview":
		err = previewFile(ctx, s, e.Path, cfg.HeadBytes)
	case "Pull to current directory":
		err = pullFile(ctx, s, e.Path, "")
	}
	if err != nil {
		out.Printf("❌ %s\n", session.Describe(err))
	}
}
