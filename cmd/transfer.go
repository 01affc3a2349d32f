package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"devlink/internal/browser"
	"devlink/internal/config"
	"devlink/internal/history"
	"devlink/internal/session"
	"devlink/internal/transfer"
	"devlink/internal/util"
)

var recent = history.Default()

var (
	pushDir  string
	pushPerm string
	headN    int
)

var pushCmd = &cobra.Command{
	Use:   "push <local-file>",
	Short: "Upload a file to the device",
	Long:  "Upload a local file as <push_dir>/<basename>. push_dir defaults to /mnt/onboard/.kobo.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		perm, err := parsePerm(pushPerm)
		if err != nil {
			return err
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session, cfg *config.Config, _ *console) error {
			dir := cfg.PushDir
			if pushDir != "" {
				dir = pushDir
			}
			return pushFile(ctx, s, args[0], dir, perm)
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <remote-file> [local-file]",
	Short: "Download a file from the device",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		local := ""
		if len(args) == 2 {
			local = args[1]
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session, _ *config.Config, _ *console) error {
			return pullFile(ctx, s, args[0], local)
		})
	},
}

var headCmd = &cobra.Command{
	Use:   "head <remote-file>",
	Short: "Preview the start of a file on the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session, cfg *config.Config, _ *console) error {
			n := cfg.HeadBytes
			if headN > 0 {
				n = headN
			}
			return previewFile(ctx, s, args[0], n)
		})
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushDir, "dir", "", "destination directory on the device (default push_dir)")
	pushCmd.Flags().StringVar(&pushPerm, "perm", "", "octal permission for the uploaded file, e.g. 0644")
	headCmd.Flags().IntVarP(&headN, "bytes", "n", 0, "bytes to preview (default head_bytes)")
}

func parsePerm(s string) (fs.FileMode, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("invalid --perm %q: want an octal mode like 0644", s)
	}
	return fs.FileMode(v), nil
}

func pushFile(ctx context.Context, s *session.Session, local, dir string, perm fs.FileMode) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", local)
	}

	p, err := s.Push(ctx, session.PushRequest{
		Name:   filepath.Base(local),
		Source: f,
		Size:   fi.Size(),
		Dir:    dir,
		Perm:   perm,
	}, progressView())
	if err != nil {
		return err
	}
	remember(s, p.Path)
	out.Printf("✅ Pushed %s (%s, xxh64 %016x)\n", p.Path, humanize.IBytes(uint64(p.Sent)), p.Digest)
	return nil
}

func remember(s *session.Session, remote string) {
	util.Attempt(appLog, "record history", func() error { return recent.Add(s.DeviceID(), remote) })
}

// remoteSize looks the file up in its parent listing. -1 when unknown.
func remoteSize(ctx context.Context, s *session.Session, remote string) int64 {
	b, err := s.Browser()
	if err != nil {
		return -1
	}
	remote = browser.Normalize(remote)
	entries, err := b.List(ctx, browser.Up(remote))
	if err != nil {
		return -1
	}
	name := browser.Base(remote)
	for _, e := range entries {
		if e.Name == name && !e.IsDir() {
			return int64(e.Size)
		}
	}
	return -1
}

func pullFile(ctx context.Context, s *session.Session, remote, local string) error {
	if local == "" {
		local = browser.Base(browser.Normalize(remote))
	}
	size := remoteSize(ctx, s, remote)

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	p, err := s.Pull(ctx, remote, size, f, progressView())
	closeErr := f.Close()
	if err != nil {
		util.Attempt(appLog, "remove partial download", func() error { return os.Remove(local) })
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	remember(s, p.Path)
	out.Printf("✅ Pulled %s to %s (%s, xxh64 %016x)\n", p.Path, local, humanize.IBytes(uint64(p.Sent)), p.Digest)
	return nil
}

func previewFile(ctx context.Context, s *session.Session, remote string, n int) error {
	if n <= 0 {
		n = transfer.DefaultHeadBytes
	}
	// one extra byte tells a file of exactly n bytes from a longer one
	data, err := s.Head(ctx, remote, n+1)
	if err != nil {
		return err
	}
	truncated := len(data) > n
	if truncated {
		data = data[:n]
	}
	text := strings.ToValidUTF8(string(data), "�")
	out.PrintBlock(text, false)
	if truncated {
		out.Println(statusStyle.Render(fmt.Sprintf("(first %s shown)", humanize.IBytes(uint64(n)))))
	}
	return nil
}
