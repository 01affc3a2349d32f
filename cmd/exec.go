package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"devlink/internal/config"
	"devlink/internal/process"
	"devlink/internal/session"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail the device log",
	Long:  "Run log_command (logread -f by default) on the device and stream its output until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session, cfg *config.Config, con *console) error {
			con.reset()
			if err := s.StartLogTail(ctx, cfg.LogSpec()); err != nil {
				return err
			}
			return con.wait(ctx, s, process.LogTail, nil)
		})
	},
}

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute a command on the device",
	Long:  `Run sh -c "<command>" on the device and stream its output. The whole input is quoted once; embedded quotes are passed through as typed.`,
	// Treat everything after 'exec' as the remote command; do not parse local flags
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Usage()
		}
		input := strings.Join(args, " ")
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session, cfg *config.Config, con *console) error {
			con.reset()
			if err := s.RunCommand(ctx, input, cfg.Output()); err != nil {
				return err
			}
			return con.wait(ctx, s, process.AdHocCommand, nil)
		})
	},
}
