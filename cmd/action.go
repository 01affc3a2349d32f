package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"devlink/internal/config"
	"devlink/internal/session"
)

var actionCmd = &cobra.Command{
	Use:   "action [name]",
	Short: "Run a preset action, or list them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, a := range cfg.Actions {
				out.Println(nameStyle.Render(a.Name) + "  " + statusStyle.Render(a.Command))
			}
			return nil
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session, cfg *config.Config, _ *console) error {
			a, ok := cfg.FindAction(args[0])
			if !ok {
				return fmt.Errorf("no action named %q in %s", args[0], config.ConfigFileName)
			}
			return runAction(ctx, s, a)
		})
	},
}

func runAction(ctx context.Context, s *session.Session, a config.Action) error {
	output, err := s.RunAction(ctx, a.Spec(), a.Capture)
	if err != nil {
		return err
	}
	if a.Capture > 0 && output != "" {
		out.Printf("✅ %s: %s\n", a.Name, output)
		return nil
	}
	out.Printf("✅ %s done\n", a.Name)
	return nil
}
