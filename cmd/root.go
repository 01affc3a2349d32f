package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"devlink/internal/config"
	"devlink/internal/session"
	"devlink/internal/util"
)

var (
	flagDebug  bool
	flagConfig string

	appLog = zerolog.Nop()
	out    = util.Default
)

// SetLogger installs the logger handed to every session.
func SetLogger(l zerolog.Logger) { appLog = l }

var rootCmd = &cobra.Command{
	Use:   "devlink",
	Short: "Remote command and file sync for an e-reader over SSH",
	Long: `A CLI to tail device logs, run one-shot commands, browse the device
filesystem and push or pull files, all over a single SSH connection.
Run without a subcommand for the interactive menu.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagDebug {
			appLog = appLog.Level(zerolog.DebugLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			if !config.ConfigExists() && flagConfig == "" {
				out.Println("Config file not found")
				out.Println("USAGE:")
				out.Println("Make sure you have the config file by running.")
				out.Println("devlink init")
				return nil
			}
			return err
		}
		return runMenu(cmd.Context(), cfg)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize config file",
	Long:  `Generate a default devlink.yaml config file in the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetConfigPath()
		if flagConfig != "" {
			path = flagConfig
		}
		if _, err := os.Stat(path); err == nil {
			out.Println("Config file already exists.")
			return nil
		}
		if err := config.Write(path, config.Default()); err != nil {
			return err
		}
		out.Printf("✅ Created %s\n", path)
		out.Println("💡 Set host and either password or private_key before connecting")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "write debug level logs")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to devlink.yaml")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(actionCmd)
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	return config.LoadAndValidateConfig()
}

// ExecuteContext runs the command tree. The returned error has already been
// printed.
func ExecuteContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s\n", session.Describe(err))
		return err
	}
	return nil
}
