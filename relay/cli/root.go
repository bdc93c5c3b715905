// Package cli implements the chatrelay command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/ZanzyTHEbar/chatrelay/relay"
	"github.com/ZanzyTHEbar/chatrelay/relay/config"
	"github.com/ZanzyTHEbar/chatrelay/relay/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
	logOut     io.Writer
}

func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (o *globalOptions) logger(cfg *config.Config) zerolog.Logger {
	logCfg := cfg.Log
	if o.verbose {
		logCfg.Level = "debug"
	}
	return logging.New(logCfg, o.logOut)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{logOut: os.Stderr}

	root := &cobra.Command{
		Use:   relay.DefaultAppName,
		Short: "Relay Telegram chats to a chat completion API",
		Long: `chatrelay forwards Telegram messages to an OpenAI-compatible chat
completion endpoint (DeepSeek by default) and replies with the result.

Each user has a persisted transcript that is sent as context with every
message; /reset clears it. Uploaded files are stored in the downloads
directory.

Quick Start:
  export TELEGRAM_TOKEN=... DEEPSEEK_API_KEY=...
  chatrelay serve                     # run the bot
  chatrelay history list              # users with stored transcripts
  chatrelay history export -f yaml    # dump every transcript`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default: search ./config.yaml, ~/.config/chatrelay)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newServeCommand(opts),
		newHistoryCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit: %s, built: %s)\n", relay.DefaultAppName, version, commit, date)
		},
	}
}
