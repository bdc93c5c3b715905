package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/chatrelay/relay/config"
	"github.com/ZanzyTHEbar/chatrelay/relay/logging"
	"github.com/ZanzyTHEbar/chatrelay/relay/transcript"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const previewLength = 50

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage stored transcripts",
		Long: `Offline tools for the configured history backend.

Do not run these against a JSON snapshot while "serve" is running: the bot
overwrites the whole file on its next write.`,
	}

	cmd.AddCommand(
		newHistoryListCommand(opts),
		newHistoryShowCommand(opts),
		newHistoryExportCommand(opts),
		newHistoryResetCommand(opts),
		newHistoryMigrateCommand(opts),
	)
	return cmd
}

// openStore loads the store from the backend selected by history.
func openStore(ctx context.Context, opts *globalOptions, cfg *config.Config, history config.HistoryConfig) (*transcript.Store, func(), error) {
	logger := opts.logger(cfg)
	backend, err := transcript.OpenBackend(ctx, history, logging.Component(logger, "db"))
	if err != nil {
		return nil, nil, err
	}
	store := transcript.NewStore(backend, transcript.WithLogger(logging.Component(logger, "transcript")))
	if err := store.Load(ctx); err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("failed to load transcripts: %w", err)
	}
	return store, func() { _ = backend.Close() }, nil
}

func loadStore(cmd *cobra.Command, opts *globalOptions) (*transcript.Store, func(), error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	return openStore(cmd.Context(), opts, cfg, cfg.History)
}

func newHistoryListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users with a stored transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := loadStore(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			users := store.Users()
			if len(users) == 0 {
				fmt.Fprintln(out, headerStyle.Render("No transcripts stored"))
				return nil
			}

			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d user(s), %d turn(s)", len(users), store.Stats().Turns)))
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "USER\tTURNS\tLAST MESSAGE")
			for _, user := range users {
				t := store.Get(user)
				last := ""
				if len(t) > 0 {
					last = preview(t[len(t)-1].Content)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", user, countStyle.Render(strconv.Itoa(len(t))), dimStyle.Render(last))
			}
			return w.Flush()
		},
	}
}

func newHistoryShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print one user's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := loadStore(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			t := store.Get(args[0])
			if len(t) == 0 {
				return fmt.Errorf("no transcript for user %s", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("User %s (%d turns)", args[0], len(t))))
			for _, turn := range t {
				fmt.Fprintf(out, "%s %s\n", roleStyle(string(turn.Role)).Render(string(turn.Role)+":"), turn.Content)
			}
			return nil
		},
	}
}

func newHistoryExportCommand(opts *globalOptions) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export [user-id]",
		Short: "Export transcripts as JSON or YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := loadStore(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			snapshot := store.Snapshot()
			if len(args) == 1 {
				snapshot = transcript.Snapshot{args[0]: store.Get(args[0])}
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return writeSnapshot(w, snapshot, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format (json, yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func writeSnapshot(w io.Writer, snapshot transcript.Snapshot, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(snapshot)
	default:
		return fmt.Errorf("unsupported format %q (use json or yaml)", format)
	}
}

func newHistoryResetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Clear one user's transcript, like /reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := loadStore(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			store.Clear(args[0])
			if err := store.Commit(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared transcript for %s\n", args[0])
			return nil
		},
	}
}

func newHistoryMigrateCommand(opts *globalOptions) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "migrate --to <backend>",
		Short: "Copy every transcript to another history backend",
		Long: `Copy every transcript from the configured backend to another one.
The target uses the same history settings (path, dsn, bolt_path, redis_*)
with only the backend name replaced. Existing target contents are replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if to == "" || to == cfg.History.Backend {
				return fmt.Errorf("--to must name a backend other than %q", cfg.History.Backend)
			}

			source, closeSource, err := openStore(cmd.Context(), opts, cfg, cfg.History)
			if err != nil {
				return err
			}
			defer closeSource()

			target := cfg.History
			target.Backend = to
			backend, err := transcript.OpenBackend(cmd.Context(), target, opts.logger(cfg))
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := backend.Save(cmd.Context(), source.Snapshot()); err != nil {
				return fmt.Errorf("failed to write %s history: %w", to, err)
			}

			st := source.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d user(s), %d turn(s) from %s to %s\n", st.Users, st.Turns, cfg.History.Backend, to)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Target backend (json, libsql, sqlite, bolt, redis)")
	return cmd
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > previewLength {
		return string(r[:previewLength-3]) + "..."
	}
	return s
}
