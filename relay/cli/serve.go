package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/ZanzyTHEbar/chatrelay/relay/config"
	"github.com/ZanzyTHEbar/chatrelay/relay/dispatch"
	"github.com/ZanzyTHEbar/chatrelay/relay/generation"
	"github.com/ZanzyTHEbar/chatrelay/relay/intake"
	"github.com/ZanzyTHEbar/chatrelay/relay/logging"
	"github.com/ZanzyTHEbar/chatrelay/relay/messenger"
	"github.com/ZanzyTHEbar/chatrelay/relay/server"
	"github.com/ZanzyTHEbar/chatrelay/relay/transcript"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long: `Run the bot until interrupted.

The transcript store is loaded once at startup; a malformed snapshot stops
the bot instead of starting with empty history. Context window limits are
reloaded when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func windowFor(cfg config.HistoryConfig) transcript.Window {
	return transcript.Window{
		MaxTurns:  cfg.MaxContextTurns,
		MaxTokens: cfg.MaxContextTokens,
	}
}

func runServe(ctx context.Context, opts *globalOptions) error {
	var live atomic.Pointer[transcript.Store]
	var logger zerolog.Logger

	cfg, err := config.Watch(opts.configPath, func(updated *config.Config, err error) {
		// Reloads before startup finished are ignored; live also publishes logger.
		store := live.Load()
		if store == nil {
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("Ignoring invalid config reload")
			return
		}
		store.SetWindow(windowFor(updated.History))
		logger.Info().
			Int("max_context_turns", updated.History.MaxContextTurns).
			Int("max_context_tokens", updated.History.MaxContextTokens).
			Msg("Context window reloaded")
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger = opts.logger(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	backend, err := transcript.OpenBackend(ctx, cfg.History, logging.Component(logger, "db"))
	if err != nil {
		return err
	}
	defer backend.Close()

	store := transcript.NewStore(backend,
		transcript.WithWindow(windowFor(cfg.History)),
		transcript.WithLogger(logging.Component(logger, "transcript")),
	)
	if err := store.Load(ctx); err != nil {
		if transcript.IsPersistenceError(err) {
			logger.Error().Err(err).Msg("Refusing to start with unreadable history")
		}
		return fmt.Errorf("failed to load transcripts: %w", err)
	}
	live.Store(store)

	tg, err := messenger.NewTelegram(cfg.Telegram, logging.Component(logger, "telegram"))
	if err != nil {
		return err
	}

	factory := generation.NewFactory(cfg, logging.Component(logger, "generation"))
	files := intake.New(tg, cfg.Intake,
		intake.WithHTTPClient(&http.Client{}),
		intake.WithLogger(logging.Component(logger, "intake")),
	)

	dispatcher, err := dispatch.NewDispatcher(store, factory.CreateClient(), files, tg,
		dispatch.WithRateLimiter(factory.CreateRateLimiter()),
		dispatch.WithLogger(logging.Component(logger, "dispatch")),
	)
	if err != nil {
		return err
	}

	events, err := tg.Listen(ctx)
	if err != nil {
		return err
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		dispatch.NewRunner(dispatcher, cfg.Dispatch.Lanes, logging.Component(logger, "runner")).Run(ctx, events)
		if ctx.Err() == nil {
			return errors.New("event stream closed")
		}
		return nil
	})
	if cfg.HTTP.Addr != "" {
		p.Go(func(ctx context.Context) error {
			return server.New(cfg.HTTP.Addr, store, logging.Component(logger, "http")).Run(ctx)
		})
	}

	runErr := p.Wait()

	if err := store.Flush(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Final flush failed")
	}
	logger.Info().Msg("Shutdown complete")
	return runErr
}
