// Package dispatch routes messenger events to the transcript store, the
// completion client and file intake.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/chatrelay/relay/generation/ports"
	"github.com/ZanzyTHEbar/chatrelay/relay/messenger"
	"github.com/ZanzyTHEbar/chatrelay/relay/transcript"

	"github.com/rs/zerolog"
)

// Fixed replies. Users never see raw errors.
const (
	MsgCompletionFailed = "❌ Error: completion API failed."
	MsgHistoryCleared   = "🧠 Your chat history has been cleared. Start fresh!"
	MsgFileReceived     = "📁 File received: %s"
	MsgUnsupportedFile  = "❌ Unsupported file type."
	MsgIntakeFailed     = "❌ Error: could not download the file."
	MsgRateLimited      = "⏳ Too many messages, please slow down."

	// CommandReset clears the sender's transcript.
	CommandReset = "reset"

	unnamedFileLabel = "image"
)

// errEmptyReply marks a completion without text; the messenger cannot send it.
var errEmptyReply = errors.New("completion returned an empty reply")

// Completer produces the assistant reply for a transcript.
type Completer interface {
	Complete(ctx context.Context, history transcript.Transcript) (string, error)
}

// Downloader stores an attachment locally.
type Downloader interface {
	Download(ctx context.Context, att messenger.Attachment) (string, error)
}

// Dispatcher handles one event at a time; it holds no per-event state.
type Dispatcher struct {
	store      *transcript.Store
	completer  Completer
	downloader Downloader
	sender     messenger.Sender
	limiter    ports.RateLimiter
	logger     zerolog.Logger
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithRateLimiter limits text messages per user.
func WithRateLimiter(limiter ports.RateLimiter) Option {
	return func(d *Dispatcher) {
		d.limiter = limiter
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher wires the collaborators together.
func NewDispatcher(store *transcript.Store, completer Completer, downloader Downloader, sender messenger.Sender, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}

	d := &Dispatcher{
		store:      store,
		completer:  completer,
		downloader: downloader,
		sender:     sender,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Handle routes ev by kind. Errors are logged and turned into fixed replies.
func (d *Dispatcher) Handle(ctx context.Context, ev messenger.Event) {
	logger := d.logger.With().Str("user", ev.UserID).Str("kind", ev.Kind.String()).Logger()

	switch {
	case ev.Kind == messenger.KindText:
		d.handleText(ctx, logger, ev)
	case ev.Kind == messenger.KindCommand && ev.Command == CommandReset:
		d.handleReset(ctx, logger, ev)
	case ev.Kind == messenger.KindFile:
		d.handleFile(ctx, logger, ev)
	default:
		logger.Debug().Str("command", ev.Command).Msg("No handler for event")
	}
}

func (d *Dispatcher) handleText(ctx context.Context, logger zerolog.Logger, ev messenger.Event) {
	if d.limiter != nil {
		if err := d.limiter.Allow(ctx, ev.UserID); err != nil {
			logger.Warn().Err(err).Msg("Message rate limited")
			d.reply(ctx, logger, ev, MsgRateLimited)
			return
		}
	}

	d.store.AppendTurn(ev.UserID, transcript.UserTurn(ev.Text))

	reply, err := d.completer.Complete(ctx, d.store.Context(ev.UserID))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyReply
	}
	if err != nil {
		logger.Error().Err(err).Msg("Completion failed")
		// The user turn stays in the transcript.
		d.commit(ctx, logger, ev.UserID)
		d.reply(ctx, logger, ev, MsgCompletionFailed)
		return
	}

	d.store.AppendTurn(ev.UserID, transcript.AssistantTurn(reply))
	d.commit(ctx, logger, ev.UserID)
	d.reply(ctx, logger, ev, reply)
}

func (d *Dispatcher) handleReset(ctx context.Context, logger zerolog.Logger, ev messenger.Event) {
	d.store.Clear(ev.UserID)
	d.commit(ctx, logger, ev.UserID)
	logger.Info().Msg("Transcript cleared")
	d.reply(ctx, logger, ev, MsgHistoryCleared)
}

func (d *Dispatcher) handleFile(ctx context.Context, logger zerolog.Logger, ev messenger.Event) {
	if ev.Attachment == nil {
		d.reply(ctx, logger, ev, MsgUnsupportedFile)
		return
	}

	if _, err := d.downloader.Download(ctx, *ev.Attachment); err != nil {
		logger.Error().Err(err).Msg("File intake failed")
		d.reply(ctx, logger, ev, MsgIntakeFailed)
		return
	}

	name := ev.Attachment.Name
	if name == "" {
		name = unnamedFileLabel
	}
	d.reply(ctx, logger, ev, fmt.Sprintf(MsgFileReceived, name))
}

// commit persists the user's transcript. A failed write is logged and the
// reply still goes out; the next successful commit catches up.
func (d *Dispatcher) commit(ctx context.Context, logger zerolog.Logger, userID string) {
	if err := d.store.Commit(ctx, userID); err != nil {
		logger.Error().Err(err).Msg("Failed to persist transcript")
	}
}

func (d *Dispatcher) reply(ctx context.Context, logger zerolog.Logger, ev messenger.Event, text string) {
	if err := d.sender.Send(ctx, ev.ChatID, text); err != nil {
		logger.Error().Err(err).Msg("Failed to send reply")
	}
}
