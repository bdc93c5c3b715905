package messenger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ZanzyTHEbar/chatrelay/relay/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Telegram implements Messenger over the Bot API with long polling.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	pollTimeout int
	logger      zerolog.Logger
}

// TelegramOption configures the adapter.
type TelegramOption func(*telegramOptions)

type telegramOptions struct {
	endpoint string
}

// WithAPIEndpoint overrides the Bot API endpoint format
// (default tgbotapi.APIEndpoint).
func WithAPIEndpoint(endpoint string) TelegramOption {
	return func(o *telegramOptions) {
		o.endpoint = endpoint
	}
}

// NewTelegram authenticates the bot token and returns the adapter.
func NewTelegram(cfg config.TelegramConfig, logger zerolog.Logger, opts ...TelegramOption) (*Telegram, error) {
	o := telegramOptions{endpoint: tgbotapi.APIEndpoint}
	for _, opt := range opts {
		opt(&o)
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, o.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize bot: %w", err)
	}
	bot.Debug = cfg.Debug

	logger.Info().Str("bot", bot.Self.UserName).Msg("Authorized on Telegram")

	return &Telegram{
		bot:         bot,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}, nil
}

// Listen starts long polling.
func (t *Telegram) Listen(ctx context.Context) (<-chan Event, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.bot.GetUpdatesChan(u)

	events := make(chan Event)
	go func() {
		defer close(events)
		defer t.bot.StopReceivingUpdates()

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				event, ok := convertUpdate(update)
				if !ok {
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	t.logger.Info().Int("poll_timeout", t.pollTimeout).Msg("Bot is running")
	return events, nil
}

// Send posts a plain text message.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

// FileURL resolves fileID to a direct download URL.
func (t *Telegram) FileURL(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	return url, nil
}

// convertUpdate maps a Bot API update to an Event. Updates without a
// message from a user are dropped.
func convertUpdate(update tgbotapi.Update) (Event, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Event{}, false
	}

	event := Event{
		Kind:   KindOther,
		UserID: strconv.FormatInt(msg.From.ID, 10),
		ChatID: msg.Chat.ID,
		Text:   msg.Text,
	}

	switch {
	case msg.Document != nil:
		event.Kind = KindFile
		event.Attachment = &Attachment{
			FileID:   msg.Document.FileID,
			UniqueID: msg.Document.FileUniqueID,
			Name:     msg.Document.FileName,
		}
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first.
		largest := msg.Photo[len(msg.Photo)-1]
		event.Kind = KindFile
		event.Attachment = &Attachment{
			FileID:   largest.FileID,
			UniqueID: largest.FileUniqueID,
		}
	case msg.Audio != nil, msg.Video != nil, msg.Voice != nil, msg.VideoNote != nil, msg.Animation != nil:
		event.Kind = KindFile
	case msg.IsCommand():
		event.Kind = KindCommand
		event.Command = msg.Command()
	case msg.Text != "":
		event.Kind = KindText
	}

	return event, true
}

// Ensure Telegram implements the Messenger interface.
var _ Messenger = (*Telegram)(nil)
