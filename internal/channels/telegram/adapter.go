// Package telegram wires a Telegram bot to the conversation manager: it
// receives inbound text via long polling (or a webhook), authorizes the
// sender against an owner allowlist, hands the text to the conversation
// manager, and sends the reply back split into Telegram-sized chunks.
package telegram

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/nexhearth/mimirgo/internal/channels"
	"github.com/nexhearth/mimirgo/internal/channels/chunk"
	"github.com/nexhearth/mimirgo/internal/models"
)

// Mode selects how the adapter receives updates from Telegram.
type Mode string

const (
	ModeLongPolling Mode = "long_polling"
	ModeWebhook     Mode = "webhook"
)

// MessageHandler processes one inbound text message and returns the reply
// to send back, or an empty string to send nothing.
type MessageHandler func(ctx context.Context, text string, user models.UserContext) (string, error)

// Config holds the adapter's configuration.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// Mode selects long polling (default) or webhook delivery.
	Mode Mode

	// WebhookURL is required when Mode is ModeWebhook.
	WebhookURL string

	// AllowedUserIDs restricts which Telegram user IDs may drive the agent.
	// A message from any other sender is dropped after a warning log.
	AllowedUserIDs []int64

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.Mode == "" {
		c.Mode = ModeLongPolling
	}
	if c.Mode == ModeWebhook && c.WebhookURL == "" {
		return channels.ErrConfig("webhook_url is required for webhook mode", nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter is the Telegram channel: it owns the bot connection and forwards
// authorized inbound text to a MessageHandler.
type Adapter struct {
	config    Config
	botClient BotClient
	handler   MessageHandler
	allowed   map[int64]struct{}
	logger    *slog.Logger
}

// NewAdapter validates config and constructs an Adapter. The underlying
// bot connection isn't established until Start.
func NewAdapter(config Config, handler MessageHandler) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	allowed := make(map[int64]struct{}, len(config.AllowedUserIDs))
	for _, id := range config.AllowedUserIDs {
		allowed[id] = struct{}{}
	}
	return &Adapter{
		config:  config,
		handler: handler,
		allowed: allowed,
		logger:  config.Logger.With("adapter", "telegram"),
	}, nil
}

// SetBotClient overrides the bot client, for testing.
func (a *Adapter) SetBotClient(client BotClient) {
	a.botClient = client
}

// Start connects to Telegram and begins dispatching inbound messages. It
// blocks until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	if a.botClient == nil {
		b, err := bot.New(a.config.Token)
		if err != nil {
			return channels.ErrAuthentication("failed to create bot", err)
		}
		a.botClient = newRealBotClient(b)
	}

	a.botClient.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleUpdate)

	a.logger.Info("starting telegram adapter", "mode", a.config.Mode)
	if a.config.Mode == ModeWebhook {
		if _, err := a.botClient.SetWebhook(ctx, &bot.SetWebhookParams{URL: a.config.WebhookURL}); err != nil {
			return channels.ErrConnection("failed to set webhook", err)
		}
		a.botClient.StartWebhook(ctx)
		<-ctx.Done()
		return nil
	}
	a.botClient.Start(ctx)
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	userID := msg.From.ID

	if _, ok := a.allowed[userID]; !ok {
		a.logger.Warn("ignoring message from unauthorized user", "user_id", userID)
		return
	}

	text := msg.Text
	if text == "" {
		return
	}

	user := models.UserContext{
		UserID:      strconv.FormatInt(userID, 10),
		Username:    msg.From.Username,
		DisplayName: friendlyName(msg.From),
		Source:      "telegram",
	}

	a.logger.Debug("received telegram message", "chat_id", msg.Chat.ID, "user_id", userID)

	reply, err := a.handler(ctx, text, user)
	if err != nil {
		a.logger.Error("conversation handler failed", "error", err, "user_id", userID)
		reply = "Something went wrong handling that. Check the logs."
	}
	if reply == "" {
		return
	}

	if err := a.sendMessage(ctx, msg.Chat.ID, reply); err != nil {
		a.logger.Error("failed to send telegram reply", "error", err, "chat_id", msg.Chat.ID)
	}
}

// sendMessage splits text into Telegram-sized chunks and sends each as a
// separate message, matching how the controller's own telegram_bot
// service call would have to split a long reply.
func (a *Adapter) sendMessage(ctx context.Context, chatID int64, text string) error {
	parts := chunk.ForChannel(text, "telegram")
	for _, part := range parts {
		if _, err := a.botClient.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   part,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SendNotification pushes a proactive message to every allowed user,
// addressing each by their Telegram user id as a private chat id.
func (a *Adapter) SendNotification(ctx context.Context, text string) error {
	var firstErr error
	for userID := range a.allowed {
		if err := a.sendMessage(ctx, userID, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func friendlyName(u *tgmodels.User) string {
	if u == nil {
		return ""
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	return name
}
