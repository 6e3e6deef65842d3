// Package notify delivery of position events to users
package notify

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// Sender delivery channel
type Sender interface {
	Send(ctx context.Context, userID, text string) error
	Name() string
}

// LogSender writes messages to log, used when no bot token is configured
type LogSender struct{}

// Send to log
func (LogSender) Send(_ context.Context, userID, text string) error {
	log.WithField("user", userID).Info("notify / ", text)
	return nil
}

// Name of sender
func (LogSender) Name() string { return "log" }

// TelegramSender sends HTML messages to private chat of user. User id is telegram chat id
type TelegramSender struct {
	Bot *tgbotapi.BotAPI
}

// NewTelegramSender Constructor, checks token with getMe
func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "notify / NewTelegramSender")
	}
	log.WithField("bot", bot.Self.UserName).Info("notify / telegram bot authorized")
	return &TelegramSender{Bot: bot}, nil
}

// NewTelegramSenderWithEndpoint Constructor for custom bot api server
func NewTelegramSenderWithEndpoint(token, endpoint string, client tgbotapi.HTTPClient) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "notify / NewTelegramSenderWithEndpoint")
	}
	return &TelegramSender{Bot: bot}, nil
}

// Send message
func (t *TelegramSender) Send(_ context.Context, userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "notify / telegram / user id %q isn't a chat id", userID)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err = t.Bot.Send(msg); err != nil {
		return errors.Wrap(err, "notify / telegram / send")
	}
	return nil
}

// Name of sender
func (t *TelegramSender) Name() string { return "telegram" }
